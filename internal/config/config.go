// Package config holds all curator configuration, loaded from
// .curator/config.yaml with defaults defined in code. Each orchestration
// concern keeps its block in its own file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all curator configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Inference daemon connection
	Inference InferenceConfig `yaml:"inference"`

	// Agent manager (priority scheduler)
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Analysis service
	Analysis AnalysisConfig `yaml:"analysis"`

	// Error recovery manager
	Recovery RecoveryConfig `yaml:"recovery"`

	// Task generator
	TaskGen TaskGenConfig `yaml:"task_generator"`

	// Storage
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "curator",
		Version: "0.9.0",

		Inference: DefaultInferenceConfig(),
		Scheduler: DefaultSchedulerConfig(),
		Analysis:  DefaultAnalysisConfig(),
		Recovery:  DefaultRecoveryConfig(),
		TaskGen:   DefaultTaskGenConfig(),

		Store: StoreConfig{
			DatabasePath: filepath.Join(".curator", "curator.db"),
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from workspace/.curator/config.yaml, applying
// defaults for anything unset. A missing file is not an error.
func Load(workspace string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(workspace, ".curator", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes the configuration back to workspace/.curator/config.yaml.
func Save(workspace string, cfg *Config) error {
	dir := filepath.Join(workspace, ".curator")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides lets the environment win for daemon connectivity, so a
// non-default Ollama host works without editing the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CURATOR_OLLAMA_URL"); v != "" {
		cfg.Inference.Endpoint = v
	}
	if v := os.Getenv("CURATOR_MODEL"); v != "" {
		cfg.Inference.DefaultModel = v
	}
	if v := os.Getenv("CURATOR_DB_PATH"); v != "" {
		cfg.Store.DatabasePath = v
	}
}
