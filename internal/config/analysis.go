package config

// AnalysisConfig configures the analysis service pipeline.
type AnalysisConfig struct {
	// MaxConcurrentAnalysis caps simultaneously active requests.
	MaxConcurrentAnalysis int `yaml:"max_concurrent_analysis"`

	// DefaultTimeoutMs bounds a single analysis task when the generator
	// produces no estimate.
	DefaultTimeoutMs int64 `yaml:"default_timeout_ms"`

	// RetryAttempts is the scheduler-level retry budget given to each task.
	RetryAttempts int `yaml:"retry_attempts"`

	// BatchProcessingSize bounds result batches written to the store.
	BatchProcessingSize int `yaml:"batch_processing_size"`

	// ProgressUpdateIntervalMs drives the periodic progress tick.
	ProgressUpdateIntervalMs int64 `yaml:"progress_update_interval_ms"`

	// ErrorThreshold is the consecutive-failure count that trips
	// emergency mode.
	ErrorThreshold int `yaml:"error_threshold"`

	// EmergencyCooldownMs is how long emergency mode lasts before the
	// service accepts work again.
	EmergencyCooldownMs int64 `yaml:"emergency_cooldown_ms"`

	// Models routes analysis kinds to model names. Keys are analysis kind
	// strings; missing keys fall back to the persisted preferences.
	Models map[string]string `yaml:"models"`
}

// DefaultAnalysisConfig returns the default analysis service settings.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		MaxConcurrentAnalysis:    5,
		DefaultTimeoutMs:         45_000,
		RetryAttempts:            2,
		BatchProcessingSize:      25,
		ProgressUpdateIntervalMs: 2_000,
		ErrorThreshold:           10,
		EmergencyCooldownMs:      300_000,
		Models:                   map[string]string{},
	}
}
