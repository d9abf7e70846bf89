package config

// TaskGenConfig configures the task generator.
type TaskGenConfig struct {
	// BatchSize is how many tasks are created before the generator pauses
	// to avoid back-pressuring the scheduler queue.
	BatchSize int `yaml:"batch_size"`

	// BatchPauseMs is the throttling pause between batches.
	BatchPauseMs int64 `yaml:"batch_pause_ms"`

	// DefaultTimeoutMs is the base component of the per-file timeout.
	DefaultTimeoutMs int64 `yaml:"default_timeout_ms"`

	// MaxConcurrentTasks is advisory parallelism used for duration
	// estimates.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`

	// SupportedExtensions lists file extensions eligible for analysis
	// (leading dot, lowercase). Files outside the set are skipped.
	SupportedExtensions []string `yaml:"supported_extensions"`
}

// DefaultTaskGenConfig returns the default task generator settings.
func DefaultTaskGenConfig() TaskGenConfig {
	return TaskGenConfig{
		BatchSize:          50,
		BatchPauseMs:       50,
		DefaultTimeoutMs:   30_000,
		MaxConcurrentTasks: 10,
		SupportedExtensions: []string{
			".pdf", ".doc", ".docx", ".txt", ".md", ".rtf", ".odt",
			".xls", ".xlsx", ".csv", ".ppt", ".pptx",
			".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg", ".heic",
			".mp3", ".wav", ".flac", ".m4a",
			".mp4", ".mov", ".avi", ".mkv", ".webm",
			".zip", ".tar", ".gz", ".rar", ".7z",
			".json", ".xml", ".yaml", ".yml", ".html",
		},
	}
}
