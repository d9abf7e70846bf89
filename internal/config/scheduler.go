package config

// SchedulerConfig configures the agent manager's admission policy.
type SchedulerConfig struct {
	// MaxConcurrentSlots caps running tasks regardless of memory headroom.
	MaxConcurrentSlots int `yaml:"max_concurrent_slots"`

	// SafetyFactor pads memory estimates when deriving the budget.
	SafetyFactor float64 `yaml:"safety_factor"`

	// OSReservedMB is memory held back for the OS and other processes.
	OSReservedMB int64 `yaml:"os_reserved_mb"`

	// TaskTimeoutMs is the default per-task timeout when the generator
	// does not compute one.
	TaskTimeoutMs int64 `yaml:"task_timeout_ms"`

	// RecomputeIntervalMs drives periodic slot capacity recomputes.
	// Zero disables the periodic recompute; explicit recomputes still work.
	RecomputeIntervalMs int64 `yaml:"recompute_interval_ms"`
}

// DefaultSchedulerConfig returns the default agent manager settings.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrentSlots:  4,
		SafetyFactor:        1.5,
		OSReservedMB:        2048,
		TaskTimeoutMs:       300_000,
		RecomputeIntervalMs: 30_000,
	}
}
