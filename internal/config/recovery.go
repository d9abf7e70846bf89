package config

// RecoveryConfig configures the error recovery manager.
type RecoveryConfig struct {
	// MaxConsecutiveFailures flips the recovery mode to degraded.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`

	// RecoveryTimeoutMs bounds a single recovery cycle.
	RecoveryTimeoutMs int64 `yaml:"recovery_timeout_ms"`

	// CircuitBreakerThreshold opens a breaker after this many
	// consecutive failures on one operation name.
	CircuitBreakerThreshold int `yaml:"circuit_breaker_threshold"`

	// CircuitBreakerResetTimeMs is how long a breaker stays open,
	// measured from its last failure.
	CircuitBreakerResetTimeMs int64 `yaml:"circuit_breaker_reset_time_ms"`

	// MaxRetryAttempts bounds attempts per operation.
	MaxRetryAttempts int `yaml:"max_retry_attempts"`

	// RetryBackoffMultiplier grows the sleep between attempts.
	RetryBackoffMultiplier float64 `yaml:"retry_backoff_multiplier"`

	// FallbackTimeoutMs bounds the fallback operation.
	FallbackTimeoutMs int64 `yaml:"fallback_timeout_ms"`
}

// DefaultRecoveryConfig returns the default recovery manager settings.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		MaxConsecutiveFailures:    5,
		RecoveryTimeoutMs:         30_000,
		CircuitBreakerThreshold:   10,
		CircuitBreakerResetTimeMs: 60_000,
		MaxRetryAttempts:          3,
		RetryBackoffMultiplier:    2,
		FallbackTimeoutMs:         10_000,
	}
}
