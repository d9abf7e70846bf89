package config

// InferenceConfig configures the local inference daemon connection.
type InferenceConfig struct {
	// Endpoint is the Ollama-compatible HTTP base URL.
	Endpoint string `yaml:"endpoint"`

	// DefaultModel is used when neither the request nor the routing table
	// names one.
	DefaultModel string `yaml:"default_model"`

	// FallbackModel is the cheaper model the recovery manager falls back
	// to on resource exhaustion. Empty disables model fallback.
	FallbackModel string `yaml:"fallback_model"`

	// RequestTimeoutMs bounds a single HTTP call to the daemon.
	RequestTimeoutMs int64 `yaml:"request_timeout_ms"`

	// CloudFallback enables the Google GenAI backend as a last-resort
	// fallback when the local daemon is unreachable. Requires
	// GEMINI_API_KEY in the environment.
	CloudFallback      bool   `yaml:"cloud_fallback"`
	CloudFallbackModel string `yaml:"cloud_fallback_model"`
}

// DefaultInferenceConfig returns the default daemon connection settings.
func DefaultInferenceConfig() InferenceConfig {
	return InferenceConfig{
		Endpoint:           "http://localhost:11434",
		DefaultModel:       "llama3.1:8b",
		FallbackModel:      "llama3.2:3b",
		RequestTimeoutMs:   300_000,
		CloudFallback:      false,
		CloudFallbackModel: "gemini-2.0-flash",
	}
}
