package types

import (
	"context"
)

// Store defines the persistence contract the orchestration core consumes.
// The SQLite implementation lives in internal/store; tests substitute fakes.
type Store interface {
	// GetFilesByIDs resolves file records by identifier. Unknown identifiers
	// are silently dropped from the result.
	GetFilesByIDs(ctx context.Context, ids []string) ([]FileRecord, error)

	// GetFilesByRootPath returns every indexed file under the given root.
	GetFilesByRootPath(ctx context.Context, root string) ([]FileRecord, error)

	// GetModelPreferences returns the persisted model routing preferences.
	GetModelPreferences(ctx context.Context) (ModelPreferences, error)

	// SaveSuggestions persists scored suggestions transactionally.
	SaveSuggestions(ctx context.Context, suggestions []Suggestion) error

	// GetSuggestionsByFile returns persisted suggestions for one file,
	// ordered by (kind, rank).
	GetSuggestionsByFile(ctx context.Context, fileID string) ([]Suggestion, error)

	// CreateAnalysisSession records a new session row for a request.
	CreateAnalysisSession(ctx context.Context, session AnalysisSession) error

	// UpdateAnalysisSession updates the session row on finalization.
	UpdateAnalysisSession(ctx context.Context, session AnalysisSession) error

	// Transaction runs fn inside a single write transaction.
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ModelPreferences holds the persisted model routing seed.
type ModelPreferences struct {
	Main     string // rename / classification
	Sub      string // summary / metadata
	Endpoint string
}

// AnalysisSession is the persisted record of one analysis request.
type AnalysisSession struct {
	ID          string
	RequestID   string
	Status      string // running, complete, error, cancelled
	TotalFiles  int
	Completed   int
	Failed      int
	StartedAt   int64 // epoch seconds
	CompletedAt int64 // epoch seconds, 0 while running
	Summary     string
}

// GenerateOptions tunes a single inference call.
type GenerateOptions struct {
	// Format is "json" to request a structured object, empty for free text.
	Format      string
	Temperature float32
	MaxTokens   int
}

// GenerateResult is the raw outcome of one inference call.
type GenerateResult struct {
	Response        string
	ExecutionTimeMs int64
}

// ModelInfo describes one model the inference daemon can serve.
type ModelInfo struct {
	Name          string
	SizeBytes     int64
	Family        string
	ParameterSize string // e.g. "7B", "13B"
	Quantization  string
}

// HealthStatus is the inference daemon's self-reported health.
type HealthStatus struct {
	Status     string // "healthy", "degraded", "unavailable"
	Messages   []string
	ModelCount int
}

// InferenceClient defines the contract against the local inference daemon.
// Long-running Generate calls must honor context cancellation by aborting
// the underlying request.
type InferenceClient interface {
	Generate(ctx context.Context, model, prompt string, opts GenerateOptions) (*GenerateResult, error)
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// EstimateMemory returns the expected resident footprint of a model in
	// bytes, preferring live daemon-reported figures over size heuristics.
	EstimateMemory(ctx context.Context, model string) (int64, error)

	HealthStatus(ctx context.Context) (HealthStatus, error)
}
