// Package types provides shared type definitions used across curator packages.
// This package exists to break import cycles between the agent manager, the
// analysis service, and the storage layer. Types in this package should be
// foundational data structures with no complex dependencies.
package types

import (
	"time"
)

// =============================================================================
// TASKS
// =============================================================================

// TaskKind identifies what a task does when it reaches a slot.
type TaskKind string

const (
	TaskFileAnalysis  TaskKind = "file-analysis"
	TaskBatchAnalysis TaskKind = "batch-analysis"
	TaskHealthCheck   TaskKind = "health-check"
)

// RequiresInference reports whether the kind dispatches a model call and
// therefore needs a non-zero memory estimate.
func (k TaskKind) RequiresInference() bool {
	return k == TaskFileAnalysis || k == TaskBatchAnalysis
}

// TaskPriority orders tasks in the ready queue. Lower ordinal is more urgent.
type TaskPriority int

const (
	PriorityCritical TaskPriority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityBackground
)

func (p TaskPriority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityBackground:
		return "background"
	default:
		return "unknown"
	}
}

// TaskState tracks a task through its lifecycle.
// Transitions: queued -> running -> {completed|failed|cancelled|timed-out},
// plus queued -> cancelled. Terminal states never transition again.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
	TaskTimedOut  TaskState = "timed-out"
)

// Terminal reports whether the state admits no further transitions.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled, TaskTimedOut:
		return true
	}
	return false
}

// TaskMetadata carries the opaque payload a task needs at execution time.
type TaskMetadata struct {
	FileID       string       `json:"file_id,omitempty"`
	Model        string       `json:"model,omitempty"`
	Prompt       string       `json:"prompt,omitempty"`
	AnalysisKind AnalysisKind `json:"analysis_kind,omitempty"`
	RequestID    string       `json:"request_id,omitempty"`
	// ResponseFormat declares what the prompt asks the model to emit:
	// "json" for a structured object, "text" for free text.
	ResponseFormat string `json:"response_format,omitempty"`
}

// Task is one unit of inference work owned by the agent manager.
type Task struct {
	ID          string
	Kind        TaskKind
	Priority    TaskPriority
	State       TaskState
	CreatedAt   time.Time
	StartedAt   time.Time // zero until admitted
	CompletedAt time.Time // zero until terminal

	Timeout     time.Duration
	RetryCount  int
	MaxRetries  int
	EstimatedMB int64 // estimated memory footprint in MiB

	Metadata TaskMetadata

	// Result and Error are populated when the task reaches a terminal state.
	Result *TaskResult
	Error  string
}

// TaskResult is the outcome the executor reports for one attempt.
type TaskResult struct {
	TaskID          string
	Success         bool
	Result          string // raw model output for successful inference tasks
	Error           string
	ErrorKind       ErrorKind
	ExecutionTimeMs int64
	MemoryUsedMB    int64

	// WillRetry is set on failure events when the scheduler re-queues the
	// same task for another attempt; consumers should not treat such a
	// failure as terminal.
	WillRetry bool
}

// Slot is a running-task reservation holding allocated memory.
// Invariant: the sum of AllocatedMB across active slots never exceeds
// the current memory budget.
type Slot struct {
	ID          string
	TaskID      string
	AllocatedMB int64
	StartedAt   time.Time
	Active      bool
}

// =============================================================================
// ANALYSIS REQUESTS
// =============================================================================

// AnalysisKind names a per-file analysis the user can ask for.
type AnalysisKind string

const (
	KindRenameSuggestions  AnalysisKind = "rename-suggestions"
	KindClassification     AnalysisKind = "classification"
	KindContentSummary     AnalysisKind = "content-summary"
	KindMetadataExtraction AnalysisKind = "metadata-extraction"
)

// Valid reports whether k is a known analysis kind.
func (k AnalysisKind) Valid() bool {
	switch k {
	case KindRenameSuggestions, KindClassification, KindContentSummary, KindMetadataExtraction:
		return true
	}
	return false
}

// RequestPhase tracks an analysis request through its lifecycle.
type RequestPhase string

const (
	PhaseInitializing RequestPhase = "initializing"
	PhaseAnalyzing    RequestPhase = "analyzing"
	PhaseComplete     RequestPhase = "complete"
	PhaseError        RequestPhase = "error"
	PhaseCancelled    RequestPhase = "cancelled"
)

// AnalysisRequest is the user-facing unit of work handed to the analysis
// service. Either FileIDs or RootPath must be set.
type AnalysisRequest struct {
	ID            string
	FileIDs       []string
	RootPath      string
	Kinds         []AnalysisKind
	Interactive   bool
	PriorityHint  *TaskPriority // optional; interactive/background mapping applies when nil
	ModelOverride string        // wins over the service routing table when set
}

// Progress holds the per-request mutable counters published on each tick
// and on change.
type Progress struct {
	RequestID      string
	Phase          RequestPhase
	TotalFiles     int
	ProcessedFiles int
	CompletedFiles int
	FailedFiles    int
	CurrentFile    string
	ErrorRate      float64
	ETARemaining   time.Duration
	UpdatedAt      time.Time
}

// SessionResult summarizes a finished request.
type SessionResult struct {
	RequestID        string
	TotalTasks       int
	Successful       int
	Failed           int
	TotalExecutionMs int64
	AvgExecutionMs   int64
	CompletedAt      time.Time
	Errors           []string // first 10 error messages
}

// =============================================================================
// SUGGESTIONS
// =============================================================================

// ValidationFlag marks an issue the confidence scorer found in a candidate.
type ValidationFlag string

const (
	FlagParseError       ValidationFlag = "parse-error"
	FlagEmptyValue       ValidationFlag = "empty-value"
	FlagIllegalChars     ValidationFlag = "illegal-characters"
	FlagTooLong          ValidationFlag = "too-long"
	FlagExtensionChanged ValidationFlag = "extension-changed"
)

// Suggestion is one ranked, scored candidate produced from a model response
// for a (file, kind) pair.
type Suggestion struct {
	ID                 string
	FileID             string
	Kind               AnalysisKind
	Value              string
	OriginalConfidence int // raw model confidence, 0-100
	AdjustedConfidence int // penalty-adjusted, clamped to 0-100
	QualityScore       float64
	Reasoning          string
	Model              string
	DurationMs         int64
	Rank               int // 1-based within (file, kind); 0 when unranked
	Recommended        bool
	Flags              []ValidationFlag
	CreatedAt          time.Time
}

// Flagged reports whether the suggestion carries any validation flag.
func (s *Suggestion) Flagged() bool { return len(s.Flags) > 0 }

// =============================================================================
// FILES
// =============================================================================

// FileRecord is the store's view of one indexed file.
type FileRecord struct {
	ID           string
	Path         string // absolute
	Name         string
	Extension    string // with leading dot, lowercase
	SizeBytes    int64
	ModifiedAt   int64 // epoch seconds
	ParentDir    string
	RelativePath string
	MIMEType     string
}

// SizeMB returns the file size in MiB.
func (f FileRecord) SizeMB() float64 {
	return float64(f.SizeBytes) / (1024 * 1024)
}
