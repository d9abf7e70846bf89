package types

// Event payloads published by the core. Components expose typed
// subscription methods instead of a process-wide emitter; these are the
// payload shapes those callbacks receive.

// TaskCancelledEvent is published when a task leaves the system without
// running to completion.
type TaskCancelledEvent struct {
	TaskID string
	Reason string
}

// SlotsRecomputedEvent is published after a capacity recompute changes the
// effective slot count or memory budget.
type SlotsRecomputedEvent struct {
	PreviousSlots int
	NewSlots      int
	BudgetBytes   int64
}

// EmergencyStopEvent is published once when the agent manager drops to a
// slotless state.
type EmergencyStopEvent struct {
	Reason string
}

// SystemHealthEvent is published whenever the scheduler's aggregate health
// transitions between "ok", "no-budget" and "emergency-stopped".
type SystemHealthEvent struct {
	Health         string
	SlotsTotal     int
	SlotsAvailable int
	BudgetMB       int64
}

// PreviewUpdateEvent carries one file's finished analysis together with a
// progress snapshot. Emission order matches task completion order within a
// request.
type PreviewUpdateEvent struct {
	RequestID   string
	FileID      string
	Kind        AnalysisKind
	Result      *TaskResult
	Suggestions []Suggestion
	Progress    Progress
}

// AnalysisErrorEvent is published when a request terminates in error.
type AnalysisErrorEvent struct {
	RequestID string
	Reason    string
	Kind      ErrorKind
}

// EmergencyModeEvent is published when the analysis service enters or
// exits emergency mode.
type EmergencyModeEvent struct {
	Entered        bool
	Reason         string
	CooldownMs     int64
	ActiveRequests int
}
