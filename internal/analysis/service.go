// Package analysis coordinates per-request pipelines: task generation,
// inference scheduling, confidence scoring, suggestion persistence, and
// progress publication. A single service goroutine owns all request state,
// so events within a request are observed and re-emitted in completion
// order.
package analysis

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"curator/internal/config"
	"curator/internal/events"
	"curator/internal/logging"
	"curator/internal/scoring"
	"curator/internal/taskgen"
	"curator/internal/types"
)

// Scheduler is the slice of the agent manager the service consumes.
type Scheduler interface {
	Submit(task types.Task) (string, error)
	Cancel(taskID, reason string) bool
	OnTaskCompleted(fn func(types.TaskResult))
	OnTaskFailed(fn func(types.TaskResult))
	OnTaskCancelled(fn func(types.TaskCancelledEvent))
}

// Service owns active analysis requests. Construct with NewService,
// register subscriptions, then Start.
type Service struct {
	cfg          config.AnalysisConfig
	store        types.Store
	sched        Scheduler
	scorer       *scoring.Scorer
	gen          *taskgen.Generator
	defaultModel string

	inbox chan message
	stop  chan struct{}
	done  chan struct{}

	emitter *events.Emitter

	// routing maps analysis kinds to models; seeded at Start, read-only after.
	routing map[types.AnalysisKind]string

	// Subscriptions; registered before Start, read-only afterwards.
	onStarted   []func(requestID string)
	onProgress  []func(types.Progress)
	onPreview   []func(types.PreviewUpdateEvent)
	onComplete  []func(types.SessionResult)
	onCancelled []func(requestID string)
	onError     []func(types.AnalysisErrorEvent)
	onEmergency []func(types.EmergencyModeEvent)

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewService wires the analysis service over the store and scheduler.
// defaultModel backs the routing table when neither persisted preferences
// nor configuration name a model. The task generator is created here so
// its submissions register request tracking before the scheduler can run
// them.
func NewService(cfg config.AnalysisConfig, genCfg config.TaskGenConfig, store types.Store, sched Scheduler, estimator taskgen.ModelEstimator, defaultModel string) *Service {
	s := &Service{
		cfg:          cfg,
		store:        store,
		sched:        sched,
		scorer:       scoring.NewScorer(),
		defaultModel: defaultModel,
		inbox:        make(chan message, 256),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		emitter:      events.NewEmitter(),
		routing:      make(map[types.AnalysisKind]string),
	}
	s.gen = taskgen.NewGenerator(genCfg, store, estimator, s.submitTask)

	sched.OnTaskCompleted(func(res types.TaskResult) { s.send(taskCompletedMsg{result: res}) })
	sched.OnTaskFailed(func(res types.TaskResult) { s.send(taskFailedMsg{result: res}) })
	sched.OnTaskCancelled(func(evt types.TaskCancelledEvent) { s.send(taskCancelledMsg{event: evt}) })
	return s
}

// OnAnalysisStarted registers a request-accepted callback. Call before Start.
func (s *Service) OnAnalysisStarted(fn func(requestID string)) { s.onStarted = append(s.onStarted, fn) }

// OnProgressUpdate registers a periodic progress callback. Call before Start.
func (s *Service) OnProgressUpdate(fn func(types.Progress)) { s.onProgress = append(s.onProgress, fn) }

// OnPreviewUpdate registers a per-file result callback; emission order
// matches task completion order. Call before Start.
func (s *Service) OnPreviewUpdate(fn func(types.PreviewUpdateEvent)) {
	s.onPreview = append(s.onPreview, fn)
}

// OnAnalysisComplete registers a finalization callback. Call before Start.
func (s *Service) OnAnalysisComplete(fn func(types.SessionResult)) {
	s.onComplete = append(s.onComplete, fn)
}

// OnAnalysisCancelled registers a cancellation callback. Call before Start.
func (s *Service) OnAnalysisCancelled(fn func(requestID string)) {
	s.onCancelled = append(s.onCancelled, fn)
}

// OnAnalysisError registers a request-error callback. Call before Start.
func (s *Service) OnAnalysisError(fn func(types.AnalysisErrorEvent)) {
	s.onError = append(s.onError, fn)
}

// OnEmergencyMode registers an emergency enter/exit callback. Call before Start.
func (s *Service) OnEmergencyMode(fn func(types.EmergencyModeEvent)) {
	s.onEmergency = append(s.onEmergency, fn)
}

// Start seeds the model routing table from persisted preferences and
// launches the service loop.
func (s *Service) Start(ctx context.Context) error {
	s.startOnce.Do(func() {
		prefs, err := s.store.GetModelPreferences(ctx)
		if err != nil {
			logging.Analysis("Model preferences unavailable, using defaults: %v", err)
			prefs = types.ModelPreferences{}
		}
		s.seedRouting(prefs)

		s.emitter.Start()
		go s.run()
		logging.Analysis("Analysis service started (max_concurrent=%d, error_threshold=%d)",
			s.cfg.MaxConcurrentAnalysis, s.cfg.ErrorThreshold)
	})
	return nil
}

// Stop shuts the service loop down. Active requests are left to the
// scheduler's own shutdown; persisted sessions keep their last state.
func (s *Service) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// seedRouting builds the kind→model table: defaults, then persisted
// preferences, then explicit configuration.
func (s *Service) seedRouting(prefs types.ModelPreferences) {
	main, sub := s.defaultModel, s.defaultModel
	if prefs.Main != "" {
		main = prefs.Main
	}
	if prefs.Sub != "" {
		sub = prefs.Sub
	}
	s.routing[types.KindRenameSuggestions] = main
	s.routing[types.KindClassification] = main
	s.routing[types.KindContentSummary] = sub
	s.routing[types.KindMetadataExtraction] = sub

	for kind, model := range s.cfg.Models {
		if model != "" {
			s.routing[types.AnalysisKind(kind)] = model
		}
	}
	logging.Analysis("Model routing seeded (main=%s, sub=%s, overrides=%d)", main, sub, len(s.cfg.Models))
}

// StartAnalysis validates and registers the request, generates its tasks,
// and returns the request identifier. Rejected in emergency mode with an
// ai-model-unavailable classification.
func (s *Service) StartAnalysis(ctx context.Context, req types.AnalysisRequest) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	reply := make(chan error, 1)
	if err := s.sendWait(registerRequestMsg{req: req, reply: reply}); err != nil {
		return "", err
	}
	if err := <-reply; err != nil {
		return "", err
	}

	session := types.AnalysisSession{
		ID:        uuid.NewString(),
		RequestID: req.ID,
		Status:    "running",
		StartedAt: time.Now().Unix(),
	}
	if err := s.store.CreateAnalysisSession(ctx, session); err != nil {
		logging.Analysis("Failed to persist session for request %s: %v", req.ID, err)
	}
	s.send(attachSessionMsg{requestID: req.ID, session: session})

	result, err := s.gen.Generate(ctx, req, s.modelFor(req))
	if err != nil {
		s.send(failRequestMsg{requestID: req.ID, reason: err.Error(), kind: types.Classify(err)})
		return "", err
	}

	s.send(beginAnalyzingMsg{requestID: req.ID, total: result.CreatedCount, skipped: result.SkippedCount})
	logging.Analysis("Request %s generating done: %d tasks, %d skipped", req.ID, result.CreatedCount, result.SkippedCount)
	return req.ID, nil
}

// CancelAnalysis cancels an active request and all of its tasks.
func (s *Service) CancelAnalysis(requestID, reason string) bool {
	reply := make(chan bool, 1)
	if err := s.sendWait(cancelRequestMsg{requestID: requestID, reason: reason, reply: reply}); err != nil {
		return false
	}
	return <-reply
}

// GetProgress returns the live progress snapshot of an active request.
func (s *Service) GetProgress(requestID string) (types.Progress, bool) {
	reply := make(chan progressReply, 1)
	if err := s.sendWait(getProgressMsg{requestID: requestID, reply: reply}); err != nil {
		return types.Progress{}, false
	}
	r := <-reply
	return r.progress, r.ok
}

// GetResults returns the per-file results accumulated so far for an
// active request. Finalized requests are dropped from memory and report
// false; their suggestions remain readable per file from the store.
func (s *Service) GetResults(requestID string) ([]types.PreviewUpdateEvent, bool) {
	reply := make(chan resultsReply, 1)
	if err := s.sendWait(getResultsMsg{requestID: requestID, reply: reply}); err != nil {
		return nil, false
	}
	r := <-reply
	return r.results, r.ok
}

// modelFor resolves the model for each kind of one request: an explicit
// request override wins over the routing table.
func (s *Service) modelFor(req types.AnalysisRequest) func(types.AnalysisKind) string {
	return func(kind types.AnalysisKind) string {
		if req.ModelOverride != "" {
			return req.ModelOverride
		}
		if model, ok := s.routing[kind]; ok {
			return model
		}
		return s.defaultModel
	}
}

// submitTask is the generator's submitter: it registers request tracking
// before handing the task to the scheduler, so a completion event can
// never outrun its mapping.
func (s *Service) submitTask(task types.Task, file types.FileRecord) (string, error) {
	task.ID = uuid.NewString()
	task.MaxRetries = s.cfg.RetryAttempts

	reply := make(chan error, 1)
	if err := s.sendWait(mapTaskMsg{task: task, file: file, reply: reply}); err != nil {
		return "", err
	}
	if err := <-reply; err != nil {
		return "", err
	}

	id, err := s.sched.Submit(task)
	if err != nil {
		s.send(unmapTaskMsg{taskID: task.ID})
		return "", err
	}
	return id, nil
}

func (s *Service) send(msg message) {
	select {
	case s.inbox <- msg:
	case <-s.done:
	}
}

func (s *Service) sendWait(msg message) error {
	select {
	case s.inbox <- msg:
		return nil
	case <-s.done:
		return types.Errorf(types.ErrKindValidation, "analysis service stopped")
	}
}

// =============================================================================
// SERVICE LOOP
// =============================================================================

type message interface{}

type registerRequestMsg struct {
	req   types.AnalysisRequest
	reply chan error
}

type attachSessionMsg struct {
	requestID string
	session   types.AnalysisSession
}

type mapTaskMsg struct {
	task  types.Task
	file  types.FileRecord
	reply chan error
}

type unmapTaskMsg struct{ taskID string }

type beginAnalyzingMsg struct {
	requestID string
	total     int
	skipped   int
}

type failRequestMsg struct {
	requestID string
	reason    string
	kind      types.ErrorKind
}

type cancelRequestMsg struct {
	requestID string
	reason    string
	reply     chan bool
}

type getProgressMsg struct {
	requestID string
	reply     chan progressReply
}

type progressReply struct {
	progress types.Progress
	ok       bool
}

type getResultsMsg struct {
	requestID string
	reply     chan resultsReply
}

type resultsReply struct {
	results []types.PreviewUpdateEvent
	ok      bool
}

type taskCompletedMsg struct{ result types.TaskResult }
type taskFailedMsg struct{ result types.TaskResult }
type taskCancelledMsg struct{ event types.TaskCancelledEvent }
type exitEmergencyMsg struct{}

// taskRef is the per-task context needed to score its result.
type taskRef struct {
	requestID string
	file      types.FileRecord
	kind      types.AnalysisKind
	model     string
}

// requestState is everything the loop tracks for one active request.
type requestState struct {
	req       types.AnalysisRequest
	session   types.AnalysisSession
	progress  types.Progress
	taskIDs   map[string]struct{}
	total     int
	generated bool

	results    []types.PreviewUpdateEvent
	execTimes  []int64
	errors     []string
	successful int
	failed     int
	startedAt  time.Time
}

func (rs *requestState) processed() int { return rs.successful + rs.failed }

// serviceState is owned exclusively by the service goroutine.
type serviceState struct {
	requests map[string]*requestState
	tasks    map[string]taskRef

	emergency         bool
	consecutiveErrors int
	emergencyTimer    *time.Timer
}

func (s *Service) run() {
	st := &serviceState{
		requests: make(map[string]*requestState),
		tasks:    make(map[string]taskRef),
	}

	interval := time.Duration(s.cfg.ProgressUpdateIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.inbox:
			s.handle(st, msg)
		case <-ticker.C:
			s.publishProgressTick(st)
		case <-s.stop:
			if st.emergencyTimer != nil {
				st.emergencyTimer.Stop()
			}
			s.emitter.Close()
			close(s.done)
			logging.Analysis("Analysis service stopped")
			return
		}
	}
}

func (s *Service) handle(st *serviceState, msg message) {
	switch m := msg.(type) {
	case registerRequestMsg:
		m.reply <- s.registerRequest(st, m.req)
	case attachSessionMsg:
		if rs, ok := st.requests[m.requestID]; ok {
			rs.session = m.session
		}
	case mapTaskMsg:
		m.reply <- s.mapTask(st, m.task, m.file)
	case unmapTaskMsg:
		s.unmapTask(st, m.taskID)
	case beginAnalyzingMsg:
		s.beginAnalyzing(st, m)
	case failRequestMsg:
		s.failRequest(st, m.requestID, m.reason, m.kind)
	case cancelRequestMsg:
		m.reply <- s.cancelRequest(st, m.requestID, m.reason)
	case getProgressMsg:
		if rs, ok := st.requests[m.requestID]; ok {
			m.reply <- progressReply{progress: rs.progress, ok: true}
		} else {
			m.reply <- progressReply{}
		}
	case getResultsMsg:
		if rs, ok := st.requests[m.requestID]; ok {
			out := make([]types.PreviewUpdateEvent, len(rs.results))
			copy(out, rs.results)
			m.reply <- resultsReply{results: out, ok: true}
		} else {
			m.reply <- resultsReply{}
		}
	case taskCompletedMsg:
		s.handleTaskCompleted(st, m.result)
	case taskFailedMsg:
		s.handleTaskFailed(st, m.result)
	case taskCancelledMsg:
		s.handleTaskCancelled(st, m.event)
	case exitEmergencyMsg:
		s.exitEmergency(st)
	}
}

func (s *Service) registerRequest(st *serviceState, req types.AnalysisRequest) error {
	if st.emergency {
		return types.Errorf(types.ErrKindModelUnavailable, "analysis service is in emergency mode")
	}
	if _, exists := st.requests[req.ID]; exists {
		return types.Errorf(types.ErrKindValidation, "request %s is already active", req.ID)
	}
	if active := len(st.requests); active >= s.cfg.MaxConcurrentAnalysis {
		return types.Errorf(types.ErrKindValidation, "too many active requests (%d)", active)
	}

	now := time.Now()
	st.requests[req.ID] = &requestState{
		req: req,
		progress: types.Progress{
			RequestID: req.ID,
			Phase:     types.PhaseInitializing,
			UpdatedAt: now,
		},
		taskIDs:   make(map[string]struct{}),
		startedAt: now,
	}

	logging.Analysis("Request %s accepted (%d kinds, interactive=%v)", req.ID, len(req.Kinds), req.Interactive)
	s.emitter.Publish(func() {
		for _, fn := range s.onStarted {
			fn(req.ID)
		}
	})
	return nil
}

func (s *Service) mapTask(st *serviceState, task types.Task, file types.FileRecord) error {
	rs, ok := st.requests[task.Metadata.RequestID]
	if !ok {
		return types.Errorf(types.ErrKindValidation, "request %s is not active", task.Metadata.RequestID)
	}
	st.tasks[task.ID] = taskRef{
		requestID: task.Metadata.RequestID,
		file:      file,
		kind:      task.Metadata.AnalysisKind,
		model:     task.Metadata.Model,
	}
	rs.taskIDs[task.ID] = struct{}{}
	rs.progress.TotalFiles++
	return nil
}

func (s *Service) unmapTask(st *serviceState, taskID string) {
	ref, ok := st.tasks[taskID]
	if !ok {
		return
	}
	delete(st.tasks, taskID)
	if rs, ok := st.requests[ref.requestID]; ok {
		delete(rs.taskIDs, taskID)
		rs.progress.TotalFiles--
	}
}

func (s *Service) beginAnalyzing(st *serviceState, m beginAnalyzingMsg) {
	rs, ok := st.requests[m.requestID]
	if !ok {
		return
	}
	rs.generated = true
	rs.total = m.total
	rs.progress.Phase = types.PhaseAnalyzing
	rs.progress.TotalFiles = m.total
	rs.progress.UpdatedAt = time.Now()
	s.maybeFinalize(st, rs)
}

func (s *Service) handleTaskCompleted(st *serviceState, result types.TaskResult) {
	ref, ok := st.tasks[result.TaskID]
	if !ok {
		return
	}
	rs, ok := st.requests[ref.requestID]
	if !ok {
		delete(st.tasks, result.TaskID)
		return
	}
	delete(st.tasks, result.TaskID)
	delete(rs.taskIDs, result.TaskID)

	suggestions := s.scorer.Score(ref.file, ref.kind, ref.model, result.ExecutionTimeMs, result.Result)
	if err := s.store.SaveSuggestions(context.Background(), suggestions); err != nil {
		logging.Analysis("Failed to persist %d suggestions for file %s: %v", len(suggestions), ref.file.ID, err)
		s.recordFailure(st, rs, fmt.Sprintf("file %s: failed to persist suggestions: %v", ref.file.ID, err))
		s.maybeFinalize(st, rs)
		return
	}

	rs.successful++
	rs.execTimes = append(rs.execTimes, result.ExecutionTimeMs)
	rs.progress.CompletedFiles = rs.successful
	rs.progress.ProcessedFiles = rs.processed()
	rs.progress.CurrentFile = ref.file.Name
	rs.progress.ErrorRate = errorRate(rs)
	rs.progress.UpdatedAt = time.Now()
	st.consecutiveErrors = 0

	preview := types.PreviewUpdateEvent{
		RequestID:   ref.requestID,
		FileID:      ref.file.ID,
		Kind:        ref.kind,
		Result:      &result,
		Suggestions: suggestions,
		Progress:    rs.progress,
	}
	rs.results = append(rs.results, preview)

	s.emitter.Publish(func() {
		for _, fn := range s.onPreview {
			fn(preview)
		}
	})

	s.maybeFinalize(st, rs)
}

func (s *Service) handleTaskFailed(st *serviceState, result types.TaskResult) {
	ref, ok := st.tasks[result.TaskID]
	if !ok {
		return
	}

	// The scheduler re-queues retriable failures under the same task id;
	// only the terminal attempt counts against the request.
	if result.WillRetry {
		logging.AnalysisDebug("Task %s failed but will retry: %s", result.TaskID, result.Error)
		return
	}

	rs, ok := st.requests[ref.requestID]
	if !ok {
		delete(st.tasks, result.TaskID)
		return
	}
	delete(st.tasks, result.TaskID)
	delete(rs.taskIDs, result.TaskID)

	s.recordFailure(st, rs, fmt.Sprintf("file %s (%s): %s", ref.file.ID, ref.kind, result.Error))

	st.consecutiveErrors++
	if !st.emergency && st.consecutiveErrors >= s.cfg.ErrorThreshold {
		s.enterEmergency(st, fmt.Sprintf("%d consecutive task failures", st.consecutiveErrors))
		return
	}

	s.maybeFinalize(st, rs)
}

func (s *Service) recordFailure(st *serviceState, rs *requestState, msg string) {
	rs.failed++
	rs.errors = append(rs.errors, msg)
	rs.progress.FailedFiles = rs.failed
	rs.progress.ProcessedFiles = rs.processed()
	rs.progress.ErrorRate = errorRate(rs)
	rs.progress.UpdatedAt = time.Now()
}

func (s *Service) handleTaskCancelled(st *serviceState, evt types.TaskCancelledEvent) {
	ref, ok := st.tasks[evt.TaskID]
	if !ok {
		return
	}
	delete(st.tasks, evt.TaskID)
	rs, ok := st.requests[ref.requestID]
	if !ok {
		return
	}
	delete(rs.taskIDs, evt.TaskID)

	// Cancelled tasks leave the request's denominator so the remainder
	// can still finalize.
	rs.total--
	rs.progress.TotalFiles--
	s.maybeFinalize(st, rs)
}

func (s *Service) maybeFinalize(st *serviceState, rs *requestState) {
	if !rs.generated || rs.processed() < rs.total {
		return
	}
	s.finalize(st, rs)
}

func (s *Service) finalize(st *serviceState, rs *requestState) {
	var totalMs int64
	for _, ms := range rs.execTimes {
		totalMs += ms
	}
	var avgMs int64
	if len(rs.execTimes) > 0 {
		avgMs = totalMs / int64(len(rs.execTimes))
	}

	errs := rs.errors
	if len(errs) > 10 {
		errs = errs[:10]
	}

	session := types.SessionResult{
		RequestID:        rs.req.ID,
		TotalTasks:       rs.total,
		Successful:       rs.successful,
		Failed:           rs.failed,
		TotalExecutionMs: totalMs,
		AvgExecutionMs:   avgMs,
		CompletedAt:      time.Now(),
		Errors:           errs,
	}

	rs.progress.Phase = types.PhaseComplete
	s.persistSessionUpdate(rs, "complete")
	delete(st.requests, rs.req.ID)

	logging.Analysis("Request %s complete: %d/%d successful, %d failed, avg=%dms",
		rs.req.ID, rs.successful, rs.total, rs.failed, avgMs)
	s.emitter.Publish(func() {
		for _, fn := range s.onComplete {
			fn(session)
		}
	})
}

func (s *Service) failRequest(st *serviceState, requestID, reason string, kind types.ErrorKind) {
	rs, ok := st.requests[requestID]
	if !ok {
		return
	}
	s.dropRequestTasks(st, rs, reason)
	rs.progress.Phase = types.PhaseError
	s.persistSessionUpdate(rs, "error")
	delete(st.requests, requestID)

	logging.Analysis("Request %s failed: %s (%s)", requestID, reason, kind)
	evt := types.AnalysisErrorEvent{RequestID: requestID, Reason: reason, Kind: kind}
	s.emitter.Publish(func() {
		for _, fn := range s.onError {
			fn(evt)
		}
	})
}

func (s *Service) cancelRequest(st *serviceState, requestID, reason string) bool {
	rs, ok := st.requests[requestID]
	if !ok {
		return false
	}
	s.dropRequestTasks(st, rs, reason)
	rs.progress.Phase = types.PhaseCancelled
	s.persistSessionUpdate(rs, "cancelled")
	delete(st.requests, requestID)

	logging.Analysis("Request %s cancelled: %s", requestID, reason)
	s.emitter.Publish(func() {
		for _, fn := range s.onCancelled {
			fn(requestID)
		}
	})
	return true
}

// dropRequestTasks cancels every outstanding task of a request and
// removes its mappings.
func (s *Service) dropRequestTasks(st *serviceState, rs *requestState, reason string) {
	for taskID := range rs.taskIDs {
		delete(st.tasks, taskID)
		s.sched.Cancel(taskID, reason)
	}
	rs.taskIDs = make(map[string]struct{})
}

func (s *Service) persistSessionUpdate(rs *requestState, status string) {
	if rs.session.ID == "" {
		return
	}
	rs.session.Status = status
	rs.session.TotalFiles = rs.total
	rs.session.Completed = rs.successful
	rs.session.Failed = rs.failed
	rs.session.CompletedAt = time.Now().Unix()
	if err := s.store.UpdateAnalysisSession(context.Background(), rs.session); err != nil {
		logging.Analysis("Failed to update session %s: %v", rs.session.ID, err)
	}
}

func (s *Service) enterEmergency(st *serviceState, reason string) {
	st.emergency = true
	cooldown := time.Duration(s.cfg.EmergencyCooldownMs) * time.Millisecond
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}

	active := len(st.requests)
	logging.Analysis("EMERGENCY MODE: %s (cancelling %d requests, cooldown=%v)", reason, active, cooldown)

	evt := types.EmergencyModeEvent{
		Entered:        true,
		Reason:         reason,
		CooldownMs:     cooldown.Milliseconds(),
		ActiveRequests: active,
	}
	s.emitter.Publish(func() {
		for _, fn := range s.onEmergency {
			fn(evt)
		}
	})

	for id := range st.requests {
		s.failRequest(st, id, "emergency mode: "+reason, types.ErrKindModelUnavailable)
	}

	st.emergencyTimer = time.AfterFunc(cooldown, func() {
		s.send(exitEmergencyMsg{})
	})
}

func (s *Service) exitEmergency(st *serviceState) {
	if !st.emergency {
		return
	}
	st.emergency = false
	st.consecutiveErrors = 0
	logging.Analysis("Emergency mode cooldown elapsed, accepting work again")

	evt := types.EmergencyModeEvent{Entered: false, Reason: "cooldown elapsed"}
	s.emitter.Publish(func() {
		for _, fn := range s.onEmergency {
			fn(evt)
		}
	})
}

// publishProgressTick recomputes the time estimate for every analyzing
// request and publishes a progress update.
func (s *Service) publishProgressTick(st *serviceState) {
	concurrency := s.cfg.MaxConcurrentAnalysis
	if concurrency < 1 {
		concurrency = 1
	}

	for _, rs := range st.requests {
		if rs.progress.Phase != types.PhaseAnalyzing {
			continue
		}
		remaining := rs.total - rs.processed()
		var eta time.Duration
		if len(rs.execTimes) > 0 && remaining > 0 {
			var totalMs int64
			for _, ms := range rs.execTimes {
				totalMs += ms
			}
			avgMs := float64(totalMs) / float64(len(rs.execTimes))
			eta = time.Duration(math.Ceil(float64(remaining)*avgMs/float64(concurrency))) * time.Millisecond
		}
		rs.progress.ETARemaining = eta
		rs.progress.UpdatedAt = time.Now()

		snapshot := rs.progress
		s.emitter.Publish(func() {
			for _, fn := range s.onProgress {
				fn(snapshot)
			}
		})
	}
}

func errorRate(rs *requestState) float64 {
	if rs.processed() == 0 {
		return 0
	}
	return float64(rs.failed) / float64(rs.processed())
}
