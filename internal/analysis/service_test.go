package analysis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"curator/internal/config"
	"curator/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeScheduler records submissions and lets tests fire completion events.
type fakeScheduler struct {
	mu        sync.Mutex
	submitted []types.Task
	cancelled []string
	submitErr error

	onCompleted func(types.TaskResult)
	onFailed    func(types.TaskResult)
	onCancelled func(types.TaskCancelledEvent)
}

func (f *fakeScheduler) Submit(task types.Task) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, task)
	return task.ID, nil
}

func (f *fakeScheduler) Cancel(taskID, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, taskID)
	return true
}

func (f *fakeScheduler) OnTaskCompleted(fn func(types.TaskResult)) { f.onCompleted = fn }

func (f *fakeScheduler) OnTaskFailed(fn func(types.TaskResult)) { f.onFailed = fn }

func (f *fakeScheduler) OnTaskCancelled(fn func(types.TaskCancelledEvent)) { f.onCancelled = fn }

func (f *fakeScheduler) tasks() []types.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Task, len(f.submitted))
	copy(out, f.submitted)
	return out
}

func (f *fakeScheduler) cancelledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.cancelled))
	copy(out, f.cancelled)
	return out
}

func (f *fakeScheduler) complete(taskID, raw string, ms int64) {
	f.onCompleted(types.TaskResult{TaskID: taskID, Success: true, Result: raw, ExecutionTimeMs: ms})
}

func (f *fakeScheduler) fail(taskID, msg string, kind types.ErrorKind, willRetry bool) {
	f.onFailed(types.TaskResult{TaskID: taskID, Success: false, Error: msg, ErrorKind: kind, WillRetry: willRetry})
}

// serviceStore is an in-memory stand-in for the SQLite store.
type serviceStore struct {
	types.Store

	mu      sync.Mutex
	files   map[string]types.FileRecord
	prefs   types.ModelPreferences
	saved   [][]types.Suggestion
	created []types.AnalysisSession
	updated []types.AnalysisSession
	saveErr error
}

func (s *serviceStore) GetFilesByIDs(_ context.Context, ids []string) ([]types.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.FileRecord
	for _, id := range ids {
		if f, ok := s.files[id]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *serviceStore) GetModelPreferences(context.Context) (types.ModelPreferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs, nil
}

func (s *serviceStore) SaveSuggestions(_ context.Context, suggestions []types.Suggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, suggestions)
	return nil
}

func (s *serviceStore) CreateAnalysisSession(_ context.Context, session types.AnalysisSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, session)
	return nil
}

func (s *serviceStore) UpdateAnalysisSession(_ context.Context, session types.AnalysisSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated = append(s.updated, session)
	return nil
}

func (s *serviceStore) lastUpdate() (types.AnalysisSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updated) == 0 {
		return types.AnalysisSession{}, false
	}
	return s.updated[len(s.updated)-1], true
}

type fixedEstimator struct{ mb int64 }

func (e *fixedEstimator) FootprintMB(context.Context, string) (int64, error) { return e.mb, nil }

// eventRec buffers every subscription on channels.
type eventRec struct {
	started   chan string
	progress  chan types.Progress
	preview   chan types.PreviewUpdateEvent
	complete  chan types.SessionResult
	cancelled chan string
	errs      chan types.AnalysisErrorEvent
	emergency chan types.EmergencyModeEvent
}

func newEventRec(s *Service) *eventRec {
	r := &eventRec{
		started:   make(chan string, 64),
		progress:  make(chan types.Progress, 256),
		preview:   make(chan types.PreviewUpdateEvent, 64),
		complete:  make(chan types.SessionResult, 64),
		cancelled: make(chan string, 64),
		errs:      make(chan types.AnalysisErrorEvent, 64),
		emergency: make(chan types.EmergencyModeEvent, 64),
	}
	s.OnAnalysisStarted(func(id string) { r.started <- id })
	s.OnProgressUpdate(func(p types.Progress) {
		select {
		case r.progress <- p:
		default:
		}
	})
	s.OnPreviewUpdate(func(e types.PreviewUpdateEvent) { r.preview <- e })
	s.OnAnalysisComplete(func(res types.SessionResult) { r.complete <- res })
	s.OnAnalysisCancelled(func(id string) { r.cancelled <- id })
	s.OnAnalysisError(func(e types.AnalysisErrorEvent) { r.errs <- e })
	s.OnEmergencyMode(func(e types.EmergencyModeEvent) { r.emergency <- e })
	return r
}

func recv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func testAnalysisConfig() config.AnalysisConfig {
	cfg := config.DefaultAnalysisConfig()
	cfg.ProgressUpdateIntervalMs = 60_000 // ticks off unless a test wants them
	cfg.RetryAttempts = 1
	return cfg
}

func startService(t *testing.T, cfg config.AnalysisConfig, store *serviceStore, sched *fakeScheduler) (*Service, *eventRec) {
	t.Helper()
	genCfg := config.DefaultTaskGenConfig()
	genCfg.BatchPauseMs = 0

	svc := NewService(cfg, genCfg, store, sched, &fixedEstimator{mb: 1024}, "llama3.1:8b")
	rec := newEventRec(svc)
	require.NoError(t, svc.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, svc.Stop(ctx))
	})
	return svc, rec
}

func analysisFiles(n int) map[string]types.FileRecord {
	files := make(map[string]types.FileRecord, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("f%d", i+1)
		files[id] = types.FileRecord{
			ID:        id,
			Path:      "/data/" + id + ".pdf",
			Name:      id + ".pdf",
			Extension: ".pdf",
			SizeBytes: 1_024_000,
			ParentDir: "/data",
		}
	}
	return files
}

func fileIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("f%d", i+1)
	}
	return ids
}

const goodResponse = `{"candidates":[{"value":"quarterly_report.pdf","confidence":90,"reasoning":"clear title"}]}`

func TestSingleFileAnalysis(t *testing.T) {
	store := &serviceStore{files: analysisFiles(1)}
	sched := &fakeScheduler{}
	svc, rec := startService(t, testAnalysisConfig(), store, sched)

	id, err := svc.StartAnalysis(context.Background(), types.AnalysisRequest{
		FileIDs: fileIDs(1),
		Kinds:   []types.AnalysisKind{types.KindRenameSuggestions},
	})
	require.NoError(t, err)
	assert.Equal(t, id, recv(t, rec.started, "analysis-started"))

	tasks := sched.tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, 1, tasks[0].MaxRetries, "retry budget from configuration")

	sched.complete(tasks[0].ID, goodResponse, 1500)

	preview := recv(t, rec.preview, "preview-update")
	assert.Equal(t, id, preview.RequestID)
	assert.Equal(t, "f1", preview.FileID)
	assert.Equal(t, types.KindRenameSuggestions, preview.Kind)
	require.NotEmpty(t, preview.Suggestions)
	assert.Equal(t, "quarterly_report.pdf", preview.Suggestions[0].Value)
	assert.True(t, preview.Suggestions[0].Recommended)
	assert.Equal(t, 1, preview.Progress.CompletedFiles)

	result := recv(t, rec.complete, "analysis-complete")
	assert.Equal(t, id, result.RequestID)
	assert.Equal(t, 1, result.TotalTasks)
	assert.Equal(t, 1, result.Successful)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, int64(1500), result.AvgExecutionMs)
	assert.Empty(t, result.Errors)

	store.mu.Lock()
	saved, created := len(store.saved), len(store.created)
	store.mu.Unlock()
	assert.Equal(t, 1, saved, "suggestions persisted")
	assert.Equal(t, 1, created, "session row created")

	update, ok := store.lastUpdate()
	require.True(t, ok)
	assert.Equal(t, "complete", update.Status)
	assert.Equal(t, 1, update.Completed)
}

func TestRetriedFailureIsNotTerminal(t *testing.T) {
	store := &serviceStore{files: analysisFiles(1)}
	sched := &fakeScheduler{}
	svc, rec := startService(t, testAnalysisConfig(), store, sched)

	id, err := svc.StartAnalysis(context.Background(), types.AnalysisRequest{
		FileIDs: fileIDs(1),
		Kinds:   []types.AnalysisKind{types.KindClassification},
	})
	require.NoError(t, err)
	recv(t, rec.started, "analysis-started")

	tasks := sched.tasks()
	require.Len(t, tasks, 1)

	// First attempt times out but the scheduler re-queues it; only the
	// eventual completion counts.
	sched.fail(tasks[0].ID, "task timed out after 5s", types.ErrKindModelTimeout, true)
	sched.complete(tasks[0].ID, goodResponse, 900)

	result := recv(t, rec.complete, "analysis-complete")
	assert.Equal(t, id, result.RequestID)
	assert.Equal(t, 1, result.Successful)
	assert.Equal(t, 0, result.Failed)
}

func TestTerminalFailureCountsAgainstRequest(t *testing.T) {
	store := &serviceStore{files: analysisFiles(2)}
	sched := &fakeScheduler{}
	svc, rec := startService(t, testAnalysisConfig(), store, sched)

	_, err := svc.StartAnalysis(context.Background(), types.AnalysisRequest{
		FileIDs: fileIDs(2),
		Kinds:   []types.AnalysisKind{types.KindContentSummary},
	})
	require.NoError(t, err)
	recv(t, rec.started, "analysis-started")

	tasks := sched.tasks()
	require.Len(t, tasks, 2)

	sched.complete(tasks[0].ID, goodResponse, 1000)
	sched.fail(tasks[1].ID, "model refused", types.ErrKindResponseInvalid, false)

	result := recv(t, rec.complete, "analysis-complete")
	assert.Equal(t, 1, result.Successful)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "model refused")

	update, ok := store.lastUpdate()
	require.True(t, ok)
	assert.Equal(t, "complete", update.Status)
	assert.Equal(t, 1, update.Failed)
}

func TestPreviewOrderMatchesCompletionOrder(t *testing.T) {
	store := &serviceStore{files: analysisFiles(3)}
	sched := &fakeScheduler{}
	svc, rec := startService(t, testAnalysisConfig(), store, sched)

	_, err := svc.StartAnalysis(context.Background(), types.AnalysisRequest{
		FileIDs: fileIDs(3),
		Kinds:   []types.AnalysisKind{types.KindRenameSuggestions},
	})
	require.NoError(t, err)
	recv(t, rec.started, "analysis-started")

	tasks := sched.tasks()
	require.Len(t, tasks, 3)

	// Completion order deliberately differs from submission order.
	sched.complete(tasks[2].ID, goodResponse, 100)
	sched.complete(tasks[0].ID, goodResponse, 100)
	sched.complete(tasks[1].ID, goodResponse, 100)

	want := []string{tasks[2].Metadata.FileID, tasks[0].Metadata.FileID, tasks[1].Metadata.FileID}
	for i, fileID := range want {
		preview := recv(t, rec.preview, "preview-update")
		assert.Equal(t, fileID, preview.FileID, "preview %d", i)
	}
	recv(t, rec.complete, "analysis-complete")
}

func TestCancelAnalysis(t *testing.T) {
	store := &serviceStore{files: analysisFiles(2)}
	sched := &fakeScheduler{}
	svc, rec := startService(t, testAnalysisConfig(), store, sched)

	id, err := svc.StartAnalysis(context.Background(), types.AnalysisRequest{
		FileIDs: fileIDs(2),
		Kinds:   []types.AnalysisKind{types.KindClassification},
	})
	require.NoError(t, err)
	recv(t, rec.started, "analysis-started")

	require.True(t, svc.CancelAnalysis(id, "user changed their mind"))
	assert.Equal(t, id, recv(t, rec.cancelled, "analysis-cancelled"))
	assert.Len(t, sched.cancelledIDs(), 2, "both outstanding tasks cancelled")

	_, ok := svc.GetProgress(id)
	assert.False(t, ok, "request state dropped")
	assert.False(t, svc.CancelAnalysis(id, "again"), "second cancel is a no-op")

	update, ok := store.lastUpdate()
	require.True(t, ok)
	assert.Equal(t, "cancelled", update.Status)
}

func TestValidationFailureEmitsAnalysisError(t *testing.T) {
	store := &serviceStore{files: analysisFiles(1)}
	sched := &fakeScheduler{}
	svc, rec := startService(t, testAnalysisConfig(), store, sched)

	_, err := svc.StartAnalysis(context.Background(), types.AnalysisRequest{
		FileIDs: fileIDs(1),
		Kinds:   []types.AnalysisKind{"palm-reading"},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrKindValidation, types.Classify(err))

	recv(t, rec.started, "analysis-started")
	evt := recv(t, rec.errs, "analysis-error")
	assert.Equal(t, types.ErrKindValidation, evt.Kind)
}

func TestEmergencyModeTripAndCooldown(t *testing.T) {
	cfg := testAnalysisConfig()
	cfg.ErrorThreshold = 3
	cfg.EmergencyCooldownMs = 50

	store := &serviceStore{files: analysisFiles(3)}
	sched := &fakeScheduler{}
	svc, rec := startService(t, cfg, store, sched)

	id, err := svc.StartAnalysis(context.Background(), types.AnalysisRequest{
		FileIDs: fileIDs(3),
		Kinds:   []types.AnalysisKind{types.KindClassification},
	})
	require.NoError(t, err)
	recv(t, rec.started, "analysis-started")

	for _, task := range sched.tasks() {
		sched.fail(task.ID, "daemon crashed", types.ErrKindModelUnavailable, false)
	}

	entered := recv(t, rec.emergency, "emergency enter")
	assert.True(t, entered.Entered)
	assert.Equal(t, 1, entered.ActiveRequests)

	evt := recv(t, rec.errs, "analysis-error for the active request")
	assert.Equal(t, id, evt.RequestID)
	assert.Equal(t, types.ErrKindModelUnavailable, evt.Kind)

	// New work is rejected until the cooldown elapses.
	_, err = svc.StartAnalysis(context.Background(), types.AnalysisRequest{
		FileIDs: fileIDs(1),
		Kinds:   []types.AnalysisKind{types.KindClassification},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrKindModelUnavailable, types.Classify(err))

	exited := recv(t, rec.emergency, "emergency exit")
	assert.False(t, exited.Entered)

	_, err = svc.StartAnalysis(context.Background(), types.AnalysisRequest{
		FileIDs: fileIDs(1),
		Kinds:   []types.AnalysisKind{types.KindClassification},
	})
	assert.NoError(t, err, "accepting work again after cooldown")
}

func TestProgressTicksCarryETA(t *testing.T) {
	cfg := testAnalysisConfig()
	cfg.ProgressUpdateIntervalMs = 20

	store := &serviceStore{files: analysisFiles(2)}
	sched := &fakeScheduler{}
	svc, rec := startService(t, cfg, store, sched)

	id, err := svc.StartAnalysis(context.Background(), types.AnalysisRequest{
		FileIDs: fileIDs(2),
		Kinds:   []types.AnalysisKind{types.KindContentSummary},
	})
	require.NoError(t, err)
	recv(t, rec.started, "analysis-started")

	tasks := sched.tasks()
	require.Len(t, tasks, 2)
	sched.complete(tasks[0].ID, goodResponse, 2000)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case p := <-rec.progress:
			if p.ProcessedFiles != 1 {
				continue
			}
			assert.Equal(t, id, p.RequestID)
			assert.Equal(t, types.PhaseAnalyzing, p.Phase)
			assert.Equal(t, 2, p.TotalFiles)
			assert.Greater(t, p.ETARemaining, time.Duration(0), "one task's average projects the remainder")
			return
		case <-deadline:
			t.Fatal("no progress tick after first completion")
		}
	}
}

func TestGetProgressAndResults(t *testing.T) {
	store := &serviceStore{files: analysisFiles(2)}
	sched := &fakeScheduler{}
	svc, rec := startService(t, testAnalysisConfig(), store, sched)

	id, err := svc.StartAnalysis(context.Background(), types.AnalysisRequest{
		FileIDs: fileIDs(2),
		Kinds:   []types.AnalysisKind{types.KindRenameSuggestions},
	})
	require.NoError(t, err)
	recv(t, rec.started, "analysis-started")

	progress, ok := svc.GetProgress(id)
	require.True(t, ok)
	assert.Equal(t, types.PhaseAnalyzing, progress.Phase)
	assert.Equal(t, 2, progress.TotalFiles)
	assert.Equal(t, 0, progress.ProcessedFiles)

	tasks := sched.tasks()
	sched.complete(tasks[0].ID, goodResponse, 800)
	recv(t, rec.preview, "preview-update")

	results, ok := svc.GetResults(id)
	require.True(t, ok)
	require.Len(t, results, 1)
	assert.Equal(t, tasks[0].Metadata.FileID, results[0].FileID)

	_, ok = svc.GetProgress("no-such-request")
	assert.False(t, ok)

	// Finalization drops the request from memory; both queries report it
	// gone while its suggestions stay persisted.
	sched.complete(tasks[1].ID, goodResponse, 800)
	recv(t, rec.complete, "analysis-complete")
	_, ok = svc.GetProgress(id)
	assert.False(t, ok)
	_, ok = svc.GetResults(id)
	assert.False(t, ok)
}

func TestModelRouting(t *testing.T) {
	store := &serviceStore{
		files: analysisFiles(1),
		prefs: types.ModelPreferences{Main: "qwen2.5:14b", Sub: "llama3.2:3b"},
	}
	sched := &fakeScheduler{}
	svc, rec := startService(t, testAnalysisConfig(), store, sched)

	_, err := svc.StartAnalysis(context.Background(), types.AnalysisRequest{
		FileIDs: fileIDs(1),
		Kinds:   []types.AnalysisKind{types.KindRenameSuggestions, types.KindContentSummary},
	})
	require.NoError(t, err)
	recv(t, rec.started, "analysis-started")

	tasks := sched.tasks()
	require.Len(t, tasks, 2)
	byKind := map[types.AnalysisKind]string{}
	for _, task := range tasks {
		byKind[task.Metadata.AnalysisKind] = task.Metadata.Model
	}
	assert.Equal(t, "qwen2.5:14b", byKind[types.KindRenameSuggestions], "main model serves renames")
	assert.Equal(t, "llama3.2:3b", byKind[types.KindContentSummary], "sub model serves summaries")
}

func TestModelOverrideWinsOverRouting(t *testing.T) {
	store := &serviceStore{
		files: analysisFiles(1),
		prefs: types.ModelPreferences{Main: "qwen2.5:14b"},
	}
	sched := &fakeScheduler{}
	svc, rec := startService(t, testAnalysisConfig(), store, sched)

	_, err := svc.StartAnalysis(context.Background(), types.AnalysisRequest{
		FileIDs:       fileIDs(1),
		Kinds:         []types.AnalysisKind{types.KindRenameSuggestions},
		ModelOverride: "mistral:7b",
	})
	require.NoError(t, err)
	recv(t, rec.started, "analysis-started")

	tasks := sched.tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "mistral:7b", tasks[0].Metadata.Model)
}

func TestConfiguredModelOverridesPreferences(t *testing.T) {
	cfg := testAnalysisConfig()
	cfg.Models = map[string]string{string(types.KindContentSummary): "gemma2:9b"}

	store := &serviceStore{
		files: analysisFiles(1),
		prefs: types.ModelPreferences{Sub: "llama3.2:3b"},
	}
	sched := &fakeScheduler{}
	svc, rec := startService(t, cfg, store, sched)

	_, err := svc.StartAnalysis(context.Background(), types.AnalysisRequest{
		FileIDs: fileIDs(1),
		Kinds:   []types.AnalysisKind{types.KindContentSummary},
	})
	require.NoError(t, err)
	recv(t, rec.started, "analysis-started")

	tasks := sched.tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "gemma2:9b", tasks[0].Metadata.Model)
}

func TestPersistFailureCountsAsFileFailure(t *testing.T) {
	store := &serviceStore{files: analysisFiles(1), saveErr: fmt.Errorf("disk full")}
	sched := &fakeScheduler{}
	svc, rec := startService(t, testAnalysisConfig(), store, sched)

	_, err := svc.StartAnalysis(context.Background(), types.AnalysisRequest{
		FileIDs: fileIDs(1),
		Kinds:   []types.AnalysisKind{types.KindRenameSuggestions},
	})
	require.NoError(t, err)
	recv(t, rec.started, "analysis-started")

	sched.complete(sched.tasks()[0].ID, goodResponse, 100)

	result := recv(t, rec.complete, "analysis-complete")
	assert.Equal(t, 0, result.Successful)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "disk full")
}
