// Package taskgen translates analysis requests into per-file inference
// tasks: prompt, timeout, memory estimate, and priority for each
// (file, analysis kind) pair.
package taskgen

import (
	"context"
	"math"
	"strings"
	"time"

	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/types"
)

// ModelEstimator supplies per-model memory footprints for task estimates.
type ModelEstimator interface {
	FootprintMB(ctx context.Context, model string) (int64, error)
}

// Submitter accepts generated tasks together with the file record each
// was built from, so the caller can track per-file context without a
// second store read. In production this wraps the agent manager's Submit.
type Submitter func(task types.Task, file types.FileRecord) (string, error)

// Result summarizes one generation run.
type Result struct {
	CreatedCount         int
	TaskIDs              []string
	EstimatedDurationSec int
	TotalFiles           int
	SkippedCount         int
}

// Generator builds and submits tasks for analysis requests.
type Generator struct {
	cfg       config.TaskGenConfig
	store     types.Store
	estimator ModelEstimator
	submit    Submitter

	supported map[string]struct{}
}

// NewGenerator creates a generator over the given store and scheduler.
func NewGenerator(cfg config.TaskGenConfig, store types.Store, estimator ModelEstimator, submit Submitter) *Generator {
	supported := make(map[string]struct{}, len(cfg.SupportedExtensions))
	for _, ext := range cfg.SupportedExtensions {
		supported[strings.ToLower(ext)] = struct{}{}
	}
	return &Generator{
		cfg:       cfg,
		store:     store,
		estimator: estimator,
		submit:    submit,
		supported: supported,
	}
}

// Generate resolves the request's files and submits one task per
// (file, kind). modelFor maps each analysis kind to the model it should
// run on. Tasks are submitted in batches with a throttling pause so a
// large request does not starve the scheduler loop.
func (g *Generator) Generate(ctx context.Context, req types.AnalysisRequest, modelFor func(types.AnalysisKind) string) (*Result, error) {
	if len(req.FileIDs) == 0 && req.RootPath == "" {
		return nil, types.Errorf(types.ErrKindValidation, "request needs file ids or a root path")
	}
	if len(req.Kinds) == 0 {
		return nil, types.Errorf(types.ErrKindValidation, "request names no analysis kinds")
	}
	for _, kind := range req.Kinds {
		if !kind.Valid() {
			return nil, types.Errorf(types.ErrKindValidation, "unknown analysis kind %q", kind)
		}
	}

	files, err := g.resolveFiles(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &Result{TotalFiles: len(files)}
	eligible := make([]types.FileRecord, 0, len(files))
	for _, f := range files {
		if _, ok := g.supported[strings.ToLower(f.Extension)]; !ok {
			result.SkippedCount++
			logging.TasksDebug("Skipping %s: extension %q not supported", f.Path, f.Extension)
			continue
		}
		eligible = append(eligible, f)
	}

	priority := g.priorityFor(req)
	var totalTimeout time.Duration

	batch := 0
	for _, file := range eligible {
		for _, kind := range req.Kinds {
			model := modelFor(kind)
			estMB, err := g.memoryEstimateMB(ctx, model, file)
			if err != nil {
				return nil, err
			}
			timeout := g.timeoutFor(file)

			task := types.Task{
				Kind:        types.TaskFileAnalysis,
				Priority:    priority,
				Timeout:     timeout,
				EstimatedMB: estMB,
				Metadata: types.TaskMetadata{
					FileID:         file.ID,
					Model:          model,
					Prompt:         BuildPrompt(kind, file),
					AnalysisKind:   kind,
					RequestID:      req.ID,
					ResponseFormat: "json",
				},
			}

			id, err := g.submit(task, file)
			if err != nil {
				return nil, err
			}
			result.TaskIDs = append(result.TaskIDs, id)
			result.CreatedCount++
			totalTimeout += timeout

			batch++
			if batch >= g.cfg.BatchSize {
				batch = 0
				if err := g.pause(ctx); err != nil {
					return nil, err
				}
			}
		}
	}

	result.EstimatedDurationSec = g.estimateDurationSec(result.CreatedCount, totalTimeout)
	logging.Tasks("Generated %d tasks for request %s (files=%d, skipped=%d, est_duration=%ds)",
		result.CreatedCount, req.ID, result.TotalFiles, result.SkippedCount, result.EstimatedDurationSec)
	return result, nil
}

func (g *Generator) resolveFiles(ctx context.Context, req types.AnalysisRequest) ([]types.FileRecord, error) {
	if len(req.FileIDs) > 0 {
		files, err := g.store.GetFilesByIDs(ctx, req.FileIDs)
		if err != nil {
			return nil, types.NewKindError(types.ErrKindIO, err)
		}
		return files, nil
	}
	files, err := g.store.GetFilesByRootPath(ctx, req.RootPath)
	if err != nil {
		return nil, types.NewKindError(types.ErrKindIO, err)
	}
	return files, nil
}

func (g *Generator) priorityFor(req types.AnalysisRequest) types.TaskPriority {
	if req.PriorityHint != nil {
		return *req.PriorityHint
	}
	if req.Interactive {
		return types.PriorityHigh
	}
	return types.PriorityNormal
}

// timeoutFor computes the per-file timeout:
// (base + sizeMB × 5s, the size component capped at 50s) × complexity.
func (g *Generator) timeoutFor(file types.FileRecord) time.Duration {
	base := time.Duration(g.cfg.DefaultTimeoutMs) * time.Millisecond

	sizeComponent := time.Duration(file.SizeMB() * float64(5*time.Second))
	if sizeComponent > 50*time.Second {
		sizeComponent = 50 * time.Second
	}

	return time.Duration(float64(base+sizeComponent) * complexityMultiplier(file.Extension))
}

// complexityMultiplier scales timeouts by how slow a file class tends to
// be to reason about.
func complexityMultiplier(ext string) float64 {
	switch strings.ToLower(ext) {
	case ".pdf", ".doc", ".docx", ".txt", ".md", ".rtf", ".odt",
		".xls", ".xlsx", ".csv", ".ppt", ".pptx":
		return 1.5
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg", ".heic",
		".mp3", ".wav", ".flac", ".m4a",
		".mp4", ".mov", ".avi", ".mkv", ".webm":
		return 1.2
	case ".zip", ".tar", ".gz", ".rar", ".7z":
		return 1.3
	default:
		return 1.0
	}
}

// memoryEstimateMB is the model's footprint plus a small per-file
// overhead: min(fileMB × 0.1, 512) MiB.
func (g *Generator) memoryEstimateMB(ctx context.Context, model string, file types.FileRecord) (int64, error) {
	base, err := g.estimator.FootprintMB(ctx, model)
	if err != nil {
		return 0, err
	}
	overhead := int64(math.Min(file.SizeMB()*0.1, 512))
	return base + overhead, nil
}

// estimateDurationSec assumes tasks run at the advisory concurrency and
// each takes roughly a third of its timeout.
func (g *Generator) estimateDurationSec(count int, totalTimeout time.Duration) int {
	if count == 0 {
		return 0
	}
	concurrency := g.cfg.MaxConcurrentTasks
	if concurrency < 1 {
		concurrency = 1
	}
	perTask := totalTimeout / time.Duration(count) / 3
	return int(math.Ceil(float64(count) * perTask.Seconds() / float64(concurrency)))
}

// pause throttles between batches without ignoring cancellation.
func (g *Generator) pause(ctx context.Context) error {
	delay := time.Duration(g.cfg.BatchPauseMs) * time.Millisecond
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
