package analysis

import (
	"context"
	"encoding/json"
	"time"

	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/recovery"
	"curator/internal/types"
)

// InferenceExecutor runs scheduled tasks against the inference daemon.
// Every model call goes through the recovery manager: retry with backoff,
// a per-model circuit breaker, and a fallback chain of the cheaper local
// model followed by the optional cloud client.
type InferenceExecutor struct {
	cfg   config.InferenceConfig
	local types.InferenceClient
	cloud types.InferenceClient // nil unless cloud fallback is configured
	rec   *recovery.Manager
}

// NewInferenceExecutor wires the executor. cloud may be nil.
func NewInferenceExecutor(cfg config.InferenceConfig, local types.InferenceClient, cloud types.InferenceClient, rec *recovery.Manager) *InferenceExecutor {
	return &InferenceExecutor{cfg: cfg, local: local, cloud: cloud, rec: rec}
}

// Execute dispatches one task. The scheduler owns the deadline; ctx is
// already bounded by the task timeout.
func (e *InferenceExecutor) Execute(ctx context.Context, task types.Task) (*types.TaskResult, error) {
	switch task.Kind {
	case types.TaskFileAnalysis, types.TaskBatchAnalysis:
		return e.generate(ctx, task)
	case types.TaskHealthCheck:
		return e.healthCheck(ctx, task)
	default:
		return nil, types.Errorf(types.ErrKindValidation, "executor cannot run task kind %q", task.Kind)
	}
}

func (e *InferenceExecutor) generate(ctx context.Context, task types.Task) (*types.TaskResult, error) {
	model := task.Metadata.Model
	if model == "" {
		model = e.cfg.DefaultModel
	}
	opts := types.GenerateOptions{Format: task.Metadata.ResponseFormat}

	primary := func(ctx context.Context) (*types.GenerateResult, error) {
		return e.local.Generate(ctx, model, task.Metadata.Prompt, opts)
	}

	res, err := recovery.Execute(ctx, e.rec, "generate:"+model, primary, e.fallbackFor(model, task.Metadata.Prompt, opts))
	if err != nil {
		return nil, err
	}
	return &types.TaskResult{
		TaskID:          task.ID,
		Success:         true,
		Result:          res.Response,
		ExecutionTimeMs: res.ExecutionTimeMs,
	}, nil
}

// fallbackFor builds the degraded path tried when the primary model is
// exhausted or its breaker is open: the cheaper local model first, then
// the cloud client. A model never falls back to itself.
func (e *InferenceExecutor) fallbackFor(model, prompt string, opts types.GenerateOptions) recovery.Operation[*types.GenerateResult] {
	fallbackModel := e.cfg.FallbackModel
	if fallbackModel == model {
		fallbackModel = ""
	}
	if fallbackModel == "" && e.cloud == nil {
		return nil
	}

	return func(ctx context.Context) (*types.GenerateResult, error) {
		var lastErr error
		if fallbackModel != "" {
			res, err := e.local.Generate(ctx, fallbackModel, prompt, opts)
			if err == nil {
				logging.Analysis("Fallback model %s served request for %s", fallbackModel, model)
				return res, nil
			}
			lastErr = err
		}
		if e.cloud != nil {
			res, err := e.cloud.Generate(ctx, e.cfg.CloudFallbackModel, prompt, opts)
			if err == nil {
				logging.Analysis("Cloud fallback served request for %s", model)
				return res, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}
}

func (e *InferenceExecutor) healthCheck(ctx context.Context, task types.Task) (*types.TaskResult, error) {
	start := time.Now()
	status, err := e.local.HealthStatus(ctx)
	if err != nil {
		return nil, types.NewKindError(types.ErrKindModelUnavailable, err)
	}
	payload, err := json.Marshal(status)
	if err != nil {
		return nil, err
	}
	return &types.TaskResult{
		TaskID:          task.ID,
		Success:         true,
		Result:          string(payload),
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}
