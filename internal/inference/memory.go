package inference

import (
	"context"
	"strings"
	"sync"
	"time"

	"curator/internal/logging"
	"curator/internal/types"
)

// Architecture floors in MiB. A quantized model can report a deceptively
// small on-disk size; runtime residency never drops below these.
const (
	floor7BMB  = 4 * 1024
	floor13BMB = 6 * 1024
	floor70BMB = 12 * 1024
)

// footprint is one cached per-model estimate.
type footprint struct {
	mb       int64
	live     bool // true when sourced from the daemon's live process list
	cachedAt time.Time
}

// Estimator derives per-model memory footprints for slot admission. Live
// daemon figures win; otherwise the on-disk size is padded by the safety
// factor and floored per architecture.
type Estimator struct {
	client       MetadataSource
	safetyFactor float64

	mu    sync.Mutex
	cache map[string]footprint
}

// MetadataSource is the slice of the inference client the estimator needs.
type MetadataSource interface {
	EstimateMemory(ctx context.Context, model string) (int64, error)
	ListModels(ctx context.Context) ([]types.ModelInfo, error)
}

// NewEstimator creates an estimator over the given metadata source.
func NewEstimator(client MetadataSource, safetyFactor float64) *Estimator {
	if safetyFactor <= 0 {
		safetyFactor = 1.5
	}
	return &Estimator{
		client:       client,
		safetyFactor: safetyFactor,
		cache:        make(map[string]footprint),
	}
}

// FootprintMB returns the estimated resident footprint of the model in MiB.
func (e *Estimator) FootprintMB(ctx context.Context, model string) (int64, error) {
	e.mu.Lock()
	if f, ok := e.cache[model]; ok {
		e.mu.Unlock()
		return f.mb, nil
	}
	e.mu.Unlock()

	raw, err := e.client.EstimateMemory(ctx, model)
	if err != nil {
		return 0, err
	}

	mb := raw / (1024 * 1024)
	padded := int64(float64(mb) * e.safetyFactor)
	if fl := architectureFloorMB(model); padded < fl {
		padded = fl
	}

	e.mu.Lock()
	e.cache[model] = footprint{mb: padded, cachedAt: time.Now()}
	e.mu.Unlock()

	logging.InferenceDebug("Estimated footprint for %s: %d MiB (raw=%d MiB)", model, padded, mb)
	return padded, nil
}

// Refresh re-reads the daemon model list and drops cache entries for
// models that disappeared or changed size.
func (e *Estimator) Refresh(ctx context.Context) error {
	models, err := e.client.ListModels(ctx)
	if err != nil {
		return err
	}

	known := make(map[string]struct{}, len(models))
	for _, m := range models {
		known[m.Name] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for name := range e.cache {
		if _, ok := known[name]; !ok {
			delete(e.cache, name)
		}
	}
	return nil
}

// Invalidate drops the cached estimate for one model.
func (e *Estimator) Invalidate(model string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cache, model)
}

// ObserveTaskMemory receives the memory a finished task actually used.
// Observation-driven invalidation is not implemented yet; the hook only
// records the divergence for diagnosis.
func (e *Estimator) ObserveTaskMemory(model string, usedMB int64) {
	e.mu.Lock()
	cached, ok := e.cache[model]
	e.mu.Unlock()
	if ok && usedMB > 0 && (usedMB > cached.mb*2 || usedMB*2 < cached.mb) {
		logging.Inference("Observed footprint for %s diverges from estimate (observed=%d MiB, cached=%d MiB)",
			model, usedMB, cached.mb)
	}
}

// architectureFloorMB maps a model's parameter count to a residency floor.
// Parameter size is read from the model name tag (e.g. "llama3.1:70b").
func architectureFloorMB(model string) int64 {
	name := strings.ToLower(model)
	switch {
	case strings.Contains(name, "70b"), strings.Contains(name, "72b"):
		return floor70BMB
	case strings.Contains(name, "13b"), strings.Contains(name, "14b"):
		return floor13BMB
	case strings.Contains(name, "7b"), strings.Contains(name, "8b"):
		return floor7BMB
	default:
		return 0
	}
}
