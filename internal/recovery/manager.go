package recovery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/types"
)

// Mode is the manager's service-wide posture.
type Mode string

const (
	ModeNormal    Mode = "normal"
	ModeDegraded  Mode = "degraded"
	ModeEmergency Mode = "emergency"
	ModeOffline   Mode = "offline"
)

// ErrBreakerOpen is returned when a call short-circuits on an open breaker
// and no fallback is available.
var ErrBreakerOpen = errors.New("circuit breaker open")

// Metrics is a snapshot of global recovery counters.
type Metrics struct {
	Mode                Mode
	TotalFailures       int64
	TotalRecoveries     int64
	ConsecutiveFailures int64
	BreakerTrips        int64
	FallbackExecutions  int64
}

// Manager owns circuit breaker state and recovery metrics. Operations run
// through Execute, which layers breaker short-circuiting, bounded retry
// with exponential backoff, and a timed fallback.
type Manager struct {
	cfg config.RecoveryConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	metrics  Metrics

	// baseBackoff is the first-retry sleep; tests shrink it.
	baseBackoff time.Duration
	// maxBackoff caps the per-attempt sleep.
	maxBackoff time.Duration
}

// NewManager creates a recovery manager with the given configuration.
func NewManager(cfg config.RecoveryConfig) *Manager {
	return &Manager{
		cfg:         cfg,
		breakers:    make(map[string]*CircuitBreaker),
		metrics:     Metrics{Mode: ModeNormal},
		baseBackoff: time.Second,
		maxBackoff:  10 * time.Second,
	}
}

// Operation is a unit of work run under recovery.
type Operation[T any] func(ctx context.Context) (T, error)

// Execute runs op under the named breaker with retry, falling back to
// fallback (under the fallback timeout) when the primary path is
// exhausted or short-circuited. fallback may be nil.
func Execute[T any](ctx context.Context, m *Manager, name string, op Operation[T], fallback Operation[T]) (T, error) {
	var zero T

	breaker := m.breaker(name)
	if !breaker.Allow() {
		logging.Recovery("Operation %s short-circuited (breaker open)", name)
		if fallback != nil {
			return runFallback(ctx, m, name, fallback)
		}
		return zero, types.NewKindError(types.ErrKindModelUnavailable,
			fmt.Errorf("%w: %s", ErrBreakerOpen, name))
	}

	result, err := executeWithRetry(ctx, m, name, breaker, op)
	if err == nil {
		breaker.RecordSuccess()
		m.recordSuccess()
		return result, nil
	}

	m.recordFailure()

	if fallback != nil && types.Retriable(err) {
		logging.Recovery("Operation %s failed after retries, running fallback: %v", name, err)
		return runFallback(ctx, m, name, fallback)
	}
	return zero, err
}

// executeWithRetry attempts op up to MaxRetryAttempts times with
// exponential backoff between attempts. Non-retriable errors stop
// immediately. The breaker records only the first-attempt failure so a
// single degraded call counts once toward tripping.
func executeWithRetry[T any](ctx context.Context, m *Manager, name string, breaker *CircuitBreaker, op Operation[T]) (T, error) {
	var zero T
	var lastErr error

	attempts := m.cfg.MaxRetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				logging.Recovery("Operation %s succeeded on attempt %d", name, attempt)
			}
			return result, nil
		}

		lastErr = err
		if attempt == 1 {
			if breaker.RecordFailure() {
				m.recordBreakerTrip()
			}
		}

		kind := types.Classify(err)
		if !kind.Retriable() {
			logging.Recovery("Operation %s failed with non-retriable %s: %v", name, kind, err)
			return zero, err
		}

		if attempt < attempts {
			backoff := m.backoffFor(attempt)
			logging.Recovery("Operation %s attempt %d/%d failed (%s), retrying in %v",
				name, attempt, attempts, kind, backoff)

			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return zero, fmt.Errorf("operation %s failed after %d attempts: %w", name, attempts, lastErr)
}

// backoffFor computes the sleep after the k-th (1-based) failed attempt:
// base × multiplier^(k−1), capped.
func (m *Manager) backoffFor(attempt int) time.Duration {
	mult := m.cfg.RetryBackoffMultiplier
	if mult <= 0 {
		mult = 2
	}
	d := time.Duration(float64(m.baseBackoff) * math.Pow(mult, float64(attempt-1)))
	if d > m.maxBackoff {
		d = m.maxBackoff
	}
	return d
}

// runFallback executes the fallback under its own hard timeout.
func runFallback[T any](ctx context.Context, m *Manager, name string, fallback Operation[T]) (T, error) {
	m.mu.Lock()
	m.metrics.FallbackExecutions++
	m.mu.Unlock()

	timeout := time.Duration(m.cfg.FallbackTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	fbCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := fallback(fbCtx)
	if err != nil {
		var zero T
		logging.Recovery("Fallback for %s failed: %v", name, err)
		return zero, fmt.Errorf("fallback for %s failed: %w", name, err)
	}
	logging.Recovery("Fallback for %s succeeded", name)
	return result, nil
}

// breaker returns (or creates) the named breaker.
func (m *Manager) breaker(name string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.breakers[name]
	if !ok {
		b = NewCircuitBreaker(name,
			m.cfg.CircuitBreakerThreshold,
			time.Duration(m.cfg.CircuitBreakerResetTimeMs)*time.Millisecond)
		m.breakers[name] = b
	}
	return b
}

// BreakerState returns the state of the named breaker; a breaker that has
// never seen traffic reports closed.
func (m *Manager) BreakerState(name string) BreakerState {
	m.mu.Lock()
	b, ok := m.breakers[name]
	m.mu.Unlock()
	if !ok {
		return BreakerClosed
	}
	return b.State()
}

// recordFailure updates global counters and possibly degrades the mode.
func (m *Manager) recordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.TotalFailures++
	m.metrics.ConsecutiveFailures++
	if m.metrics.Mode == ModeNormal && m.metrics.ConsecutiveFailures > int64(m.cfg.MaxConsecutiveFailures) {
		m.metrics.Mode = ModeDegraded
		logging.Recovery("Recovery mode degraded after %d consecutive failures", m.metrics.ConsecutiveFailures)
	}
}

// recordSuccess resets the consecutive counter and restores normal mode.
func (m *Manager) recordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.TotalRecoveries++
	m.metrics.ConsecutiveFailures = 0
	if m.metrics.Mode == ModeDegraded {
		m.metrics.Mode = ModeNormal
		logging.Recovery("Recovery mode back to normal")
	}
}

func (m *Manager) recordBreakerTrip() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics.BreakerTrips++
}

// Snapshot returns a copy of the current metrics.
func (m *Manager) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}
