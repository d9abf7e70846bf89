package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curator/internal/config"
	"curator/internal/types"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.DefaultRecoveryConfig()
	cfg.MaxRetryAttempts = 3
	cfg.CircuitBreakerThreshold = 2
	cfg.FallbackTimeoutMs = 500
	m := NewManager(cfg)
	m.baseBackoff = time.Millisecond
	m.maxBackoff = 5 * time.Millisecond
	return m
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	m := testManager(t)
	calls := 0

	result, err := Execute(context.Background(), m, "generate",
		func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", types.Errorf(types.ErrKindModelOverloaded, "busy")
			}
			return "ok", nil
		}, nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
	// Success clears consecutive counters.
	assert.Equal(t, int64(0), m.Snapshot().ConsecutiveFailures)
}

func TestExecuteStopsOnNonRetriable(t *testing.T) {
	m := testManager(t)
	calls := 0

	_, err := Execute(context.Background(), m, "generate",
		func(ctx context.Context) (string, error) {
			calls++
			return "", types.Errorf(types.ErrKindValidation, "bad input")
		}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, calls, "validation errors must not retry")
	assert.Equal(t, types.ErrKindValidation, types.Classify(err))
}

func TestExecuteExhaustsRetries(t *testing.T) {
	m := testManager(t)
	calls := 0

	_, err := Execute(context.Background(), m, "generate",
		func(ctx context.Context) (string, error) {
			calls++
			return "", types.Errorf(types.ErrKindModelTimeout, "slow model")
		}, nil)

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestExecuteRunsFallbackAfterRetries(t *testing.T) {
	m := testManager(t)

	result, err := Execute(context.Background(), m, "generate",
		func(ctx context.Context) (string, error) {
			return "", types.Errorf(types.ErrKindModelUnavailable, "daemon down")
		},
		func(ctx context.Context) (string, error) {
			return "fallback-result", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "fallback-result", result)
	assert.Equal(t, int64(1), m.Snapshot().FallbackExecutions)
}

func TestExecuteSkipsFallbackForNonRetriable(t *testing.T) {
	m := testManager(t)
	fallbackRan := false

	_, err := Execute(context.Background(), m, "generate",
		func(ctx context.Context) (string, error) {
			return "", types.Errorf(types.ErrKindResponseInvalid, "garbage json")
		},
		func(ctx context.Context) (string, error) {
			fallbackRan = true
			return "", nil
		})

	require.Error(t, err)
	assert.False(t, fallbackRan, "invalid-response failures surface directly")
}

func TestBreakerShortCircuitsWithoutFallback(t *testing.T) {
	m := testManager(t)
	boom := func(ctx context.Context) (string, error) {
		return "", types.Errorf(types.ErrKindModelUnavailable, "daemon down")
	}

	// Threshold is 2; only the first attempt of each Execute counts.
	_, _ = Execute(context.Background(), m, "generate", boom, nil)
	_, _ = Execute(context.Background(), m, "generate", boom, nil)
	require.Equal(t, BreakerOpen, m.BreakerState("generate"))

	calls := 0
	_, err := Execute(context.Background(), m, "generate",
		func(ctx context.Context) (string, error) {
			calls++
			return "", nil
		}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, types.ErrKindModelUnavailable, types.Classify(err))
	assert.Equal(t, 0, calls, "open breaker must not invoke the operation")
}

func TestBreakerShortCircuitRunsFallback(t *testing.T) {
	m := testManager(t)
	boom := func(ctx context.Context) (string, error) {
		return "", types.Errorf(types.ErrKindModelUnavailable, "daemon down")
	}
	_, _ = Execute(context.Background(), m, "generate", boom, nil)
	_, _ = Execute(context.Background(), m, "generate", boom, nil)
	require.Equal(t, BreakerOpen, m.BreakerState("generate"))

	result, err := Execute(context.Background(), m, "generate", boom,
		func(ctx context.Context) (string, error) {
			return "from-fallback", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "from-fallback", result)
}

func TestBreakersAreIndependentPerOperation(t *testing.T) {
	m := testManager(t)
	boom := func(ctx context.Context) (string, error) {
		return "", types.Errorf(types.ErrKindModelUnavailable, "down")
	}
	_, _ = Execute(context.Background(), m, "generate", boom, nil)
	_, _ = Execute(context.Background(), m, "generate", boom, nil)

	assert.Equal(t, BreakerOpen, m.BreakerState("generate"))
	assert.Equal(t, BreakerClosed, m.BreakerState("list-models"))

	result, err := Execute(context.Background(), m, "list-models",
		func(ctx context.Context) (string, error) { return "ok", nil }, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestFallbackTimeoutBoundsFallback(t *testing.T) {
	m := testManager(t)
	m.cfg.FallbackTimeoutMs = 20

	_, err := Execute(context.Background(), m, "generate",
		func(ctx context.Context) (string, error) {
			return "", types.Errorf(types.ErrKindModelUnavailable, "down")
		},
		func(ctx context.Context) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Second):
				return "too late", nil
			}
		})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "fallback")
}

func TestExecuteHonorsContextDuringBackoff(t *testing.T) {
	m := testManager(t)
	m.baseBackoff = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := Execute(ctx, m, "generate",
			func(ctx context.Context) (string, error) {
				return "", types.Errorf(types.ErrKindModelTimeout, "slow")
			}, nil)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Execute did not return after context cancel")
	}
}

func TestModeDegradesAndRecovers(t *testing.T) {
	m := testManager(t)
	m.cfg.MaxConsecutiveFailures = 2
	m.cfg.CircuitBreakerThreshold = 100 // keep the breaker out of the way

	boom := func(ctx context.Context) (string, error) {
		return "", types.Errorf(types.ErrKindValidation, "bad")
	}
	for i := 0; i < 3; i++ {
		_, _ = Execute(context.Background(), m, "op", boom, nil)
	}
	assert.Equal(t, ModeDegraded, m.Snapshot().Mode)

	_, err := Execute(context.Background(), m, "op",
		func(ctx context.Context) (string, error) { return "ok", nil }, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeNormal, m.Snapshot().Mode)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	cfg := config.DefaultRecoveryConfig()
	cfg.RetryBackoffMultiplier = 2
	m := NewManager(cfg)

	assert.Equal(t, time.Second, m.backoffFor(1))
	assert.Equal(t, 2*time.Second, m.backoffFor(2))
	assert.Equal(t, 4*time.Second, m.backoffFor(3))
	assert.Equal(t, 8*time.Second, m.backoffFor(4))
	// Capped at the maximum.
	assert.Equal(t, 10*time.Second, m.backoffFor(5))
	assert.Equal(t, 10*time.Second, m.backoffFor(9))
}

func TestClassifyPlainErrors(t *testing.T) {
	assert.Equal(t, types.ErrKindModelUnavailable, types.Classify(errors.New("dial tcp: connection refused")))
	assert.Equal(t, types.ErrKindModelTimeout, types.Classify(context.DeadlineExceeded))
	assert.Equal(t, types.ErrKindUnknown, types.Classify(errors.New("something odd")))
}
