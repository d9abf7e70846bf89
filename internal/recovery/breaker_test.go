package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewCircuitBreaker("generate", 3, time.Minute)

	assert.True(t, b.Allow())
	assert.False(t, b.RecordFailure())
	assert.False(t, b.RecordFailure())
	assert.Equal(t, BreakerClosed, b.State())

	// Third consecutive failure trips it.
	assert.True(t, b.RecordFailure())
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewCircuitBreaker("generate", 3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	require.Equal(t, 0, b.Failures())

	// The count starts over; two more failures do not trip.
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewCircuitBreaker("generate", 1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	require.True(t, b.RecordFailure())
	require.False(t, b.Allow())

	// Reset window measured from the last failure.
	now = now.Add(59 * time.Second)
	assert.False(t, b.Allow())

	now = now.Add(2 * time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())

	// Probe success closes the breaker.
	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenAdmitsSingleProbe(t *testing.T) {
	b := NewCircuitBreaker("generate", 1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	require.True(t, b.RecordFailure())
	now = now.Add(2 * time.Minute)

	// Only the first caller through a half-open breaker probes; the rest
	// short-circuit until the probe's outcome is recorded.
	require.True(t, b.Allow())
	assert.False(t, b.Allow())
	assert.False(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.Allow())
	assert.True(t, b.Allow())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewCircuitBreaker("generate", 1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	require.True(t, b.RecordFailure())
	now = now.Add(2 * time.Minute)
	require.True(t, b.Allow())
	require.Equal(t, BreakerHalfOpen, b.State())

	// A failed probe re-opens immediately, restarting the window.
	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())

	now = now.Add(time.Minute)
	assert.True(t, b.Allow())
}
