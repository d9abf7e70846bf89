// Package recovery wraps downstream operations with retry, per-operation
// circuit breakers, and timed fallbacks.
package recovery

import (
	"sync"
	"time"

	"curator/internal/logging"
)

// BreakerState is the circuit breaker state machine position.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker tracks consecutive failures for one operation name.
// Closed until threshold consecutive failures; open for resetTime from the
// last failure; a single half-open probe decides between closing and
// re-opening.
type CircuitBreaker struct {
	name      string
	threshold int
	resetTime time.Duration

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	lastFailure         time.Time
	probing             bool // a half-open probe is in flight

	now func() time.Time // injectable for tests
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, threshold int, resetTime time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		resetTime: resetTime,
		state:     BreakerClosed,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. An open breaker whose reset
// window has elapsed transitions to half-open and admits one probe.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		// One probe decides; everyone else short-circuits until its
		// outcome is recorded.
		if b.probing {
			return false
		}
		b.probing = true
		return true
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) >= b.resetTime {
			b.state = BreakerHalfOpen
			b.probing = true
			logging.Recovery("Breaker %s: half-open probe allowed", b.name)
			return true
		}
		return false
	}
	return true
}

// RecordFailure counts a failure against the breaker. Reaching the
// threshold opens it; a half-open failure re-opens immediately.
// Returns true when this failure tripped the breaker open.
func (b *CircuitBreaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()
	b.probing = false

	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerOpen
		logging.Recovery("Breaker %s: half-open probe failed, re-opening", b.name)
		return true
	case BreakerClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.threshold {
			b.state = BreakerOpen
			logging.Recovery("Breaker %s: opened after %d consecutive failures", b.name, b.consecutiveFailures)
			return true
		}
	}
	return false
}

// RecordSuccess closes the breaker and clears its failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		logging.Recovery("Breaker %s: half-open probe succeeded, closing", b.name)
	}
	b.state = BreakerClosed
	b.consecutiveFailures = 0
	b.probing = false
}

// State returns the current breaker position.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}
