// Package events provides the ordered callback dispatcher the scheduler
// and the analysis service emit through. One goroutine delivers callbacks
// in publication order, so producers never block on slow subscribers and
// subscribers observe events in the order they happened.
package events

import "sync"

// Emitter queues callbacks and runs them from a single goroutine.
type Emitter struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool
	started bool
	done    chan struct{}
}

// NewEmitter creates an emitter. Call Start before publishing.
func NewEmitter() *Emitter {
	e := &Emitter{done: make(chan struct{})}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Start launches the dispatch goroutine.
func (e *Emitter) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()
	go e.run()
}

func (e *Emitter) run() {
	for {
		e.mu.Lock()
		for len(e.pending) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.pending) == 0 && e.closed {
			e.mu.Unlock()
			close(e.done)
			return
		}
		fn := e.pending[0]
		e.pending = e.pending[1:]
		e.mu.Unlock()

		fn()
	}
}

// Publish appends one callback to the ordered backlog. Publishing after
// Close is a no-op.
func (e *Emitter) Publish(fn func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.pending = append(e.pending, fn)
	e.mu.Unlock()
	e.cond.Signal()
}

// Close stops the emitter once the backlog drains and waits for it.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return
	}
	e.closed = true
	started := e.started
	e.mu.Unlock()
	if !started {
		close(e.done)
		return
	}
	e.cond.Signal()
	<-e.done
}
