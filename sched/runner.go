package sched

import (
	"container/heap"
	"context"
	"runtime"
	"sync"
	"time"
)

// Runner drives posted tasks on a single goroutine against the wall clock.
//
// Tasks run one at a time in work cycles. A cycle resets the frame clock,
// then pops due tasks until the heap empties, the frame budget is spent, or
// a callback yields by returning a continuation. A continuation keeps its
// queue slot and expiry, so yielding never costs a task its place in line.
type Runner struct {
	mu     sync.Mutex
	tasks  taskHeap
	seq    uint64
	closed bool

	budget     time.Duration
	frameStart time.Time

	wake chan struct{}
	done chan struct{}
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithFrameBudget sets the work-cycle slice checked by ShouldYield.
func WithFrameBudget(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.budget = d
		}
	}
}

// NewRunner returns a Runner; call Run (usually on its own goroutine) to
// start it.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		budget: DefaultFrameBudget,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Post enqueues cb at priority p. Safe from any goroutine, including from
// inside a running callback.
func (r *Runner) Post(p Priority, cb Callback) *Task {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return &Task{canceled: true, index: -1}
	}
	r.seq++
	t := &Task{
		cb:     cb,
		expiry: time.Now().Add(p.timeout()),
		seq:    r.seq,
	}
	heap.Push(&r.tasks, t)
	r.mu.Unlock()

	// The buffered channel doubles as wake-up deduplication.
	select {
	case r.wake <- struct{}{}:
	default:
	}
	return t
}

// Now returns the wall clock.
func (r *Runner) Now() time.Time { return time.Now() }

// ShouldYield reports whether the current work cycle exceeded its budget.
func (r *Runner) ShouldYield() bool {
	r.mu.Lock()
	start := r.frameStart
	r.mu.Unlock()
	return !start.IsZero() && time.Since(start) >= r.budget
}

// Run processes tasks until ctx is done or Shutdown is called. It blocks;
// start it with `go runner.Run(ctx)`. Pending tasks are dropped on exit.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)

	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return ErrClosed
		}
		if len(r.tasks) > 0 {
			// Posted tasks are due immediately; the expiry only orders
			// them and marks starvation. Run a work cycle now.
			r.frameStart = time.Now()
			r.workCycle()
			r.frameStart = time.Time{}
			r.mu.Unlock()
			// Let other goroutines in between cycles.
			runtime.Gosched()
			continue
		}
		r.mu.Unlock()

		select {
		case <-r.wake:
		case <-ctx.Done():
			r.close()
		}
	}
}

func (r *Runner) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// expired reports whether the task's deadline passed. Immediate tasks are
// posted already expired; for everything else this is the starvation
// signal that suppresses further yielding.
func (t *Task) expired(now time.Time) bool { return !t.expiry.After(now) }

// workCycle pops and runs due tasks until the heap empties, the budget is
// spent, or a task yields. Caller holds r.mu; it is released around
// callbacks.
func (r *Runner) workCycle() {
	for len(r.tasks) > 0 && !r.closed {
		t := r.tasks[0]
		if t.canceled || t.cb == nil {
			heap.Pop(&r.tasks)
			continue
		}
		now := time.Now()
		expired := t.expired(now)
		if !expired && now.Sub(r.frameStart) >= r.budget {
			return
		}

		cb := t.cb
		t.cb = nil

		r.mu.Unlock()
		cont := cb(expired)
		r.mu.Lock()

		if cont != nil && !t.canceled {
			// Yielded: reinstall the continuation and end the cycle so it
			// resumes in a fresh frame.
			t.cb = cont
			return
		}
		if t.index >= 0 {
			heap.Remove(&r.tasks, t.index)
		}
	}
}

// Shutdown stops the runner after the current cycle and waits for the Run
// goroutine to exit.
func (r *Runner) Shutdown() {
	r.close()
	select {
	case r.wake <- struct{}{}:
	default:
	}
	<-r.done
}
