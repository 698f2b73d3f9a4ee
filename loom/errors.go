package loom

import (
	"errors"
	"sync"
)

// Standard errors.
var (
	// ErrRootDisposed is returned when work is requested on a disposed root.
	ErrRootDisposed = errors.New("loom: root has been disposed")

	// ErrReentrantFlush reports a synchronous flush attempted from inside
	// render or commit.
	ErrReentrantFlush = errors.New("loom: cannot flush synchronously from inside render or commit")
)

// Pending signals that a composite's output is not ready yet. Returning one
// from a Component body routes control to the nearest enclosing Suspense
// boundary, which shows fallback content until Resolve is called; the
// boundary then re-renders automatically.
//
// A Pending value may be shared by any number of components and render
// attempts; the engine attaches at most one listener per in-flight
// dependency.
type Pending struct {
	mu        sync.Mutex
	resolved  bool
	listeners []func()
}

// NewPending returns an unresolved dependency marker.
func NewPending() *Pending { return &Pending{} }

func (p *Pending) Error() string { return "loom: pending dependency" }

// Resolve marks the dependency ready and notifies every boundary waiting on
// it. Resolving twice is a no-op. The notification lands as a scheduler
// task, never on the caller's stack, so Resolve is safe from any goroutine
// the engine's scheduler accepts posts from.
func (p *Pending) Resolve() {
	p.mu.Lock()
	if p.resolved {
		p.mu.Unlock()
		return
	}
	p.resolved = true
	listeners := p.listeners
	p.listeners = nil
	p.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Resolved reports whether Resolve has been called.
func (p *Pending) Resolved() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolved
}

// subscribe registers fn to run on Resolve. Returns false, registering
// nothing, when already resolved; the caller owes fn an immediate call.
func (p *Pending) subscribe(fn func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolved {
		return false
	}
	p.listeners = append(p.listeners, fn)
	return true
}
