// Package sched is a small cooperative task scheduler: callbacks are posted
// at one of five priorities, run one at a time on a single goroutine, and
// are expected to return control quickly — long work yields by returning a
// continuation, which keeps its place in line.
//
// Two implementations are provided. Runner drives tasks on its own goroutine
// against the wall clock. Manual runs tasks only when told to and against a
// virtual clock, which is what deterministic tests want.
package sched

import (
	"errors"
	"time"
)

// Priority orders posted tasks. More urgent priorities expire sooner, and an
// expired task runs before any fresher one regardless of posting order.
type Priority int32

const (
	// Immediate tasks are already expired when posted.
	Immediate Priority = iota + 1
	// UserBlocking tasks follow directly from user input.
	UserBlocking
	// Normal is the default.
	Normal
	// Low tasks tolerate long delays.
	Low
	// IdlePriority tasks only run when nothing else is queued and never
	// expire on their own.
	IdlePriority
)

func (p Priority) String() string {
	switch p {
	case Immediate:
		return "Immediate"
	case UserBlocking:
		return "UserBlocking"
	case Normal:
		return "Normal"
	case Low:
		return "Low"
	case IdlePriority:
		return "Idle"
	default:
		return "Unknown"
	}
}

// timeout returns how long a task at this priority may sit in the queue
// before it is considered expired and must run next.
func (p Priority) timeout() time.Duration {
	switch p {
	case Immediate:
		return -1
	case UserBlocking:
		return 250 * time.Millisecond
	case Low:
		return 10 * time.Second
	case IdlePriority:
		return neverTimeout
	default:
		return 5 * time.Second
	}
}

// neverTimeout sorts idle tasks after everything that can expire.
const neverTimeout = 100 * 365 * 24 * time.Hour

// Callback is a unit of scheduled work. A non-nil return value is a
// continuation: the task is not done, keeps its queue slot and expiry, and
// the continuation runs in a later work cycle. expired reports whether the
// task's expiration already passed, in which case it should not yield again.
type Callback func(expired bool) Callback

// Interface is the narrow contract the reconciliation engine consumes.
type Interface interface {
	// Post enqueues cb at the given priority and returns a cancellable
	// handle. Safe to call from any goroutine and from inside callbacks.
	Post(p Priority, cb Callback) *Task
	// ShouldYield reports whether the current work cycle has used up its
	// slice and control should return to the scheduler.
	ShouldYield() bool
	// Now returns the scheduler's clock reading.
	Now() time.Time
}

// ErrClosed is returned by Runner.Run after Shutdown.
var ErrClosed = errors.New("sched: scheduler is closed")

// Task is a handle to posted work.
type Task struct {
	cb       Callback
	expiry   time.Time
	seq      uint64
	index    int // heap index, -1 once popped
	canceled bool
}

// Cancel withdraws the task. Canceling an already-started synchronous task
// has no effect on the in-flight invocation; a pending continuation will not
// run.
func (t *Task) Cancel() {
	if t != nil {
		t.canceled = true
		t.cb = nil
	}
}

// Canceled reports whether Cancel was called.
func (t *Task) Canceled() bool { return t == nil || t.canceled }

// taskHeap orders tasks by (expiry, seq). Earlier expiry runs first; the
// sequence number breaks ties in posting order.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if !h[i].expiry.Equal(h[j].expiry) {
		return h[i].expiry.Before(h[j].expiry)
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// DefaultFrameBudget is the work-cycle slice before ShouldYield reports
// true. Tunable per scheduler; the value follows the usual ~5ms frame slice.
const DefaultFrameBudget = 5 * time.Millisecond
