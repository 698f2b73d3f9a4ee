package sched

import (
	"container/heap"
	"time"
)

// Manual is a scheduler under the caller's full control: tasks run only when
// Step or Flush is called, time only moves when Advance is called, and
// yielding is forced by YieldAfter rather than a wall-clock budget.
//
// It is not safe for concurrent use; it exists so tests and the demo can
// drive the work loop deterministically on one goroutine.
type Manual struct {
	tasks taskHeap
	seq   uint64
	now   time.Time

	// yieldAfter forces ShouldYield to report true after that many checks
	// within one task invocation; <0 never yields.
	yieldAfter int
	checks     int
	running    bool
}

// NewManual returns a Manual scheduler that never yields until told to.
func NewManual() *Manual {
	return &Manual{
		now:        time.Unix(0, 0),
		yieldAfter: -1,
	}
}

// Post enqueues cb at priority p.
func (m *Manual) Post(p Priority, cb Callback) *Task {
	m.seq++
	t := &Task{
		cb:     cb,
		expiry: m.now.Add(p.timeout()),
		seq:    m.seq,
	}
	heap.Push(&m.tasks, t)
	return t
}

// Now returns the virtual clock.
func (m *Manual) Now() time.Time { return m.now }

// Advance moves the virtual clock forward.
func (m *Manual) Advance(d time.Duration) { m.now = m.now.Add(d) }

// YieldAfter makes ShouldYield report true on the n+1th check within a
// single task invocation. Pass a negative value to never yield.
func (m *Manual) YieldAfter(n int) { m.yieldAfter = n }

// ShouldYield counts checks within the current task and trips once the
// configured threshold is reached.
func (m *Manual) ShouldYield() bool {
	if !m.running || m.yieldAfter < 0 {
		return false
	}
	m.checks++
	return m.checks > m.yieldAfter
}

// Pending reports how many live tasks are queued.
func (m *Manual) Pending() int {
	n := 0
	for _, t := range m.tasks {
		if !t.canceled && t.cb != nil {
			n++
		}
	}
	return n
}

// Step runs the single most urgent task (or its continuation) and reports
// whether anything ran. A task that yields keeps its place and is what the
// next Step resumes.
func (m *Manual) Step() bool {
	for len(m.tasks) > 0 {
		t := m.tasks[0]
		if t.canceled || t.cb == nil {
			heap.Pop(&m.tasks)
			continue
		}
		cb := t.cb
		t.cb = nil

		m.running = true
		m.checks = 0
		cont := cb(t.expired(m.now))
		m.running = false

		if cont != nil && !t.canceled {
			t.cb = cont
		} else if t.index >= 0 {
			heap.Remove(&m.tasks, t.index)
		}
		return true
	}
	return false
}

// Flush runs tasks (and continuations) until the queue is empty.
func (m *Manual) Flush() {
	for m.Step() {
	}
}
