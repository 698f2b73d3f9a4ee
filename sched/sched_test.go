package sched_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weftlabs/weft/sched"
)

// should run more urgent tasks first regardless of posting order
func TestManualPriorityOrder(t *testing.T) {
	m := sched.NewManual()
	var order []string

	m.Post(sched.Normal, func(bool) sched.Callback {
		order = append(order, "normal")
		return nil
	})
	m.Post(sched.Immediate, func(bool) sched.Callback {
		order = append(order, "immediate")
		return nil
	})
	m.Post(sched.UserBlocking, func(bool) sched.Callback {
		order = append(order, "blocking")
		return nil
	})

	m.Flush()
	assert.Equal(t, []string{"immediate", "blocking", "normal"}, order)
}

// should preserve posting order within one priority
func TestManualFIFOWithinPriority(t *testing.T) {
	m := sched.NewManual()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		m.Post(sched.Normal, func(bool) sched.Callback {
			order = append(order, i)
			return nil
		})
	}
	m.Flush()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

// should resume a yielded task from its continuation without losing its slot
func TestManualContinuation(t *testing.T) {
	m := sched.NewManual()
	var order []string

	m.Post(sched.Normal, func(bool) sched.Callback {
		order = append(order, "part1")
		return func(bool) sched.Callback {
			order = append(order, "part2")
			return nil
		}
	})

	require.True(t, m.Step())
	assert.Equal(t, []string{"part1"}, order)
	require.True(t, m.Step())
	assert.Equal(t, []string{"part1", "part2"}, order)
	assert.False(t, m.Step())
}

// should run a continuation before later same-priority tasks
func TestManualContinuationKeepsPlace(t *testing.T) {
	m := sched.NewManual()
	var order []string

	m.Post(sched.Normal, func(bool) sched.Callback {
		order = append(order, "a1")
		return func(bool) sched.Callback {
			order = append(order, "a2")
			return nil
		}
	})
	m.Post(sched.Normal, func(bool) sched.Callback {
		order = append(order, "b")
		return nil
	})

	m.Flush()
	assert.Equal(t, []string{"a1", "a2", "b"}, order)
}

// should not run canceled tasks
func TestManualCancel(t *testing.T) {
	m := sched.NewManual()
	ran := false
	task := m.Post(sched.Normal, func(bool) sched.Callback {
		ran = true
		return nil
	})
	task.Cancel()
	m.Flush()
	assert.False(t, ran)
	assert.True(t, task.Canceled())
	assert.Equal(t, 0, m.Pending())
}

// should cancel a pending continuation mid-flight
func TestManualCancelContinuation(t *testing.T) {
	m := sched.NewManual()
	var order []string
	task := m.Post(sched.Normal, func(bool) sched.Callback {
		order = append(order, "part1")
		return func(bool) sched.Callback {
			order = append(order, "part2")
			return nil
		}
	})
	require.True(t, m.Step())
	task.Cancel()
	m.Flush()
	assert.Equal(t, []string{"part1"}, order)
}

// should trip ShouldYield only after the configured number of checks
func TestManualYieldAfter(t *testing.T) {
	m := sched.NewManual()
	m.YieldAfter(2)

	var checks []bool
	m.Post(sched.Normal, func(bool) sched.Callback {
		for i := 0; i < 4; i++ {
			checks = append(checks, m.ShouldYield())
		}
		return nil
	})
	m.Step()
	assert.Equal(t, []bool{false, false, true, true}, checks)

	// outside a task it never yields
	assert.False(t, m.ShouldYield())
}

// should report expiration once the virtual clock passes a task's deadline
func TestManualExpiration(t *testing.T) {
	m := sched.NewManual()
	var sawExpired bool
	m.Post(sched.UserBlocking, func(expired bool) sched.Callback {
		sawExpired = expired
		return nil
	})
	m.Advance(time.Second)
	m.Step()
	assert.True(t, sawExpired)
}

// should run posted tasks on the runner goroutine and honor priorities
func TestRunnerBasic(t *testing.T) {
	r := sched.NewRunner()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	defer r.Shutdown()

	donec := make(chan struct{})
	var n atomic.Int32
	r.Post(sched.Normal, func(bool) sched.Callback {
		n.Add(1)
		return nil
	})
	r.Post(sched.Normal, func(bool) sched.Callback {
		n.Add(1)
		close(donec)
		return nil
	})

	select {
	case <-donec:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not drain tasks")
	}
	assert.Equal(t, int32(2), n.Load())
}

// should stop accepting work after shutdown
func TestRunnerShutdown(t *testing.T) {
	r := sched.NewRunner()
	ctx := context.Background()
	go r.Run(ctx)
	r.Shutdown()

	task := r.Post(sched.Immediate, func(bool) sched.Callback { return nil })
	assert.True(t, task.Canceled())
}
