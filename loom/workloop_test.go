package loom_test

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/loom"
	"github.com/weftlabs/weft/memhost"
)

func threeCells(runs map[string]int, setters map[string]*loom.Setter) loom.Description {
	cell := &loom.Component{
		Name: "cell",
		Init: func(any) any { return 0 },
		Body: func(tn *loom.Turn, props, state any) ([]loom.Description, error) {
			name := props.(string)
			runs[name]++
			setters[name] = tn.Setter()
			return []loom.Description{loom.Text(name + strconv.Itoa(state.(int)))}, nil
		},
	}
	return loom.Host("div", nil,
		loom.Render(cell, "a").WithKey("a"),
		loom.Render(cell, "b").WithKey("b"),
		loom.Render(cell, "c").WithKey("c"),
	)
}

// should yield mid-pass and resume from the cursor without restarting
func TestYieldedPassResumes(t *testing.T) {
	r := newRig(t)

	runs := map[string]int{}
	setters := map[string]*loom.Setter{}
	r.root.Render(threeCells(runs, setters))
	r.flush()
	before := r.host.RenderString()

	r.clk.YieldAfter(2)
	setters["a"].Set(1)
	setters["b"].Set(1)
	setters["c"].Set(1)

	require.True(t, r.clk.Step())
	assert.Equal(t, loom.StatusYielded, r.root.Status())
	// Nothing is visible until the whole pass commits.
	assert.Equal(t, before, r.host.RenderString())

	r.flush()

	assert.Equal(t, loom.StatusIdle, r.root.Status())
	assert.Equal(t, 2, runs["a"])
	assert.Equal(t, 2, runs["b"])
	assert.Equal(t, 2, runs["c"])
	assert.Greater(t, r.root.Stats().Yields, uint64(0))
	assert.Equal(t, uint64(0), r.root.Stats().Restarts)
	div := r.host.Container()[0]
	assert.Equal(t, "a1", div.Children()[0].Text)
}

// should discard a yielded pass when more urgent work arrives
func TestUrgentWorkPreemptsYieldedPass(t *testing.T) {
	r := newRig(t)

	var states []int
	var set *loom.Setter
	r.root.Render(loom.Render(counterComp(&states, &set), nil))
	r.flush()
	require.Equal(t, []int{0}, states)

	inc := func(prev any) any { return prev.(int) + 1 }

	r.clk.YieldAfter(2)
	r.eng.Deferred(func() { set.Apply(inc) })
	require.True(t, r.clk.Step())
	require.Equal(t, loom.StatusYielded, r.root.Status())

	r.eng.Interactive(func() { set.Apply(inc) })
	assert.Equal(t, uint64(1), r.root.Stats().Preemptions)

	r.flush()

	// Mount, the discarded deferred attempt, the urgent pass (deferred
	// transform skipped), then the replay applying both in dispatch
	// order.
	assert.Equal(t, []int{0, 1, 1, 2}, states)
	assert.Equal(t, "2", r.host.Container()[0].Text)
	assert.Greater(t, r.root.Stats().Restarts, uint64(0))
}

// should promote a starved lane and finish it without further yields
func TestStarvedLaneIsPromoted(t *testing.T) {
	r := newRig(t)

	runs := map[string]int{}
	setters := map[string]*loom.Setter{}
	r.root.Render(threeCells(runs, setters))
	r.flush()

	r.clk.YieldAfter(0)
	setters["b"].Set(9)

	// With a zero budget the pass can never finish cooperatively.
	require.True(t, r.clk.Step())
	require.True(t, r.clk.Step())
	require.Equal(t, loom.StatusYielded, r.root.Status())
	div := r.host.Container()[0]
	require.Equal(t, "b0", div.Children()[1].Text)

	r.clk.Advance(6 * time.Second)
	require.True(t, r.clk.Step())

	assert.Equal(t, "b9", div.Children()[1].Text)
	assert.Greater(t, r.root.Stats().Expirations, uint64(0))
	assert.Equal(t, loom.StatusIdle, r.root.Status())
}

// should schedule a traversal once per root, not per dispatch
func TestStatusReflectsScheduling(t *testing.T) {
	r := newRig(t)

	assert.Equal(t, loom.StatusIdle, r.root.Status())
	r.root.Render(loom.Text("x"))
	assert.Equal(t, loom.StatusPending, r.root.Status())
	assert.Equal(t, 1, r.clk.Pending())

	r.root.Render(loom.Text("y"))
	assert.Equal(t, 1, r.clk.Pending())

	r.flush()
	assert.Equal(t, loom.StatusIdle, r.root.Status())
	assert.Equal(t, "y", r.host.Container()[0].Text)
}

// should reject a nested flush from render or commit
func TestReentrantFlushRejected(t *testing.T) {
	r := newRig(t)

	var fromBody, fromLayout error
	comp := &loom.Component{
		Name: "nested",
		Body: func(_ *loom.Turn, _, _ any) ([]loom.Description, error) {
			fromBody = r.eng.FlushSync(func() {})
			return []loom.Description{loom.Text("x")}, nil
		},
		Layout: func(_, _ any) func() {
			fromLayout = r.eng.FlushSync(func() {})
			return nil
		},
	}
	r.root.Render(loom.Render(comp, nil))
	r.flush()

	assert.True(t, errors.Is(fromBody, loom.ErrReentrantFlush))
	assert.True(t, errors.Is(fromLayout, loom.ErrReentrantFlush))
}

// should drive independent roots on one engine without interference
func TestTwoRootsStayIndependent(t *testing.T) {
	r := newRig(t)
	host2 := memhost.New()
	root2 := r.eng.CreateRoot(host2, loom.WithName("second"))

	r.root.Render(loom.Text("first"))
	root2.Render(loom.Text("second"))
	r.flush()

	require.Len(t, r.host.Container(), 1)
	require.Len(t, host2.Container(), 1)
	assert.Equal(t, "first", r.host.Container()[0].Text)
	assert.Equal(t, "second", host2.Container()[0].Text)

	root2.Render(loom.Text("updated"))
	r.flush()

	assert.Equal(t, "first", r.host.Container()[0].Text)
	assert.Equal(t, "updated", host2.Container()[0].Text)
	assert.Equal(t, uint64(1), r.root.Stats().Commits)
	assert.Equal(t, uint64(2), root2.Stats().Commits)
}
