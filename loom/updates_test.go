package loom_test

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/loom"
)

// counterComp builds a component that renders its int state as a text
// leaf, recording every state its body observes and handing out its
// setter.
func counterComp(states *[]int, setter **loom.Setter) *loom.Component {
	return &loom.Component{
		Name: "counter",
		Init: func(any) any { return 0 },
		Body: func(tn *loom.Turn, _, state any) ([]loom.Description, error) {
			n := state.(int)
			*states = append(*states, n)
			*setter = tn.Setter()
			return []loom.Description{loom.Text(strconv.Itoa(n))}, nil
		},
	}
}

// should coalesce a burst of same-lane dispatches into one render
func TestDispatchBurstRendersOnce(t *testing.T) {
	r := newRig(t)

	var states []int
	var set *loom.Setter
	r.root.Render(loom.Render(counterComp(&states, &set), nil))
	r.flush()
	require.Equal(t, []int{0}, states)

	set.Set(1)
	set.Set(2)
	set.Set(3)
	r.flush()

	assert.Equal(t, []int{0, 3}, states)
	assert.Equal(t, "3", r.host.Container()[0].Text)
	assert.Equal(t, uint64(2), r.root.Stats().Commits)
}

// should apply a skipped transform on top of the urgent result
func TestDeferredTransformReplaysAfterUrgentSet(t *testing.T) {
	r := newRig(t)

	var states []int
	var set *loom.Setter
	r.root.Render(loom.Render(counterComp(&states, &set), nil))
	r.flush()

	set.Set(1)
	r.eng.Deferred(func() {
		set.Apply(func(prev any) any { return prev.(int) * 10 })
	})
	r.flush()

	// The urgent pass applies the set and parks the transform; the
	// deferred pass replays the transform on the frozen base.
	assert.Equal(t, []int{0, 1, 10}, states)
	assert.Equal(t, "10", r.host.Container()[0].Text)
}

// should preserve dispatch order when the deferred update came first
func TestReplayKeepsOriginalDispatchOrder(t *testing.T) {
	r := newRig(t)

	var states []int
	var set *loom.Setter
	r.root.Render(loom.Render(counterComp(&states, &set), nil))
	r.flush()

	r.eng.Deferred(func() {
		set.Apply(func(prev any) any { return prev.(int) * 10 })
	})
	set.Set(1)
	r.flush()

	// Sequential order is transform then set, so the final state is 1
	// in both passes. A queue that replayed the transform on top of the
	// urgent result would end at 10.
	assert.Equal(t, []int{0, 1, 1}, states)
	assert.Equal(t, "1", r.host.Container()[0].Text)
}

// should fire an update callback once, in the commit that applied it
func TestUpdateCallbacksFireInApplyingCommit(t *testing.T) {
	r := newRig(t)

	var states []int
	var set *loom.Setter
	r.root.Render(loom.Render(counterComp(&states, &set), nil))
	r.flush()

	var fired []string
	set.SetWithCallback(5, func(state any) {
		fired = append(fired, "urgent:"+strconv.Itoa(state.(int)))
	})
	r.eng.Deferred(func() {
		set.SetWithCallback(7, func(state any) {
			fired = append(fired, "deferred:"+strconv.Itoa(state.(int)))
		})
	})
	r.flush()

	// The urgent callback must not re-fire when its update is replayed
	// during the deferred pass.
	assert.Equal(t, []string{"urgent:5", "deferred:7"}, fired)
	assert.Equal(t, "7", r.host.Container()[0].Text)
}

// should shallow-merge partial map state
func TestMergeOverlaysPartialState(t *testing.T) {
	r := newRig(t)

	var set *loom.Setter
	var last map[string]any
	comp := &loom.Component{
		Name: "profile",
		Init: func(any) any { return map[string]any{"name": "ada", "age": 36} },
		Body: func(tn *loom.Turn, _, state any) ([]loom.Description, error) {
			last = state.(map[string]any)
			set = tn.Setter()
			return []loom.Description{loom.Text(last["name"].(string))}, nil
		},
	}
	r.root.Render(loom.Render(comp, nil))
	r.flush()

	set.Merge(map[string]any{"age": 37})
	r.flush()

	assert.Equal(t, "ada", last["name"])
	assert.Equal(t, 37, last["age"])
}

// should re-render on Force without changing state
func TestForceRerendersWithSameState(t *testing.T) {
	r := newRig(t)

	var states []int
	var set *loom.Setter
	r.root.Render(loom.Render(counterComp(&states, &set), nil))
	r.flush()
	r.host.ResetOps()

	set.Force()
	r.flush()

	assert.Equal(t, []int{0, 0}, states)
	assert.Empty(t, r.host.Ops())
}

// should treat a dispatch from inside a body as a fatal render error
func TestDispatchDuringRenderIsFatal(t *testing.T) {
	var caught error
	r := newRig(t, loom.WithOnUncaught(func(err error) { caught = err }))

	comp := &loom.Component{
		Name: "rogue",
		Init: func(any) any { return 0 },
		Body: func(tn *loom.Turn, _, _ any) ([]loom.Description, error) {
			tn.Setter().Set(1)
			return nil, nil
		},
	}
	r.root.Render(loom.Render(comp, nil))
	r.flush()

	require.Error(t, caught)
	assert.True(t, strings.Contains(caught.Error(), "dispatch during render"))
	assert.Empty(t, r.host.Container())
}

// should drop dispatches aimed at an unmounted unit
func TestDispatchAfterUnmountIsIgnored(t *testing.T) {
	r := newRig(t)

	var states []int
	var set *loom.Setter
	r.root.Render(loom.Render(counterComp(&states, &set), nil))
	r.flush()

	r.root.Render(loom.Text("replaced"))
	r.flush()
	commits := r.root.Stats().Commits

	set.Set(99)
	r.flush()

	assert.Equal(t, []int{0}, states)
	assert.Equal(t, commits, r.root.Stats().Commits)
	assert.Equal(t, "replaced", r.host.Container()[0].Text)
}
