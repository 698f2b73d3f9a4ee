package loom_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/loom"
)

// hooked builds a composite with every lifecycle hook wired to an event
// log. kids runs per render to produce children from the current state.
func hooked(name string, events *[]string, kids func(state any) []loom.Description) *loom.Component {
	return &loom.Component{
		Name: name,
		Init: func(any) any { return 0 },
		Body: func(tn *loom.Turn, _, state any) ([]loom.Description, error) {
			return kids(state), nil
		},
		BeforeMutation: func(_, prevState any) {
			*events = append(*events, "bm:"+name)
		},
		Layout: func(_, _ any) func() {
			*events = append(*events, "ls:"+name)
			return func() { *events = append(*events, "lt:"+name) }
		},
		Effect: func(_, _ any) func() {
			*events = append(*events, "es:"+name)
			return func() { *events = append(*events, "et:"+name) }
		},
	}
}

// should run layout and effect setups children before parents on mount
func TestMountHookOrder(t *testing.T) {
	r := newRig(t)

	var events []string
	var set *loom.Setter
	child := hooked("child", &events, func(any) []loom.Description {
		return []loom.Description{loom.Text("c")}
	})
	parent := &loom.Component{
		Name: "parent",
		Init: func(any) any { return 0 },
		Body: func(tn *loom.Turn, _, state any) ([]loom.Description, error) {
			set = tn.Setter()
			return []loom.Description{loom.Render(child, state)}, nil
		},
		BeforeMutation: func(_, _ any) { events = append(events, "bm:parent") },
		Layout: func(_, _ any) func() {
			events = append(events, "ls:parent")
			return func() { events = append(events, "lt:parent") }
		},
		Effect: func(_, _ any) func() {
			events = append(events, "es:parent")
			return func() { events = append(events, "et:parent") }
		},
	}

	r.root.Render(loom.Render(parent, nil))
	r.flush()

	// No before-mutation on first mount; pairs set up child first.
	require.Equal(t, []string{"ls:child", "ls:parent", "es:child", "es:parent"}, events)

	events = nil
	set.Set(1)
	r.flush()

	assert.Equal(t, []string{
		"bm:child", "bm:parent",
		"lt:child", "lt:parent",
		"ls:child", "ls:parent",
		"et:child", "et:parent",
		"es:child", "es:parent",
	}, events)
}

// should let before-mutation hooks observe the outgoing host tree
func TestBeforeMutationSeesOldTree(t *testing.T) {
	r := newRig(t)

	var seenTree string
	var seenState any
	var set *loom.Setter
	comp := &loom.Component{
		Name: "snap",
		Init: func(any) any { return "old" },
		Body: func(tn *loom.Turn, _, state any) ([]loom.Description, error) {
			set = tn.Setter()
			return []loom.Description{loom.Text(state.(string))}, nil
		},
		BeforeMutation: func(_, prevState any) {
			seenTree = r.host.RenderString()
			seenState = prevState
		},
	}
	r.root.Render(loom.Render(comp, nil))
	r.flush()
	oldTree := r.host.RenderString()

	set.Set("new")
	r.flush()

	assert.Equal(t, oldTree, seenTree)
	assert.Equal(t, "old", seenState)
	assert.Equal(t, "new", r.host.Container()[0].Text)
}

// should tear an unmounted subtree's effects down in the deferred stage
func TestUnmountRunsEffectTeardowns(t *testing.T) {
	r := newRig(t)

	var events []string
	inner := hooked("inner", &events, func(any) []loom.Description {
		return []loom.Description{loom.Text("i")}
	})

	r.root.Render(loom.Host("div", nil, loom.Render(inner, nil)))
	r.flush()
	require.Equal(t, []string{"ls:inner", "es:inner"}, events)
	events = nil

	r.root.Render(loom.Host("div", nil))
	r.flush()

	assert.Equal(t, []string{"lt:inner", "et:inner"}, events)
	assert.Equal(t, 1, r.host.Attached())
}

// should flush a pending deferred stage before the next commit mutates
func TestPassiveFlushPrecedesNextCommit(t *testing.T) {
	r := newRig(t)

	var events []string
	var set *loom.Setter
	comp := &loom.Component{
		Name: "paced",
		Init: func(any) any { return 0 },
		Body: func(tn *loom.Turn, _, state any) ([]loom.Description, error) {
			set = tn.Setter()
			return []loom.Description{loom.Text("p")}, nil
		},
		Layout: func(_, _ any) func() {
			events = append(events, "layout")
			return nil
		},
		Effect: func(_, _ any) func() {
			events = append(events, "effect")
			return nil
		},
	}
	r.root.Render(loom.Render(comp, nil))

	// Run the render task but not the deferred stage behind it.
	require.True(t, r.clk.Step())
	require.Equal(t, []string{"layout"}, events)

	// The synchronous commit must drain the previous deferred stage
	// before its own mutations; its own stage is posted, not inlined.
	err := r.eng.FlushSync(func() { set.Set(1) })
	require.NoError(t, err)
	assert.Equal(t, []string{"layout", "effect", "layout"}, events)

	r.flush()
	assert.Equal(t, []string{"layout", "effect", "layout", "effect"}, events)
}

// should run pending effects on demand through FlushPassive
func TestFlushPassiveRunsPendingStage(t *testing.T) {
	r := newRig(t)

	ran := 0
	comp := &loom.Component{
		Name: "lazy",
		Body: func(_ *loom.Turn, _, _ any) ([]loom.Description, error) {
			return []loom.Description{loom.Text("x")}, nil
		},
		Effect: func(_, _ any) func() {
			ran++
			return nil
		},
	}
	r.root.Render(loom.Render(comp, nil))
	require.True(t, r.clk.Step())
	require.Equal(t, 0, ran)

	r.eng.FlushPassive()
	assert.Equal(t, 1, ran)

	// The already-posted deferred task finds nothing left to do.
	r.flush()
	assert.Equal(t, 1, ran)
}

// should attach refs during layout and clear them on removal
func TestRefLifecycle(t *testing.T) {
	r := newRig(t)

	ref1 := &loom.Ref{}
	ref2 := &loom.Ref{}

	r.root.Render(loom.Host("div", nil).WithRef(ref1))
	r.flush()
	require.NotNil(t, ref1.Current)
	node := ref1.Current

	// Swapping the ref moves the instance to the new handle.
	r.root.Render(loom.Host("div", nil).WithRef(ref2))
	r.flush()
	assert.Nil(t, ref1.Current)
	assert.Same(t, node, ref2.Current)

	// Dropping the ref clears it.
	r.root.Render(loom.Host("div", nil))
	r.flush()
	assert.Nil(t, ref2.Current)

	// Unmounting clears an attached ref.
	r.root.Render(loom.Host("div", nil).WithRef(ref1))
	r.flush()
	require.Same(t, node, ref1.Current)
	r.root.Render()
	r.flush()
	assert.Nil(t, ref1.Current)
}
