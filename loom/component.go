package loom

import "github.com/weftlabs/weft/lane"

// Component is a reusable unit of output. The engine calls Body with the
// current props and state and reconciles what it returns; everything else
// is optional.
//
// Bodies must be pure with respect to the engine: they may read props,
// state and slots through the Turn, and may capture the Setter for later
// dispatch, but must not mutate host state or dispatch updates
// synchronously while running. Side effects belong in Layout and Effect.
type Component struct {
	// Name identifies the component in logs. Optional.
	Name string

	// Init produces the initial state for a freshly mounted unit. Nil
	// means the initial state is nil.
	Init func(props any) any

	// Body renders the component. Returning an error routes it to the
	// nearest enclosing boundary: a *Pending to a Suspense boundary,
	// anything else to a Component with Catch.
	Body func(t *Turn, props, state any) ([]Description, error)

	// Catch makes the component an error boundary. When a descendant's
	// Body fails, Catch receives the error and returns the replacement
	// state the boundary re-renders with. The failed subtree is
	// discarded.
	Catch func(err error) any

	// BeforeMutation runs during the pre-mutation commit stage with the
	// previously committed props and state, before any host mutation of
	// this commit is visible.
	BeforeMutation func(prevProps, prevState any)

	// Layout runs synchronously inside the commit, after mutations,
	// children before parents. The returned teardown (may be nil) runs
	// before the next Layout and on unmount.
	Layout func(props, state any) func()

	// Effect runs in the deferred stage after the commit is visible,
	// all teardowns of the affected subtree first, then setups. The
	// returned teardown (may be nil) runs before the next Effect and on
	// unmount.
	Effect func(props, state any) func()
}

func (c *Component) name() string {
	if c == nil {
		return "<nil>"
	}
	if c.Name != "" {
		return c.Name
	}
	return "anonymous"
}

// Turn is the window a Body gets into the engine for the duration of one
// render of one unit. Turns are only valid while that Body call is on the
// stack; the one durable thing to take from a Turn is its Setter.
type Turn struct {
	engine *Engine
	unit   *workUnit
	lanes  lane.Lanes
}

// Props returns the props the unit is rendering with.
func (t *Turn) Props() any { return t.unit.pendingProps }

// State returns the state the unit is rendering with.
func (t *Turn) State() any { return t.unit.renderState }

// Read returns the nearest provided value for slot, or the slot's default
// when no provider encloses this unit. The read is recorded; when a
// provider above later publishes a different value, this unit re-renders
// even if everything between bails out.
func (t *Turn) Read(slot *Slot) any {
	return t.engine.readSlot(t.unit, slot)
}

// Setter returns a durable handle for dispatching state updates to this
// unit. The handle stays valid across renders and may be captured by
// effects and external callbacks.
func (t *Turn) Setter() *Setter {
	u := t.unit
	if u.setter == nil {
		// The handle is shared with the alternate so dispatches reach
		// whichever buffer is current.
		if alt := u.alternate; alt != nil && alt.setter != nil {
			u.setter = alt.setter
		} else {
			u.setter = &Setter{engine: t.engine, unit: u}
		}
	}
	return u.setter
}

// Deferred runs fn with update dispatches downgraded to a transient lane,
// marking them interruptible and safe to keep off the urgent path.
func (t *Turn) Deferred(fn func()) {
	t.engine.Deferred(fn)
}
