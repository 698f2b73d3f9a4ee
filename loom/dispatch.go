package loom

// Setter dispatches state updates to one composite unit. Handles are
// durable: effects, host callbacks and foreign code may hold one and
// dispatch long after the render that produced it. Dispatching to an
// unmounted unit is a no-op.
type Setter struct {
	engine *Engine
	unit   *workUnit
	dead   bool
}

// Set replaces the unit's state with v.
func (s *Setter) Set(v any) {
	s.dispatch(&update{kind: updReplace, payload: v})
}

// Apply replaces the unit's state with fn(previous). The function must
// be pure: under partial processing it can run more than once against
// different bases.
func (s *Setter) Apply(fn func(prev any) any) {
	if fn == nil {
		panic("loom: Apply with nil transform")
	}
	s.dispatch(&update{kind: updReplace, payload: fn})
}

// Merge shallow-merges partial into the unit's state. Both the state and
// partial must be map[string]any.
func (s *Setter) Merge(partial any) {
	s.dispatch(&update{kind: updMerge, payload: partial})
}

// Force re-renders the unit without changing its state.
func (s *Setter) Force() {
	s.dispatch(&update{kind: updForce})
}

// SetWithCallback is Set plus a callback invoked during the layout stage
// of the commit that makes v visible. Under partial processing the
// callback fires exactly once, in the pass that applies the update.
func (s *Setter) SetWithCallback(v any, cb func(state any)) {
	s.dispatch(&update{kind: updReplace, payload: v, callback: cb})
}

func (s *Setter) dispatch(up *update) {
	if s == nil || s.dead {
		return
	}
	e := s.engine
	if e.exec&execRender != 0 {
		panic("loom: state dispatch during render")
	}
	u := s.unit
	if u.queue == nil {
		return
	}
	up.lane = e.requestLane()
	u.queue.enqueue(up)
	e.scheduleUnit(u, up.lane)
}

// detach kills the handle when its unit unmounts.
func (s *Setter) detach() {
	s.dead = true
}
