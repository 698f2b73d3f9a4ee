package loom

import (
	"fmt"

	"github.com/weftlabs/weft/lane"
)

// beginUnit is the top-down half of rendering one unit: decide whether
// the unit can be skipped, otherwise recompute its output and reconcile
// the children. Returns the next unit to descend into, or nil when the
// subtree is done and completion should take over.
func (e *Engine) beginUnit(u *workUnit, renderLanes lane.Lanes) (*workUnit, error) {
	current := u.alternate

	if current != nil && u.flags&fDidCapture == 0 {
		propsSame := identicalProps(current.memoizedProps, u.pendingProps) &&
			sameKids(current.memoizedKids, u.pendingKids)
		if propsSame && u.kind == KindSuspense {
			propsSame = sameKids(current.pendingFallback, u.pendingFallback)
		}
		if propsSame && !lane.Intersects(u.lanes, renderLanes) {
			return e.bailoutUnit(u, renderLanes), nil
		}
	}

	// Rendering consumes the unit's scheduled lanes; kinds with a queue
	// put the still-skipped ones back below.
	u.lanes = lane.None

	switch u.kind {
	case KindRoot:
		return e.beginRoot(u, renderLanes)
	case KindComposite:
		return e.beginComposite(u, renderLanes)
	case KindHost:
		return e.beginHost(u, renderLanes), nil
	case KindText:
		return nil, nil
	case KindFragment:
		u.child = e.reconcileChildren(u, currentChild(u), u.pendingKids, renderLanes)
		return u.child, nil
	case KindProvider:
		return e.beginProvider(u, renderLanes), nil
	case KindSuspense:
		return e.beginSuspense(u, renderLanes), nil
	default:
		panic("loom: begin on unknown unit kind " + u.kind.String())
	}
}

// bailoutUnit skips recomputation for a unit whose inputs are unchanged.
// When nothing below it has scheduled work either, the entire subtree is
// cut off; otherwise the committed children are cloned so the descent can
// continue looking for the scheduled units.
func (e *Engine) bailoutUnit(u *workUnit, renderLanes lane.Lanes) *workUnit {
	if u.kind == KindProvider {
		// The subtree may still render; its readers need the value on
		// the stack.
		e.pushSlot(u.slot(), u.pendingProps, u)
	}
	if r := e.renderRoot; r != nil {
		r.stats.Bailouts++
	}
	if !lane.Intersects(u.childLanes, renderLanes) {
		return nil
	}
	cloneChildUnits(u)
	return u.child
}

// cloneChildUnits replaces u's borrowed committed children with
// in-progress clones, preserving order.
func cloneChildUnits(u *workUnit) {
	child := u.child
	var prev *workUnit
	for child != nil {
		wip := cloneForWork(child, nil)
		wip.parent = u
		if prev == nil {
			u.child = wip
		} else {
			prev.sibling = wip
		}
		prev = wip
		child = child.sibling
	}
}

func (e *Engine) beginRoot(u *workUnit, renderLanes lane.Lanes) (*workUnit, error) {
	state, skipped := u.processQueue(renderLanes)
	u.lanes = skipped
	u.memoizedState = state

	kids, _ := state.([]Description)
	u.child = e.reconcileChildren(u, currentChild(u), kids, renderLanes)
	return u.child, nil
}

func (e *Engine) beginComposite(u *workUnit, renderLanes lane.Lanes) (*workUnit, error) {
	comp := u.component()
	if comp.Body == nil {
		panic("loom: component " + comp.name() + " has no body")
	}

	if u.queue == nil {
		var initial any
		if comp.Init != nil {
			initial = comp.Init(u.pendingProps)
		}
		u.queue = newUpdateQueue(initial)
		u.memoizedState = initial
	}

	state, skipped := u.processQueue(renderLanes)
	u.lanes = skipped
	u.renderState = state
	u.memoizedState = state
	// Slot dependencies are rebuilt by the reads this render performs; a
	// read dropped since last time must not keep its subscription.
	u.deps = nil
	u.depsTail = nil

	turn := Turn{engine: e, unit: u, lanes: renderLanes}
	kids, err := invokeBody(comp, &turn, u.pendingProps, state)
	if err != nil {
		return nil, err
	}

	if comp.BeforeMutation != nil && u.alternate != nil {
		u.flags |= fBeforeMutation
	}
	if comp.Layout != nil {
		u.flags |= fLayout
	}
	if comp.Effect != nil {
		u.flags |= fPassive
	}

	u.child = e.reconcileChildren(u, currentChild(u), kids, renderLanes)
	return u.child, nil
}

// invokeBody shields the engine from panicking bodies; a panic is
// captured as an error and routed to the boundaries like any other body
// failure.
func invokeBody(comp *Component, t *Turn, props, state any) (kids []Description, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("loom: panic in %s: %w", comp.name(), e)
			} else {
				err = fmt.Errorf("loom: panic in %s: %v", comp.name(), r)
			}
		}
	}()
	return comp.Body(t, props, state)
}

func (e *Engine) beginHost(u *workUnit, renderLanes lane.Lanes) *workUnit {
	adapter := e.renderRoot.adapter
	tag := u.tag()
	kids := u.pendingKids

	if adapter.ShouldSetTextContent(tag, u.pendingProps) {
		// The adapter renders the text itself; no child units.
		kids = nil
	} else if cur := u.alternate; cur != nil && adapter.ShouldSetTextContent(tag, cur.memoizedProps) {
		// Switching from adapter-managed text back to real children.
		u.flags |= fContentReset
	}

	if cur := u.alternate; (cur == nil && u.ref != nil) || (cur != nil && cur.ref != u.ref) {
		u.flags |= fRef
	}

	u.child = e.reconcileChildren(u, currentChild(u), kids, renderLanes)
	return u.child
}

func (e *Engine) beginProvider(u *workUnit, renderLanes lane.Lanes) *workUnit {
	s := u.slot()
	value := u.pendingProps
	e.pushSlot(s, value, u)

	if cur := u.alternate; cur != nil && !identicalProps(cur.memoizedProps, value) {
		e.propagateSlotChange(u, s, renderLanes)
	}

	u.child = e.reconcileChildren(u, currentChild(u), u.pendingKids, renderLanes)
	return u.child
}

// suspendedMarker is the memoized state of a suspense boundary that
// committed its fallback.
type suspendedMarker struct{}

func (e *Engine) beginSuspense(u *workUnit, renderLanes lane.Lanes) *workUnit {
	if u.flags&fDidCapture != 0 {
		// A descendant reported a pending dependency this pass; show
		// the fallback and remember we did.
		u.memoizedState = suspendedMarker{}
		u.child = e.reconcileChildren(u, currentChild(u), u.pendingFallback, renderLanes)
	} else {
		u.memoizedState = nil
		u.child = e.reconcileChildren(u, currentChild(u), u.pendingKids, renderLanes)
	}
	return u.child
}

// currentChild returns the committed first child to diff against.
func currentChild(u *workUnit) *workUnit {
	if cur := u.alternate; cur != nil {
		return cur.child
	}
	return nil
}
