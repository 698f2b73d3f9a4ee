package loom

import (
	"github.com/weftlabs/weft/lane"
)

type updateKind uint8

const (
	// updReplace swaps the state for the resolved payload.
	updReplace updateKind = iota
	// updMerge shallow-merges the resolved payload, a map, into the
	// previous state.
	updMerge
	// updForce re-renders without changing state, defeating bailout.
	updForce
)

// update is one queued state change, tagged with the lane it was
// dispatched on. Updates form singly linked lists; a node may sit on the
// base lists of both tree generations at once, so nodes are never mutated
// after enqueue apart from their link.
type update struct {
	lane lane.Lane
	kind updateKind
	// payload is the next value, or a func(prev any) any computing it.
	payload  any
	callback func(state any)
	next     *update
}

func (up *update) apply(prev any) any {
	switch up.kind {
	case updReplace:
		return resolvePayload(up.payload, prev)
	case updMerge:
		return mergeState(prev, resolvePayload(up.payload, prev))
	case updForce:
		return prev
	default:
		panic("loom: unknown update kind")
	}
}

func resolvePayload(payload, prev any) any {
	if fn, ok := payload.(func(any) any); ok {
		return fn(prev)
	}
	return payload
}

// mergeState overlays a partial map onto the previous state. A mismatched
// shape is a contract violation, not a recoverable condition.
func mergeState(prev, partial any) any {
	if partial == nil {
		return prev
	}
	pm, ok := partial.(map[string]any)
	if !ok {
		panic("loom: merge update payload must be map[string]any")
	}
	var base map[string]any
	if prev != nil {
		base, ok = prev.(map[string]any)
		if !ok {
			panic("loom: merge update applied to non-map state")
		}
	}
	merged := make(map[string]any, len(base)+len(pm))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range pm {
		merged[k] = v
	}
	return merged
}

// sharedPending is the enqueue side of a queue, shared between the two
// generations of a unit so a dispatch lands regardless of which buffer is
// current. pending points at the LAST update of a circular list.
type sharedPending struct {
	pending *update
}

// updateQueue holds the not-yet-committed state changes of one unit
// generation.
//
// baseState is the state before firstBase; replaying the base list on top
// of it, filtered by lane, yields the render state. When a pass skips an
// update (lane not selected), the skipped update and everything after it
// stay on the base list, applied updates included, so a later pass that
// picks up the skipped lane replays them in original dispatch order.
type updateQueue struct {
	baseState any
	firstBase *update
	lastBase  *update
	shared    *sharedPending
	// callbacks collected from applied updates, fired in the layout
	// stage of the commit that made their state visible.
	callbacks []func(state any)
}

func newUpdateQueue(initial any) *updateQueue {
	return &updateQueue{baseState: initial, shared: &sharedPending{}}
}

// cloneForWork gives the in-progress generation its own base list so a
// discarded pass cannot corrupt the committed one. The shared enqueue
// side is carried over by reference.
func (q *updateQueue) cloneForWork() *updateQueue {
	return &updateQueue{
		baseState: q.baseState,
		firstBase: q.firstBase,
		lastBase:  q.lastBase,
		shared:    q.shared,
	}
}

// enqueue appends up to the circular pending list.
func (q *updateQueue) enqueue(up *update) {
	s := q.shared
	if s.pending == nil {
		up.next = up
	} else {
		up.next = s.pending.next
		s.pending.next = up
	}
	s.pending = up
}

// process computes the render state for the selected lanes.
//
// Pending updates are first folded onto the base lists of both
// generations. The base list is then replayed on top of baseState:
// updates whose lane is selected apply in order; the rest are skipped but
// kept, freezing baseState at the first skip so the relative order of
// every update survives partial processing. Returns the render state and
// the lanes still parked on the queue.
func (u *workUnit) processQueue(renderLanes lane.Lanes) (state any, skipped lane.Lanes) {
	q := u.queue
	if q == nil {
		panic("loom: unit has no update queue")
	}
	// Fork the base list on first touch so a discarded pass cannot
	// corrupt the committed generation's replay data.
	if alt := u.alternate; alt != nil && alt.queue == q {
		q = q.cloneForWork()
		u.queue = q
	}

	if pend := q.shared.pending; pend != nil {
		q.shared.pending = nil
		first := pend.next
		pend.next = nil

		appendBase(q, first, pend)
		if alt := u.alternate; alt != nil && alt.queue != nil && alt.queue != q {
			appendBase(alt.queue, first, pend)
		}
	}

	state = q.baseState
	var (
		newBaseState      any
		haveNewBase       bool
		newFirst, newLast *update
	)

	for up := q.firstBase; up != nil; up = up.next {
		selected := up.lane == 0 || lane.Intersects(up.lane.Set(), renderLanes)
		if !selected {
			clone := &update{lane: up.lane, kind: up.kind, payload: up.payload, callback: up.callback}
			if newLast == nil {
				newFirst, newLast = clone, clone
				newBaseState = state
				haveNewBase = true
			} else {
				newLast.next = clone
				newLast = clone
			}
			skipped = lane.Merge(skipped, up.lane.Set())
			continue
		}

		if newLast != nil {
			// An earlier skip froze the base state, so applied updates
			// must stay on the list for replay. The callback is dropped
			// from the clone: it fires for this pass and must not fire
			// again.
			clone := &update{kind: up.kind, payload: up.payload}
			newLast.next = clone
			newLast = clone
		}

		state = up.apply(state)
		if up.callback != nil {
			q.callbacks = append(q.callbacks, up.callback)
			u.flags |= fCallback
		}
	}

	if !haveNewBase {
		newBaseState = state
	}
	q.baseState = newBaseState
	q.firstBase = newFirst
	q.lastBase = newLast
	return state, skipped
}

// appendBase links the run first..last onto q's base list, guarding
// against the run already being there (both generations can share tail
// nodes).
func appendBase(q *updateQueue, first, last *update) {
	if q.lastBase == last {
		return
	}
	if q.lastBase == nil {
		q.firstBase = first
	} else {
		q.lastBase.next = first
	}
	q.lastBase = last
}

// takeCallbacks drains the applied-update callbacks for the commit.
func (q *updateQueue) takeCallbacks() []func(state any) {
	cbs := q.callbacks
	q.callbacks = nil
	return cbs
}
