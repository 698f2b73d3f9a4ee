package loom

import (
	"reflect"

	"github.com/weftlabs/weft/lane"
)

// unitFlags mark the side effects a unit owes the next commit, plus
// transient bookkeeping for error unwinding. subtreeFlags aggregate the
// flags below a unit so commit walks can skip untouched branches.
type unitFlags uint32

const (
	fPlacement unitFlags = 1 << iota
	fUpdate
	fChildDeletion
	fContentReset
	fCallback
	fBeforeMutation
	fRef
	fLayout
	fPassive
	fIncomplete
	fShouldCapture
	fDidCapture
)

const (
	mutationMask       = fPlacement | fUpdate | fChildDeletion | fContentReset | fRef
	layoutMask         = fUpdate | fCallback | fRef | fLayout
	beforeMutationMask = fBeforeMutation
	passiveMask        = fPassive | fChildDeletion
	// Flags cleared when a boundary re-begins after capturing.
	incompleteMask = fIncomplete | fShouldCapture
)

// workUnit is one node of the engine's working tree. Units come in pairs:
// the committed unit and its in-progress alternate share an update queue
// and swap roles at every commit, so at most two generations exist per
// logical node.
type workUnit struct {
	kind Kind
	// typ narrows within the kind: tag string, *Component, or *Slot.
	typ any
	key string
	// index is the position among siblings in the last placement.
	index int

	// Tree links. parent is the unit to return to, not ownership.
	parent  *workUnit
	child   *workUnit
	sibling *workUnit

	alternate *workUnit

	// Input for the pass in flight.
	pendingProps    any
	pendingKids     []Description
	pendingText     string
	pendingFallback []Description

	// Snapshot of the last committed pass.
	memoizedProps any
	memoizedKids  []Description
	memoizedText  string
	memoizedState any

	// renderState is the state the in-flight body call observed, before
	// it is memoized at completion.
	renderState any

	// queue holds pending state updates, shared with the alternate.
	queue *updateQueue

	// deps are the slot reads recorded by the last body call.
	deps     *slotDep
	depsTail *slotDep

	setter *Setter
	ref    *Ref

	flags        unitFlags
	subtreeFlags unitFlags
	deletions    []*workUnit

	lanes      lane.Lanes
	childLanes lane.Lanes

	// instance is the adapter handle for host and text units, and the
	// owning *Root for the root unit.
	instance any
	// hostDiff is the prepared property payload applied at mutation.
	hostDiff any

	// capturedErr is stashed on a boundary between capture and re-begin.
	capturedErr error

	layoutTeardown  func()
	passiveTeardown func()
}

// newUnitFromDescription builds a fresh unit for d, mounting for the
// first time with the given lanes.
func newUnitFromDescription(d Description, lanes lane.Lanes) *workUnit {
	u := &workUnit{
		kind:            d.Kind,
		typ:             d.Type,
		key:             d.Key,
		pendingProps:    d.Props,
		pendingKids:     d.Children,
		pendingText:     d.Text,
		pendingFallback: d.Fallback,
		ref:             d.Ref,
		lanes:           lanes,
	}
	return u
}

// cloneForWork returns the in-progress alternate of current, creating it
// on first use and resetting it otherwise. The clone starts from the
// committed snapshot: same child links, state, and instance, with effect
// flags and deletions cleared.
func cloneForWork(current *workUnit, d *Description) *workUnit {
	wip := current.alternate
	if wip == nil {
		wip = &workUnit{
			kind:      current.kind,
			typ:       current.typ,
			key:       current.key,
			alternate: current,
		}
		current.alternate = wip
	} else {
		wip.flags = 0
		wip.subtreeFlags = 0
		wip.deletions = nil
	}

	if d != nil {
		wip.pendingProps = d.Props
		wip.pendingKids = d.Children
		wip.pendingText = d.Text
		wip.pendingFallback = d.Fallback
		wip.ref = d.Ref
	} else {
		wip.pendingProps = current.pendingProps
		wip.pendingKids = current.pendingKids
		wip.pendingText = current.pendingText
		wip.pendingFallback = current.pendingFallback
		wip.ref = current.ref
	}

	wip.index = current.index
	wip.child = current.child
	wip.sibling = nil
	wip.parent = nil

	wip.memoizedProps = current.memoizedProps
	wip.memoizedKids = current.memoizedKids
	wip.memoizedText = current.memoizedText
	wip.memoizedState = current.memoizedState
	wip.renderState = nil

	wip.queue = current.queue
	wip.deps = current.deps
	wip.depsTail = nil

	wip.setter = current.setter
	wip.lanes = current.lanes
	wip.childLanes = current.childLanes

	wip.instance = current.instance
	wip.hostDiff = nil
	wip.capturedErr = nil

	wip.layoutTeardown = current.layoutTeardown
	wip.passiveTeardown = current.passiveTeardown
	return wip
}

// detach severs a deleted unit from the tree so nothing retained by the
// caller keeps the subtree alive.
func (u *workUnit) detach() {
	u.parent = nil
	u.child = nil
	u.sibling = nil
	u.deletions = nil
	u.deps = nil
	u.depsTail = nil
	u.queue = nil
	u.instance = nil
	u.hostDiff = nil
	u.layoutTeardown = nil
	u.passiveTeardown = nil
	if u.setter != nil {
		u.setter.detach()
		u.setter = nil
	}
	if alt := u.alternate; alt != nil {
		alt.alternate = nil
		u.alternate = nil
	}
}

// matches reports whether the unit can be reused for d: same kind, same
// narrow type, same key.
func (u *workUnit) matches(d Description) bool {
	if u.key != d.Key {
		return false
	}
	switch d.Kind {
	case KindHost:
		return u.kind == KindHost && u.typ == d.Type
	case KindText:
		return u.kind == KindText
	case KindComposite:
		return u.kind == KindComposite && u.typ == d.Type
	case KindFragment:
		return u.kind == KindFragment
	case KindProvider:
		return u.kind == KindProvider && u.typ == d.Type
	case KindSuspense:
		return u.kind == KindSuspense
	default:
		return false
	}
}

// component returns the unit's Component, panicking on kind confusion.
func (u *workUnit) component() *Component {
	c, ok := u.typ.(*Component)
	if !ok {
		panic("loom: unit is not a composite")
	}
	return c
}

// tag returns the unit's host tag, panicking on kind confusion.
func (u *workUnit) tag() string {
	s, ok := u.typ.(string)
	if !ok {
		panic("loom: unit is not a host")
	}
	return s
}

// slot returns the unit's provider slot, panicking on kind confusion.
func (u *workUnit) slot() *Slot {
	s, ok := u.typ.(*Slot)
	if !ok {
		panic("loom: unit is not a provider")
	}
	return s
}

// name renders a short identity for logs.
func (u *workUnit) name() string {
	switch u.kind {
	case KindHost:
		return "host:" + u.tag()
	case KindComposite:
		return "composite:" + u.component().name()
	case KindProvider:
		return "provider:" + u.slot().Name()
	default:
		return u.kind.String()
	}
}

// identicalProps reports reference identity for props values: equal
// interface values when both sides are comparable, never identical
// otherwise. Errs toward recompute, never toward stale output.
func identicalProps(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if !comparableValue(a) || !comparableValue(b) {
		return false
	}
	return a == b
}

func comparableValue(v any) bool {
	return reflect.TypeOf(v).Comparable()
}

// sameKids reports whether two child lists are the same slice: equal
// length over the same backing array. Fresh lists always differ; a list
// the caller reuses across renders compares equal and allows bailout.
func sameKids(a, b []Description) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return &a[0] == &b[0]
}
