package loom

import (
	"strconv"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/weftlabs/weft/lane"
)

var slotSeq atomic.Uint64

// Slot is a named channel for passing a value down the tree without
// threading it through props. Values are published with Provide and read
// with Turn.Read; the nearest enclosing provider wins, and readers
// re-render when the value they saw changes, even across bailed-out
// ancestors.
type Slot struct {
	name string
	id   uint64
	def  any
}

// NewSlot creates a slot with the given debug name and default value. The
// default is what readers see outside any provider.
func NewSlot(name string, def any) *Slot {
	h := xxhash.New()
	_, _ = h.WriteString(name)
	_, _ = h.WriteString("#" + strconv.FormatUint(slotSeq.Add(1), 10))
	return &Slot{name: name, id: h.Sum64(), def: def}
}

// Name returns the debug name the slot was created with.
func (s *Slot) Name() string { return s.name }

// Default returns the value readers see outside any provider.
func (s *Slot) Default() any { return s.def }

func (s *Slot) String() string {
	return "slot(" + s.name + "#" + strconv.FormatUint(s.id&0xffff, 16) + ")"
}

// slotFrame is one pushed provider value. Frames form a stack owned by the
// render pass; owner identifies the provider unit so unwinding can pop
// exactly the frames that unit pushed.
type slotFrame struct {
	slot  *Slot
	value any
	owner *workUnit
}

// slotDep records that a unit read a slot and what it saw. Kept on the
// unit from one committed render to the next.
type slotDep struct {
	slot *Slot
	seen any
	next *slotDep
}

// pushSlot makes value the current reading of slot for the subtree below
// owner.
func (e *Engine) pushSlot(s *Slot, value any, owner *workUnit) {
	e.slotStack = append(e.slotStack, slotFrame{slot: s, value: value, owner: owner})
}

// popSlotsFor pops every frame owner pushed. Called when the provider
// completes or unwinds.
func (e *Engine) popSlotsFor(owner *workUnit) {
	for len(e.slotStack) > 0 && e.slotStack[len(e.slotStack)-1].owner == owner {
		e.slotStack = e.slotStack[:len(e.slotStack)-1]
	}
}

// currentSlotValue returns the innermost pushed value for s, falling back
// to the slot default.
func (e *Engine) currentSlotValue(s *Slot) any {
	for i := len(e.slotStack) - 1; i >= 0; i-- {
		if e.slotStack[i].slot == s {
			return e.slotStack[i].value
		}
	}
	return s.def
}

// readSlot resolves the current value of s for unit and records the
// dependency for change propagation.
func (e *Engine) readSlot(u *workUnit, s *Slot) any {
	value := e.currentSlotValue(s)
	dep := &slotDep{slot: s, seen: value}
	if u.depsTail == nil {
		u.deps = dep
	} else {
		u.depsTail.next = dep
	}
	u.depsTail = dep
	return value
}

// propagateSlotChange walks the subtree below provider and marks every
// unit whose recorded dependencies include the provider's slot. Marked
// units get renderLanes OR'd into their lanes, and the ancestor chain up
// to the provider gets childLanes marked, so the scheduled-work test
// keeps descending even where props-identity bailouts would otherwise
// stop it. The walk runs over the previously committed children (the
// in-progress copies do not exist yet), so every mark lands on both the
// unit and its alternate.
func (e *Engine) propagateSlotChange(provider *workUnit, s *Slot, renderLanes lane.Lanes) {
	if provider.child != nil {
		provider.child.parent = provider
	}
	u := provider.child
	for u != nil {
		var next *workUnit
		matched := false
		for dep := u.deps; dep != nil; dep = dep.next {
			if dep.slot == s {
				matched = true
				break
			}
		}
		switch {
		case matched:
			u.lanes = lane.Merge(u.lanes, renderLanes)
			if alt := u.alternate; alt != nil {
				alt.lanes = lane.Merge(alt.lanes, renderLanes)
			}
			markAncestorChildLanes(u, provider, renderLanes)
			// Keep walking: the subtree may hold further readers.
			next = u.child
		case u.kind == KindProvider && u.typ == s:
			// A nested provider of the same slot shadows this change.
			next = nil
		default:
			next = u.child
		}

		if next == nil {
			next = u.sibling
			for next == nil {
				u = u.parent
				if u == nil || u == provider || u == provider.alternate {
					return
				}
				next = u.sibling
			}
		}
		u = next
	}
}

// markAncestorChildLanes ORs renderLanes into childLanes on every unit
// from u's parent up to and including stop, alternates included. The
// chain may run through either tree of the unit pair, so termination
// checks both stop and its alternate.
func markAncestorChildLanes(u, stop *workUnit, renderLanes lane.Lanes) {
	stopAlt := stop.alternate
	for p := u.parent; p != nil; p = p.parent {
		p.childLanes = lane.Merge(p.childLanes, renderLanes)
		if alt := p.alternate; alt != nil {
			alt.childLanes = lane.Merge(alt.childLanes, renderLanes)
		}
		if p == stop || p == stopAlt {
			return
		}
	}
}
