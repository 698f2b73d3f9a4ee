package loom

import (
	"strconv"

	"github.com/weftlabs/weft/lane"
)

// reconcileChildren diffs the previous child units of parent against the
// freshly described kids and returns the head of the new child list.
// Reused units become work-in-progress clones of their committed
// counterparts; units with no counterpart are created fresh; committed
// units with no match are recorded on parent.deletions for the commit.
//
// Matching is by key when present, by position otherwise, and always
// requires the kind and narrow type to agree. A keyed reorder therefore
// moves instances instead of destroying them.
func (e *Engine) reconcileChildren(parent *workUnit, currentFirst *workUnit, kids []Description, renderLanes lane.Lanes) *workUnit {
	if len(kids) == 0 {
		e.deleteRemainingChildren(parent, currentFirst)
		return nil
	}
	if len(kids) == 1 {
		u := e.reconcileSingle(parent, currentFirst, kids[0], renderLanes)
		e.placeChild(u, 0, 0, parent.alternate != nil)
		return u
	}
	return e.reconcileArray(parent, currentFirst, kids, renderLanes)
}

// reconcileSingle matches one description against the previous children.
// The previous list is scanned for a key match; children before the match
// are deleted, and a match with the wrong type deletes the whole list.
func (e *Engine) reconcileSingle(parent, currentFirst *workUnit, d Description, renderLanes lane.Lanes) *workUnit {
	for child := currentFirst; child != nil; child = child.sibling {
		if child.key != d.Key {
			e.deleteChild(parent, child)
			continue
		}
		if child.matches(d) {
			e.deleteRemainingChildren(parent, child.sibling)
			existing := e.reuseUnit(child, d)
			existing.parent = parent
			return existing
		}
		// Same key, different shape: nothing below survives.
		e.deleteRemainingChildren(parent, child)
		break
	}
	created := e.createUnit(d, renderLanes)
	created.parent = parent
	return created
}

// reconcileArray implements the two-pass list diff.
//
// Pass one walks old and new children in lockstep while keys line up,
// reusing in place. On the first key mismatch it stops; whatever old
// children remain go into a key map, and pass two drains the new list
// against that map. Reused units whose old position precedes the last
// placed one are flagged for movement; everything left in the map at the
// end is deleted.
func (e *Engine) reconcileArray(parent, currentFirst *workUnit, kids []Description, renderLanes lane.Lanes) *workUnit {
	var (
		first, prev *workUnit
		lastPlaced  int
	)
	// A parent mounting for the first time assembles its subtree
	// offscreen; only the subtree's top unit needs a placement.
	track := parent.alternate != nil

	oldUnit := currentFirst
	newIdx := 0
	var nextOld *workUnit

	for ; oldUnit != nil && newIdx < len(kids); newIdx++ {
		if oldUnit.index > newIdx {
			nextOld = oldUnit
			oldUnit = nil
		} else {
			nextOld = oldUnit.sibling
		}
		u := e.updateSlot(parent, oldUnit, kids[newIdx], renderLanes)
		if u == nil {
			if oldUnit == nil {
				oldUnit = nextOld
			}
			break
		}
		if oldUnit != nil && u.alternate == nil {
			// Position matched but the unit was rebuilt, so the old
			// one is gone.
			e.deleteChild(parent, oldUnit)
		}
		lastPlaced = e.placeChild(u, lastPlaced, newIdx, track)
		u.parent = parent
		if prev == nil {
			first = u
		} else {
			prev.sibling = u
		}
		prev = u
		oldUnit = nextOld
	}

	if newIdx == len(kids) {
		// New list exhausted: every remaining old child is gone.
		e.deleteRemainingChildren(parent, oldUnit)
		return first
	}

	if oldUnit == nil {
		// Old list exhausted: the rest are fresh mounts.
		for ; newIdx < len(kids); newIdx++ {
			u := e.createUnit(kids[newIdx], renderLanes)
			lastPlaced = e.placeChild(u, lastPlaced, newIdx, track)
			u.parent = parent
			if prev == nil {
				first = u
			} else {
				prev.sibling = u
			}
			prev = u
		}
		return first
	}

	remaining := mapRemainingChildren(oldUnit)
	for ; newIdx < len(kids); newIdx++ {
		u := e.updateFromMap(remaining, parent, newIdx, kids[newIdx], renderLanes)
		if u == nil {
			continue
		}
		if u.alternate != nil {
			delete(remaining, mapKey(u.key, newIdx))
		}
		lastPlaced = e.placeChild(u, lastPlaced, newIdx, track)
		u.parent = parent
		if prev == nil {
			first = u
		} else {
			prev.sibling = u
		}
		prev = u
	}

	// Walk the old list rather than the map so leftover deletions are
	// recorded in document order.
	for old := oldUnit; old != nil; old = old.sibling {
		if remaining[mapKey(old.key, old.index)] == old {
			e.deleteChild(parent, old)
		}
	}
	return first
}

// updateSlot reuses or rebuilds the unit at one position during the
// lockstep pass. Returns nil on a key mismatch, which ends the pass.
func (e *Engine) updateSlot(parent, old *workUnit, d Description, renderLanes lane.Lanes) *workUnit {
	oldKey := ""
	if old != nil {
		oldKey = old.key
	}
	if d.Key != oldKey {
		return nil
	}
	return e.updateUnit(old, d, renderLanes)
}

// updateUnit reuses old for d when the shape agrees, otherwise creates a
// replacement with no alternate.
func (e *Engine) updateUnit(old *workUnit, d Description, renderLanes lane.Lanes) *workUnit {
	if old != nil && old.matches(d) {
		return e.reuseUnit(old, d)
	}
	return e.createUnit(d, renderLanes)
}

// updateFromMap resolves one new child against the leftover old children.
func (e *Engine) updateFromMap(remaining map[string]*workUnit, parent *workUnit, newIdx int, d Description, renderLanes lane.Lanes) *workUnit {
	old := remaining[mapKey(d.Key, newIdx)]
	return e.updateUnit(old, d, renderLanes)
}

// mapRemainingChildren indexes the unmatched old children by key, falling
// back to position for keyless units.
func mapRemainingChildren(first *workUnit) map[string]*workUnit {
	remaining := make(map[string]*workUnit)
	for u := first; u != nil; u = u.sibling {
		remaining[mapKey(u.key, u.index)] = u
	}
	return remaining
}

// mapKey disambiguates keyless children by position. Explicit keys are
// prefixed so a key that looks like a number cannot collide with an
// index.
func mapKey(key string, index int) string {
	if key != "" {
		return "k:" + key
	}
	return "i:" + strconv.Itoa(index)
}

// placeChild assigns the new index and decides whether the instance has
// to move. A reused unit whose old index is not behind the placement
// cursor keeps its position; everything else is flagged fPlacement for
// the mutation stage. With track false only the index is assigned.
func (e *Engine) placeChild(u *workUnit, lastPlaced, newIdx int, track bool) int {
	u.index = newIdx
	if !track {
		return lastPlaced
	}
	current := u.alternate
	if current != nil {
		if current.index < lastPlaced {
			u.flags |= fPlacement
			return lastPlaced
		}
		return current.index
	}
	u.flags |= fPlacement
	return lastPlaced
}

// reuseUnit clones a committed unit for the in-progress tree, adopting
// the new description's props.
func (e *Engine) reuseUnit(old *workUnit, d Description) *workUnit {
	wip := cloneForWork(old, &d)
	wip.index = old.index
	wip.sibling = nil
	if r := e.renderRoot; r != nil {
		r.stats.UnitsCloned++
	}
	return wip
}

func (e *Engine) createUnit(d Description, renderLanes lane.Lanes) *workUnit {
	u := newUnitFromDescription(d, renderLanes)
	if r := e.renderRoot; r != nil {
		r.stats.UnitsCreated++
	}
	return u
}

// deleteChild records child for removal at commit. The unit stays linked
// into the committed tree until the mutation stage tears it down.
func (e *Engine) deleteChild(parent, child *workUnit) {
	parent.deletions = append(parent.deletions, child)
	parent.flags |= fChildDeletion
	if r := e.renderRoot; r != nil {
		r.stats.UnitsDeleted++
	}
}

func (e *Engine) deleteRemainingChildren(parent, first *workUnit) {
	for child := first; child != nil; child = child.sibling {
		e.deleteChild(parent, child)
	}
}
