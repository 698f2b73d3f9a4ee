package loom

import (
	"errors"
	"fmt"

	"github.com/weftlabs/weft/lane"
	"github.com/weftlabs/weft/sched"
)

// handleThrow routes a failure raised while rendering u. A *Pending goes
// to the nearest suspense boundary, any other error to the nearest
// component with Catch; with no boundary the pass is aborted and the
// error becomes fatal for the root. In every boundary case the unwind
// restores the slot stack and re-targets the work cursor at the
// boundary, which re-begins in its captured state.
func (e *Engine) handleThrow(u *workUnit, err error, renderLanes lane.Lanes) {
	r := e.renderRoot

	var pending *Pending
	if errors.As(err, &pending) {
		if boundary := nearestSuspense(u); boundary != nil {
			boundary.flags |= fShouldCapture
			if cur := boundary.alternate; cur != nil && cur.memoizedState == nil {
				// The boundary is showing real content. Urgent work
				// still swaps in the fallback, but deprioritized work
				// would rather park and wait for the ping.
				if lane.Includes(lane.Merge(lane.AllTransient, lane.AllRetry), renderLanes) {
					e.passDelayed = true
				}
			}
			e.attachPing(r, boundary, pending, renderLanes)
			e.unwindToBoundary(u, renderLanes)
			r.stats.Suspensions++
			return
		}
		err = fmt.Errorf("loom: pending dependency with no suspense boundary above %s: %w", u.name(), err)
	}

	if boundary := nearestCatch(u); boundary != nil {
		boundary.flags |= fShouldCapture
		boundary.capturedErr = err
		catch := boundary.component().Catch
		failure := err
		boundary.queue.enqueue(&update{
			lane: lane.HighestPriority(renderLanes),
			kind: updReplace,
			payload: func(any) any {
				return catch(failure)
			},
		})
		boundary.lanes = lane.Merge(boundary.lanes, renderLanes)
		if alt := boundary.alternate; alt != nil {
			alt.lanes = lane.Merge(alt.lanes, renderLanes)
		}
		e.unwindToBoundary(u, renderLanes)
		r.stats.ErrorsCaptured++
		e.log().Err().Err(err).Str("boundary", boundary.name()).Log("render error captured")
		return
	}

	e.fatal = err
	e.wip = nil
	e.unwindSlots(u)
}

// nearestSuspense finds the closest enclosing suspense boundary that has
// not already captured during this pass.
func nearestSuspense(u *workUnit) *workUnit {
	for p := u.parent; p != nil; p = p.parent {
		if p.kind == KindSuspense && p.flags&fDidCapture == 0 {
			return p
		}
	}
	return nil
}

// nearestCatch finds the closest enclosing error boundary. A boundary
// whose own output failed cannot catch that failure, and one that
// captured already this pass is skipped so a faulty fallback climbs to
// the next boundary instead of looping.
func nearestCatch(u *workUnit) *workUnit {
	for p := u.parent; p != nil; p = p.parent {
		if p.kind == KindComposite && p.component().Catch != nil && p.flags&fDidCapture == 0 {
			return p
		}
	}
	return nil
}

// unwindToBoundary walks from the failed unit up to the marked boundary,
// popping provider values pushed on the way down and marking the path
// incomplete. The boundary is scrubbed of the aborted attempt's
// reconcile bookkeeping and becomes the next work unit.
func (e *Engine) unwindToBoundary(from *workUnit, renderLanes lane.Lanes) {
	for u := from; u != nil; u = u.parent {
		if u.kind == KindProvider {
			e.popSlotsFor(u)
		}
		if u.flags&fShouldCapture != 0 {
			u.flags &^= incompleteMask
			u.flags |= fDidCapture
			resetReconcileState(u)
			e.wip = u
			return
		}
		u.flags |= fIncomplete
	}
	// No marked boundary on the path; the pass cannot continue.
	e.fatal = errors.New("loom: unwind found no capturing boundary")
	e.wip = nil
}

// unwindSlots pops every provider frame from the failed unit to the
// root. Used on the fatal path, where no boundary re-begins.
func (e *Engine) unwindSlots(from *workUnit) {
	for u := from; u != nil; u = u.parent {
		if u.kind == KindProvider {
			e.popSlotsFor(u)
		}
	}
	e.slotStack = e.slotStack[:0]
}

// resetReconcileState clears everything a begin attempt left on the
// boundary so the captured re-begin starts from the committed tree
// again. Without this a deletion recorded by the aborted attempt would
// be torn down twice.
func resetReconcileState(u *workUnit) {
	u.deletions = nil
	u.flags &^= fChildDeletion
	u.subtreeFlags = 0
	if cur := u.alternate; cur != nil {
		u.child = cur.child
	} else {
		u.child = nil
	}
}

// attachPing arranges for the root to re-render once p resolves. Each
// pending dependency is watched at most once; the notification crosses
// back onto the engine goroutine through the scheduler.
func (e *Engine) attachPing(r *Root, boundary *workUnit, p *Pending, renderLanes lane.Lanes) {
	if !e.pings.Add(p) {
		return
	}
	notify := func() {
		e.sched.Post(sched.Normal, func(bool) sched.Callback {
			e.pings.Remove(p)
			r.pinged = lane.Merge(r.pinged, renderLanes)
			retry := lane.ClaimRetry(&e.retryCursor)
			e.scheduleUnit(boundary, retry)
			r.stats.Pings++
			return nil
		})
	}
	// A dependency that resolved between the failed read and here still
	// needs its wakeup.
	if !p.subscribe(notify) {
		notify()
	}
}
