package loom

import (
	"github.com/weftlabs/weft/lane"
)

// passResult is the outcome of driving a render pass until it yields,
// completes or dies.
type passResult uint8

const (
	// passIncomplete means the budget ran out; the partial tree is kept
	// and the pass resumes later.
	passIncomplete passResult = iota
	// passCompleted means the in-progress tree is fully built and ready
	// to commit.
	passCompleted
	// passDelayed means the pass finished but chose to park instead of
	// committing a fallback over visible content.
	passDelayed
	// passFatal means an error escaped every boundary.
	passFatal
)

// renderPass drives reconciliation for r at the given lanes. A
// concurrent pass checks the scheduler budget between units and stops at
// passIncomplete when it expires; a synchronous pass never checks.
//
// Passes resume: when the previous invocation stopped mid-tree at the
// same lanes, work continues from the saved cursor. Anything else (other
// root, other lanes) discards the partial tree and starts fresh.
func (e *Engine) renderPass(r *Root, lanes lane.Lanes, concurrent bool) passResult {
	if e.renderRoot != r || e.wipLanes != lanes || e.wipRoot == nil {
		e.prepareFreshStack(r, lanes)
	}

	prevExec := e.exec
	e.exec |= execRender
	defer func() { e.exec = prevExec }()

	for e.wip != nil && e.fatal == nil {
		if concurrent && e.sched.ShouldYield() {
			r.stats.Yields++
			return passIncomplete
		}
		e.performUnit(e.wip, lanes)
	}

	if e.fatal != nil {
		return passFatal
	}
	if e.passDelayed {
		return passDelayed
	}
	return passCompleted
}

// prepareFreshStack discards whatever pass was in flight and roots a new
// one: a work-in-progress clone of the committed root unit, an empty
// slot stack, and the ping consumed for the lanes being attempted.
func (e *Engine) prepareFreshStack(r *Root, lanes lane.Lanes) {
	if e.wipRoot != nil && e.wip != nil {
		if prev := e.renderRoot; prev != nil {
			prev.stats.Restarts++
		}
	}

	e.renderRoot = r
	e.wipLanes = lanes
	e.fatal = nil
	e.passDelayed = false
	e.slotStack = e.slotStack[:0]

	r.pinged = lane.Remove(r.pinged, lanes)

	wipRoot := cloneForWork(r.current, nil)
	e.wipRoot = wipRoot
	e.wip = wipRoot
	r.stats.PassesStarted++
}

// discardPass throws away the in-progress tree, typically because more
// urgent lanes preempted it.
func (e *Engine) discardPass() {
	if e.wipRoot != nil && e.wip != nil {
		if r := e.renderRoot; r != nil {
			r.stats.Restarts++
		}
	}
	e.renderRoot = nil
	e.wipRoot = nil
	e.wip = nil
	e.wipLanes = lane.None
	e.fatal = nil
	e.passDelayed = false
	e.slotStack = e.slotStack[:0]
}

// performUnit processes one unit: begin, then either descend or complete
// the finished path. Failures route through boundary capture.
func (e *Engine) performUnit(u *workUnit, renderLanes lane.Lanes) {
	e.renderRoot.stats.UnitsVisited++

	next, err := e.beginUnit(u, renderLanes)
	u.memoizedProps = u.pendingProps
	u.memoizedKids = u.pendingKids
	u.memoizedText = u.pendingText

	if err != nil {
		e.handleThrow(u, err, renderLanes)
		return
	}
	if next == nil {
		e.completePath(u, renderLanes)
		return
	}
	e.wip = next
}

// completePath runs completion bottom-up from u, moving to a sibling the
// moment one exists and otherwise climbing until the root unit is
// complete.
func (e *Engine) completePath(u *workUnit, renderLanes lane.Lanes) {
	for {
		if err := e.completeUnit(u); err != nil {
			e.handleThrow(u, err, renderLanes)
			return
		}
		if sib := u.sibling; sib != nil {
			e.wip = sib
			return
		}
		u = u.parent
		if u == nil {
			e.wip = nil
			return
		}
	}
}
