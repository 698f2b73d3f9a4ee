package loom

import (
	"fmt"

	"github.com/weftlabs/weft/lane"
	"github.com/weftlabs/weft/sched"
)

// commitPass applies a completed in-progress tree. The three synchronous
// stages run back to back with no yielding: pre-mutation observation,
// host mutation, then layout. The deferred stage (Effect pairs) is
// posted to the scheduler and runs after the commit is visible.
//
// The committed tree pointer swaps between mutation and layout, so
// mutation-side code sees the outgoing tree as current while layout-side
// code already sees the new one.
func (r *Root) commitPass(lanes lane.Lanes) error {
	e := r.engine
	finished := e.wipRoot
	if finished == nil {
		panic("loom: commit without a finished tree")
	}
	e.wipRoot = nil
	e.wip = nil
	e.renderRoot = nil
	e.wipLanes = lane.None

	// An unflushed deferred stage from the previous commit runs first,
	// keeping pair ordering intact across commits.
	if err := e.flushPassiveWork(); err != nil {
		return err
	}

	prevExec := e.exec
	e.exec |= execCommit
	defer func() { e.exec = prevExec }()

	// Everything not rendered this pass stays pending. Suspension
	// bookkeeping resets; the committed result supersedes it.
	remaining := lane.Merge(finished.lanes, finished.childLanes)
	r.pending = remaining
	r.suspended = lane.None
	r.pinged = lane.None
	r.expired = r.expired & remaining
	r.trimExpirations(remaining)

	if err := e.commitBeforeMutation(finished); err != nil {
		return err
	}
	if err := e.commitMutation(r, finished); err != nil {
		return err
	}

	r.current = finished

	if err := e.commitLayout(r, finished); err != nil {
		return err
	}

	needPassive := finished.flags&passiveMask != 0 ||
		finished.subtreeFlags&passiveMask != 0 ||
		len(e.commitDeletions) > 0
	if needPassive {
		e.pendingPassive = &passiveWork{root: r, finished: finished, deletions: e.commitDeletions}
		e.commitDeletions = nil
		e.sched.Post(sched.Normal, func(bool) sched.Callback {
			e.flushPassiveSafely()
			return nil
		})
	} else {
		e.commitDeletions = nil
	}

	r.stats.Commits++
	e.log().Debug().
		Str("root", r.name).
		Str("lanes", lanes.String()).
		Str("remaining", r.pending.String()).
		Bool("passive", needPassive).
		Log("committed")
	return nil
}

// commitBeforeMutation fires BeforeMutation hooks bottom-up with the
// outgoing props and state, before any mutation of this commit lands.
func (e *Engine) commitBeforeMutation(u *workUnit) error {
	if u.subtreeFlags&beforeMutationMask != 0 {
		for c := u.child; c != nil; c = c.sibling {
			if err := e.commitBeforeMutation(c); err != nil {
				return err
			}
		}
	}
	if u.flags&fBeforeMutation != 0 && u.kind == KindComposite {
		if cur := u.alternate; cur != nil {
			if err := e.runGuarded(u, func() {
				u.component().BeforeMutation(cur.memoizedProps, cur.memoizedState)
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// commitMutation applies deletions, placements, host updates and content
// resets. Deletions recorded on a unit run before its children's own
// mutations, and a child's placement lands before its parent's.
func (e *Engine) commitMutation(r *Root, u *workUnit) error {
	for _, d := range u.deletions {
		if err := e.commitDeletion(r, u, d); err != nil {
			return err
		}
	}
	u.deletions = nil
	if u.subtreeFlags&mutationMask != 0 {
		for c := u.child; c != nil; c = c.sibling {
			if err := e.commitMutation(r, c); err != nil {
				return err
			}
		}
	}
	return e.commitMutationOnUnit(r, u)
}

func (e *Engine) commitMutationOnUnit(r *Root, u *workUnit) error {
	adapter := r.adapter

	switch u.kind {
	case KindHost:
		if u.flags&fRef != 0 {
			if cur := u.alternate; cur != nil && cur.ref != nil && cur.ref != u.ref {
				cur.ref.Current = nil
			}
		}
		if u.flags&fContentReset != 0 {
			if err := adapter.ResetTextContent(u.instance, u.tag()); err != nil {
				return err
			}
		}
		if u.flags&fPlacement != 0 {
			if err := e.commitPlacement(r, u); err != nil {
				return err
			}
			u.flags &^= fPlacement
			r.stats.Placements++
		}
		if u.flags&fUpdate != 0 && u.instance != nil {
			if err := adapter.CommitUpdate(u.instance, u.tag(), u.hostDiff); err != nil {
				return err
			}
			u.hostDiff = nil
		}

	case KindText:
		if u.flags&fPlacement != 0 {
			if err := e.commitPlacement(r, u); err != nil {
				return err
			}
			u.flags &^= fPlacement
			r.stats.Placements++
		}
		if u.flags&fUpdate != 0 && u.instance != nil {
			oldText := ""
			if cur := u.alternate; cur != nil {
				oldText = cur.memoizedText
			}
			if err := adapter.CommitTextUpdate(u.instance, oldText, u.pendingText); err != nil {
				return err
			}
		}

	case KindComposite:
		if u.flags&fPlacement != 0 {
			if err := e.commitPlacement(r, u); err != nil {
				return err
			}
			u.flags &^= fPlacement
		}
		// Layout pairs: the outgoing teardown runs during mutation so
		// every teardown of the commit precedes every setup.
		if u.flags&fLayout != 0 && u.layoutTeardown != nil {
			teardown := u.layoutTeardown
			u.layoutTeardown = nil
			if err := e.runGuarded(u, teardown); err != nil {
				return err
			}
		}

	default:
		if u.flags&fPlacement != 0 {
			if err := e.commitPlacement(r, u); err != nil {
				return err
			}
			u.flags &^= fPlacement
		}
	}
	return nil
}

// commitPlacement attaches the host instances under u at their new
// position: before the next stable host sibling, or appended when none
// exists.
func (e *Engine) commitPlacement(r *Root, u *workUnit) error {
	parent := hostParentOf(u)
	before := hostSiblingOf(u)
	if parent.kind == KindRoot {
		return e.insertOrAppend(r, u, before, nil, true)
	}
	// Leftover adapter-managed text clears before the first insertion;
	// the flag drops so the parent's own visit does not reset again.
	if parent.flags&fContentReset != 0 {
		if err := r.adapter.ResetTextContent(parent.instance, parent.tag()); err != nil {
			return err
		}
		parent.flags &^= fContentReset
	}
	return e.insertOrAppend(r, u, before, parent.instance, false)
}

// insertOrAppend places u's nearest host descendants. Composites place
// whatever hosts they resolve to.
func (e *Engine) insertOrAppend(r *Root, u *workUnit, before, hostParent Instance, isContainer bool) error {
	adapter := r.adapter
	if u.kind == KindHost || u.kind == KindText {
		switch {
		case isContainer && before != nil:
			return adapter.InsertInContainerBefore(u.instance, before)
		case isContainer:
			return adapter.AppendToContainer(u.instance)
		case before != nil:
			return adapter.InsertBefore(hostParent, u.instance, before)
		default:
			return adapter.AppendChild(hostParent, u.instance)
		}
	}
	for c := u.child; c != nil; c = c.sibling {
		if err := e.insertOrAppend(r, c, before, hostParent, isContainer); err != nil {
			return err
		}
	}
	return nil
}

// hostParentOf resolves the unit whose instance (or the root container,
// for KindRoot) u's instances physically attach under.
func hostParentOf(u *workUnit) *workUnit {
	for p := u.parent; p != nil; p = p.parent {
		if p.kind == KindHost || p.kind == KindRoot {
			return p
		}
	}
	panic("loom: unit has no host parent")
}

// hostSiblingOf finds the instance u must be inserted before: the first
// host descendant of a following sibling that is not itself moving in
// this commit. Nil means append.
func hostSiblingOf(u *workUnit) Instance {
	node := u
siblings:
	for {
		for node.sibling == nil {
			p := node.parent
			if p == nil || p.kind == KindHost || p.kind == KindRoot {
				return nil
			}
			node = p
		}
		node.sibling.parent = node.parent
		node = node.sibling
		for node.kind != KindHost && node.kind != KindText {
			if node.flags&fPlacement != 0 {
				// Moving too; its final position is unknown.
				continue siblings
			}
			if node.child == nil {
				continue siblings
			}
			node.child.parent = node
			node = node.child
		}
		if node.flags&fPlacement == 0 {
			return node.instance
		}
	}
}

// commitDeletion tears one recorded deletion down: layout teardowns and
// ref detachment fire parent-first, host instances detach at the topmost
// deleted host only, and the subtree is kept for the deferred stage's
// Effect teardowns before final detachment.
func (e *Engine) commitDeletion(r *Root, parent, deleted *workUnit) error {
	hostParent, isContainer := hostParentForDeletion(parent)
	if err := e.deleteUnit(r, deleted, hostParent, isContainer); err != nil {
		return err
	}
	e.commitDeletions = append(e.commitDeletions, deleted)
	return nil
}

// hostParentForDeletion resolves the instance the deleted subtree's
// topmost hosts detach from, starting at the unit that recorded the
// deletion.
func hostParentForDeletion(parent *workUnit) (Instance, bool) {
	p := parent
	for p != nil {
		switch p.kind {
		case KindHost:
			return p.instance, false
		case KindRoot:
			return nil, true
		}
		p = p.parent
	}
	panic("loom: deletion has no host parent")
}

func (e *Engine) deleteUnit(r *Root, u *workUnit, hostParent Instance, isContainer bool) error {
	adapter := r.adapter

	switch u.kind {
	case KindHost, KindText:
		if u.kind == KindHost && u.ref != nil {
			u.ref.Current = nil
		}
		// Below a detached instance nothing else needs detaching.
		for c := u.child; c != nil; c = c.sibling {
			if err := e.deleteUnit(r, c, nil, false); err != nil {
				return err
			}
		}
		if u.instance != nil && (isContainer || hostParent != nil) {
			var err error
			if isContainer {
				err = adapter.RemoveFromContainer(u.instance)
			} else {
				err = adapter.RemoveChild(hostParent, u.instance)
			}
			if err != nil {
				return err
			}
		}

	case KindComposite:
		if td := u.layoutTeardown; td != nil {
			u.layoutTeardown = nil
			if err := e.runGuarded(u, td); err != nil {
				return err
			}
		}
		for c := u.child; c != nil; c = c.sibling {
			if err := e.deleteUnit(r, c, hostParent, isContainer); err != nil {
				return err
			}
		}

	default:
		for c := u.child; c != nil; c = c.sibling {
			if err := e.deleteUnit(r, c, hostParent, isContainer); err != nil {
				return err
			}
		}
	}
	return nil
}

// commitLayout runs the layout stage: children strictly before parents,
// Layout hooks, queued update callbacks, then ref attachment.
func (e *Engine) commitLayout(r *Root, u *workUnit) error {
	if u.subtreeFlags&layoutMask != 0 {
		for c := u.child; c != nil; c = c.sibling {
			if err := e.commitLayout(r, c); err != nil {
				return err
			}
		}
	}

	if u.kind == KindComposite && u.flags&fLayout != 0 {
		comp := u.component()
		if comp.Layout != nil {
			if err := e.runGuarded(u, func() {
				u.layoutTeardown = comp.Layout(u.memoizedProps, u.memoizedState)
			}); err != nil {
				return err
			}
		}
	}

	if u.flags&fCallback != 0 && u.queue != nil {
		state := u.memoizedState
		for _, cb := range u.queue.takeCallbacks() {
			if err := e.runGuarded(u, func() { cb(state) }); err != nil {
				return err
			}
		}
	}

	if u.kind == KindHost && u.flags&fRef != 0 && u.ref != nil {
		u.ref.Current = u.instance
	}
	return nil
}

// passiveWork is one commit's deferred stage, waiting to flush.
type passiveWork struct {
	root      *Root
	finished  *workUnit
	deletions []*workUnit
}

// flushPassiveSafely drains the deferred stage and routes a hook failure
// to the root that owns it. Rendering must not start over an unflushed
// deferred stage: clones snapshot teardowns, so flushing late would hand
// the next commit a stale pair.
func (e *Engine) flushPassiveSafely() {
	pw := e.pendingPassive
	if pw == nil {
		return
	}
	if err := e.flushPassiveWork(); err != nil {
		pw.root.handleFatal(err)
	}
}

// flushPassiveWork runs the deferred Effect stage of the last commit:
// every teardown in the affected subtree (deleted units included), then
// every setup, both child-first. Deleted subtrees detach afterwards.
func (e *Engine) flushPassiveWork() error {
	pw := e.pendingPassive
	if pw == nil {
		return nil
	}
	e.pendingPassive = nil

	for _, d := range pw.deletions {
		if err := e.passiveUnmountDeleted(d); err != nil {
			return err
		}
	}
	if err := e.passiveTeardowns(pw.finished); err != nil {
		return err
	}
	if err := e.passiveSetups(pw.finished); err != nil {
		return err
	}
	for _, d := range pw.deletions {
		detachSubtree(d)
	}
	pw.root.stats.PassiveFlushes++
	return nil
}

// passiveUnmountDeleted fires Effect teardowns in a deleted subtree,
// parents first, mirroring the layout teardown order of the mutation
// stage.
func (e *Engine) passiveUnmountDeleted(u *workUnit) error {
	if td := u.passiveTeardown; td != nil {
		u.passiveTeardown = nil
		if err := e.runGuarded(u, td); err != nil {
			return err
		}
	}
	for c := u.child; c != nil; c = c.sibling {
		if err := e.passiveUnmountDeleted(c); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) passiveTeardowns(u *workUnit) error {
	if u.subtreeFlags&fPassive != 0 {
		for c := u.child; c != nil; c = c.sibling {
			if err := e.passiveTeardowns(c); err != nil {
				return err
			}
		}
	}
	if u.flags&fPassive != 0 {
		if td := u.passiveTeardown; td != nil {
			u.passiveTeardown = nil
			if err := e.runGuarded(u, td); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) passiveSetups(u *workUnit) error {
	if u.subtreeFlags&fPassive != 0 {
		for c := u.child; c != nil; c = c.sibling {
			if err := e.passiveSetups(c); err != nil {
				return err
			}
		}
	}
	if u.flags&fPassive != 0 && u.kind == KindComposite {
		comp := u.component()
		if comp.Effect != nil {
			if err := e.runGuarded(u, func() {
				u.passiveTeardown = comp.Effect(u.memoizedProps, u.memoizedState)
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// detachSubtree severs a deleted subtree bottom-up once nothing will
// call into it again.
func detachSubtree(u *workUnit) {
	c := u.child
	for c != nil {
		next := c.sibling
		detachSubtree(c)
		c = next
	}
	u.detach()
}

// runGuarded invokes a user hook, converting a panic into an error
// attributed to the unit.
func (e *Engine) runGuarded(u *workUnit, fn func()) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if recErr, ok := rec.(error); ok {
				err = fmt.Errorf("loom: panic in %s hook: %w", u.name(), recErr)
			} else {
				err = fmt.Errorf("loom: panic in %s hook: %v", u.name(), rec)
			}
		}
	}()
	fn()
	return nil
}
