package loom

import (
	"github.com/weftlabs/weft/lane"
)

// completeUnit is the bottom-up half of rendering: host units get their
// instance created or their property diff prepared, providers pop their
// value, and every unit aggregates child flags and lanes so commit walks
// and future passes can prune untouched subtrees.
func (e *Engine) completeUnit(u *workUnit) error {
	current := u.alternate

	switch u.kind {
	case KindHost:
		adapter := e.renderRoot.adapter
		if current != nil && u.instance != nil {
			if err := e.prepareHostDiff(u, current); err != nil {
				return err
			}
		} else {
			inst, err := adapter.CreateInstance(u.tag(), u.pendingProps)
			if err != nil {
				return err
			}
			u.instance = inst
			e.appendAllChildren(inst, u)
		}

	case KindText:
		if current != nil && u.instance != nil {
			if current.memoizedText != u.pendingText {
				u.flags |= fUpdate
			}
		} else {
			inst, err := e.renderRoot.adapter.CreateTextInstance(u.pendingText)
			if err != nil {
				return err
			}
			u.instance = inst
		}

	case KindProvider:
		e.popSlotsFor(u)

	case KindSuspense:
		// Visibility changed between content and fallback; let the
		// commit notice even if no host below it changed.
		if current != nil {
			wasSuspended := current.memoizedState != nil
			isSuspended := u.memoizedState != nil
			if wasSuspended != isSuspended {
				u.flags |= fUpdate
			}
		}
	}

	bubbleProperties(u)
	return nil
}

// prepareHostDiff asks the adapter to diff the committed props against
// the fresh ones. A non-nil payload is stashed for the mutation stage.
func (e *Engine) prepareHostDiff(u, current *workUnit) error {
	oldProps := current.memoizedProps
	newProps := u.pendingProps
	if identicalProps(oldProps, newProps) {
		return nil
	}
	payload, err := e.renderRoot.adapter.PrepareUpdate(u.instance, u.tag(), oldProps, newProps)
	if err != nil {
		return err
	}
	if payload != nil {
		u.hostDiff = payload
		u.flags |= fUpdate
	}
	return nil
}

// appendAllChildren attaches the nearest host descendants of a freshly
// created instance. The walk descends through composite layers but never
// into a deeper host: those attach their own children when they
// complete.
func (e *Engine) appendAllChildren(parent Instance, u *workUnit) {
	adapter := e.renderRoot.adapter
	node := u.child
	for node != nil {
		if node.kind == KindHost || node.kind == KindText {
			// Instances created below in this pass are still detached,
			// so attach cannot fail for a well-behaved adapter.
			_ = adapter.AppendChild(parent, node.instance)
		} else if node.child != nil {
			node.child.parent = node
			node = node.child
			continue
		}
		if node == u {
			return
		}
		for node.sibling == nil {
			if node.parent == nil || node.parent == u {
				return
			}
			node = node.parent
		}
		node.sibling.parent = node.parent
		node = node.sibling
	}
}

// bubbleProperties folds the children's flags and remaining lanes into
// the completed unit. When the children are borrowed from the committed
// tree (a bailout that cut the subtree off), only lanes bubble: the
// flags on committed units describe work an earlier commit already
// applied, and replaying them would fire duplicate host ops and hook
// pairs.
func bubbleProperties(u *workUnit) {
	borrowed := u.alternate != nil && u.alternate.child == u.child
	var subtree unitFlags
	var childLanes lane.Lanes
	for child := u.child; child != nil; child = child.sibling {
		if !borrowed {
			subtree |= child.subtreeFlags | child.flags
		}
		childLanes = lane.Merge(childLanes, lane.Merge(child.lanes, child.childLanes))
		child.parent = u
	}
	u.subtreeFlags |= subtree
	u.childLanes = childLanes
}
