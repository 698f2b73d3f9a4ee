package loom

import (
	"time"

	"github.com/weftlabs/weft/lane"
	"github.com/weftlabs/weft/sched"
)

// RootStatus is the scheduling state of a root.
type RootStatus int32

const (
	// StatusIdle means no work is pending or scheduled.
	StatusIdle RootStatus = iota
	// StatusPending means a traversal is scheduled but not started.
	StatusPending
	// StatusRendering means a traversal is on the stack right now.
	StatusRendering
	// StatusYielded means a concurrent traversal gave the goroutine
	// back mid-tree and will resume.
	StatusYielded
	// StatusCommitting means the commit pipeline is on the stack.
	StatusCommitting
)

func (s RootStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusRendering:
		return "rendering"
	case StatusYielded:
		return "yielded"
	case StatusCommitting:
		return "committing"
	default:
		return "unknown"
	}
}

// Root anchors one output tree: the committed unit tree, the lanes
// pending on it, and its standing with the scheduler.
type Root struct {
	engine  *Engine
	adapter HostAdapter
	name    string

	// current is the last fully committed tree. It is replaced
	// wholesale at each commit and never mutated in between.
	current *workUnit

	status    RootStatus
	pending   lane.Lanes
	suspended lane.Lanes
	pinged    lane.Lanes
	expired   lane.Lanes
	// deadlines records when each pending lane was promised progress.
	deadlines map[lane.Lane]time.Time

	task         *sched.Task
	taskPriority sched.Priority

	onUncaught  func(error)
	disposed    bool
	tearingDown bool

	stats Stats
}

// RootOption configures a root at creation.
type RootOption func(*Root)

// WithName tags the root in log output.
func WithName(name string) RootOption {
	return func(r *Root) { r.name = name }
}

// WithOnUncaught installs the callback for errors no boundary caught.
// Without one, fatal errors are only logged.
func WithOnUncaught(fn func(error)) RootOption {
	return func(r *Root) { r.onUncaught = fn }
}

// CreateRoot makes a root rendering into adapter. The tree is empty
// until the first Render.
func (e *Engine) CreateRoot(adapter HostAdapter, opts ...RootOption) *Root {
	if adapter == nil {
		panic("loom: CreateRoot with nil adapter")
	}
	r := &Root{
		engine:    e,
		adapter:   adapter,
		name:      "root",
		deadlines: make(map[lane.Lane]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}

	unit := &workUnit{kind: KindRoot, instance: r}
	unit.queue = newUpdateQueue(nil)
	r.current = unit

	e.roots.Add(r)
	e.log().Debug().Str("root", r.name).Log("root created")
	return r
}

// Render enqueues a new top-level description list at the ambient lane.
// The render happens when the scheduler gets to it; use the engine's
// FlushSync to force it through immediately.
func (r *Root) Render(children ...Description) {
	if r.disposed {
		panic(ErrRootDisposed)
	}
	l := r.engine.requestLane()
	r.current.queue.enqueue(&update{lane: l, kind: updReplace, payload: children})
	r.engine.scheduleUnit(r.current, l)
}

// Status returns the scheduling state.
func (r *Root) Status() RootStatus { return r.status }

// PendingLanes returns the lanes with unrendered work.
func (r *Root) PendingLanes() lane.Lanes { return r.pending }

// Stats returns a snapshot of the root's counters.
func (r *Root) Stats() Stats { return r.stats }

// Dispose unmounts the tree synchronously, running every teardown, and
// detaches the root from its engine. The root cannot be used after.
func (r *Root) Dispose() {
	if r.disposed {
		return
	}
	r.unmountAll()
	r.disposed = true
	if r.task != nil {
		r.task.Cancel()
		r.task = nil
	}
	r.engine.roots.Remove(r)
	if r.engine.renderRoot == r {
		r.engine.discardPass()
	}
	r.current.detach()
	r.engine.log().Debug().Str("root", r.name).Log("root disposed")
}

// scheduleUnit marks a freshly dispatched lane on the unit and its
// ancestor chain, then books the root with the scheduler. The chain may
// cross between tree generations when the source unit's own generation
// is no longer current.
func (e *Engine) scheduleUnit(u *workUnit, l lane.Lane) {
	lanes := l.Set()
	u.lanes = lane.Merge(u.lanes, lanes)
	if alt := u.alternate; alt != nil {
		alt.lanes = lane.Merge(alt.lanes, lanes)
	}

	node := u
	for {
		parent := node.parent
		if parent == nil {
			if alt := node.alternate; alt != nil {
				parent = alt.parent
			}
		}
		if parent == nil {
			break
		}
		parent.childLanes = lane.Merge(parent.childLanes, lanes)
		if alt := parent.alternate; alt != nil {
			alt.childLanes = lane.Merge(alt.childLanes, lanes)
		}
		node = parent
	}

	if node.kind != KindRoot {
		// The unit was unmounted; the dispatch has nowhere to land.
		e.log().Debug().Str("unit", u.name()).Log("dispatch on detached unit dropped")
		return
	}
	r, ok := node.instance.(*Root)
	if !ok || r.disposed {
		return
	}

	r.pending = lane.Merge(r.pending, lanes)
	r.noteLanePending(l)
	r.ensureScheduled()
}

// noteLanePending stamps the starvation deadline the first time a lane
// becomes pending.
func (r *Root) noteLanePending(l lane.Lane) {
	if _, ok := r.deadlines[l]; ok {
		return
	}
	window := r.engine.profile.tierWindow(l.Tier())
	if window < 0 {
		return
	}
	r.deadlines[l] = r.engine.sched.Now().Add(window)
}

// markStarved promotes every pending lane whose deadline has passed.
// Expired lanes render synchronously at the next opportunity,
// guaranteeing progress under a steady stream of more urgent work.
func (r *Root) markStarved(now time.Time) {
	for l, deadline := range r.deadlines {
		if now.Before(deadline) {
			continue
		}
		if !lane.Intersects(r.pending, l.Set()) {
			delete(r.deadlines, l)
			continue
		}
		if !lane.Intersects(r.expired, l.Set()) {
			r.expired = lane.Merge(r.expired, l.Set())
			r.stats.Expirations++
			r.engine.log().Warning().
				Str("root", r.name).
				Stringer("lane", l).
				Log("lane starved; forcing synchronous render")
		}
	}
}

// trimExpirations drops deadline and expiry records for lanes that are
// no longer pending.
func (r *Root) trimExpirations(remaining lane.Lanes) {
	for l := range r.deadlines {
		if !lane.Intersects(remaining, l.Set()) {
			delete(r.deadlines, l)
		}
	}
}

// ensureScheduled books exactly one scheduler task per root, at the
// priority implied by the most urgent pending work. A task at the right
// priority already in flight is left alone, which is what batches a
// burst of same-priority dispatches into a single traversal. More
// urgent work cancels and replaces the booking, discarding a yielded
// lower-priority pass outright.
func (r *Root) ensureScheduled() {
	if r.disposed {
		return
	}
	e := r.engine
	r.markStarved(e.sched.Now())

	next := lane.NextLanes(r.pending, r.suspended, r.pinged)
	if next == lane.None {
		if r.task != nil {
			r.task.Cancel()
			r.task = nil
		}
		if r.status == StatusPending || r.status == StatusYielded {
			r.status = StatusIdle
		}
		return
	}

	// Preemption: work more urgent than the pass in flight throws the
	// partial tree away. The preempted lanes stay pending and re-render
	// after.
	if e.renderRoot == r && e.wipRoot != nil && e.wipLanes != lane.None {
		if lane.HighestPriority(next) < lane.HighestPriority(e.wipLanes) {
			e.log().Debug().
				Str("root", r.name).
				Str("in_flight", e.wipLanes.String()).
				Str("incoming", next.String()).
				Log("render pass preempted")
			e.discardPass()
			r.stats.Preemptions++
			if r.status == StatusYielded {
				r.status = StatusPending
			}
		}
	}

	pri := r.priorityFor(next)
	if r.task != nil && !r.task.Canceled() && r.taskPriority == pri {
		return
	}
	if r.task != nil {
		r.task.Cancel()
	}
	r.taskPriority = pri
	r.task = e.sched.Post(pri, r.perform)
	if r.status == StatusIdle {
		r.status = StatusPending
	}
	e.log().Debug().
		Str("root", r.name).
		Str("lanes", next.String()).
		Stringer("priority", pri).
		Log("traversal scheduled")
}

// priorityFor maps a lane selection onto the scheduler's priority
// ladder. Expired lanes ride the immediate rung regardless of tier.
func (r *Root) priorityFor(lanes lane.Lanes) sched.Priority {
	if lane.Intersects(lanes, lane.Sync.Set()) || lane.Intersects(lanes, r.expired) {
		return sched.Immediate
	}
	switch highest := lane.HighestPriority(lanes); {
	case highest == lane.InputContinuous:
		return sched.UserBlocking
	case highest == lane.Default || highest.IsTransient():
		return sched.Normal
	case highest.IsRetry():
		return sched.Low
	default:
		return sched.IdlePriority
	}
}

// perform is the scheduled traversal callback. It renders the selected
// lanes, yielding by returning itself as a continuation, and commits on
// completion.
func (r *Root) perform(expired bool) sched.Callback {
	if r.disposed {
		return nil
	}
	e := r.engine
	// The previous commit's deferred stage must land before new clones
	// snapshot hook state.
	e.flushPassiveSafely()
	now := e.sched.Now()
	r.markStarved(now)

	lanes := lane.NextLanes(r.pending, r.suspended, r.pinged)
	if lanes == lane.None {
		r.task = nil
		r.status = StatusIdle
		return nil
	}

	concurrent := !lane.Intersects(lanes, lane.Sync.Set()) &&
		!lane.Intersects(lanes, r.expired) &&
		!expired

	r.status = StatusRendering
	result := e.renderPass(r, lanes, concurrent)

	switch result {
	case passIncomplete:
		r.status = StatusYielded
		return r.perform

	case passDelayed:
		// Completed, but committing would replace visible content with
		// a fallback; park the lanes until the data pings.
		e.discardPass()
		r.suspended = lane.Merge(r.suspended, lanes)
		r.pinged = lane.Remove(r.pinged, lanes)
		r.task = nil
		r.status = StatusIdle
		r.ensureScheduled()
		return nil

	case passFatal:
		err := e.fatal
		e.discardPass()
		r.task = nil
		r.status = StatusIdle
		r.handleFatal(err)
		r.ensureScheduled()
		return nil

	default: // passCompleted
		r.status = StatusCommitting
		err := r.commitPass(lanes)
		r.task = nil
		r.status = StatusIdle
		if err != nil {
			r.handleFatal(err)
		}
		r.ensureScheduled()
		return nil
	}
}

// flushSyncLanes renders and commits until no synchronous-tier work
// remains on the root. Expired lanes count: they get the same
// non-interruptible treatment.
func (r *Root) flushSyncLanes() error {
	e := r.engine
	for !r.disposed {
		e.flushPassiveSafely()
		r.markStarved(e.sched.Now())
		lanes := lane.NextLanes(r.pending, r.suspended, r.pinged)
		if lanes == lane.None {
			break
		}
		if !lane.Intersects(lanes, lane.Sync.Set()) && !lane.Intersects(lanes, r.expired) {
			break
		}
		if r.task != nil {
			r.task.Cancel()
			r.task = nil
		}
		r.status = StatusRendering
		result := e.renderPass(r, lanes, false)
		switch result {
		case passFatal:
			err := e.fatal
			e.discardPass()
			r.status = StatusIdle
			r.handleFatal(err)
			return err
		case passDelayed, passCompleted:
			// A synchronous pass always commits; withholding content
			// is a concurrent-only courtesy.
			r.status = StatusCommitting
			err := r.commitPass(lanes)
			r.status = StatusIdle
			if err != nil {
				r.handleFatal(err)
				return err
			}
		default:
			panic("loom: synchronous pass yielded")
		}
	}
	r.ensureScheduled()
	return nil
}

// handleFatal reports an error nothing caught and unmounts the tree.
// The committed tree up to the failure stays what it was; the unmount
// itself is an ordinary synchronous render of nothing.
func (r *Root) handleFatal(err error) {
	r.stats.FatalErrors++
	r.engine.log().Err().
		Err(err).
		Str("root", r.name).
		Log("fatal error; unmounting tree")
	if r.onUncaught != nil {
		r.onUncaught(err)
	}
	r.unmountAll()
}

// unmountAll synchronously renders an empty tree, tearing every unit
// down. Failures during the teardown itself are logged and abandoned.
func (r *Root) unmountAll() {
	if r.tearingDown || r.disposed {
		return
	}
	r.tearingDown = true
	defer func() { r.tearingDown = false }()

	r.current.queue.enqueue(&update{lane: lane.Sync, kind: updReplace, payload: []Description(nil)})
	r.pending = lane.Merge(r.pending, lane.Sync.Set())
	if err := r.flushSyncLanes(); err != nil {
		r.engine.log().Err().
			Err(err).
			Str("root", r.name).
			Log("teardown failed; tree abandoned")
	}
	r.engine.FlushPassive()
}
