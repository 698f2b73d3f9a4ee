package loom

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/joeycumines/logiface"

	"github.com/weftlabs/weft/lane"
	"github.com/weftlabs/weft/sched"
)

// execContext tracks what engine phase is on the stack, for re-entrancy
// contracts.
type execContext uint8

const (
	execRender execContext = 1 << iota
	execCommit
)

// Engine coordinates every root sharing one scheduler. All engine, root
// and setter methods must run on the scheduler's goroutine; crossing
// from another goroutine goes through Invoke.
type Engine struct {
	sched   sched.Interface
	logger  *logiface.Logger[logiface.Event]
	profile Profile

	roots mapset.Set[*Root]
	pings mapset.Set[*Pending]

	transient   lane.Transient
	retryCursor lane.Lane

	// eventLane is the ambient lane dispatches pick up; deferLane wins
	// when a Deferred scope is open.
	eventLane lane.Lane
	deferLane lane.Lane

	exec execContext

	// One render pass exists engine-wide at a time.
	renderRoot  *Root
	wipRoot     *workUnit
	wip         *workUnit
	wipLanes    lane.Lanes
	fatal       error
	passDelayed bool
	slotStack   []slotFrame

	commitDeletions []*workUnit
	pendingPassive  *passiveWork
}

// Option configures an Engine.
type Option func(*Engine)

// WithScheduler sets the scheduler the engine posts its work through.
// The default is a Manual scheduler the caller steps; production use
// wires a Runner.
func WithScheduler(s sched.Interface) Option {
	return func(e *Engine) { e.sched = s }
}

// WithLogger sets the structured logger. Nil (the default) disables
// logging entirely.
func WithLogger(l *logiface.Logger[logiface.Event]) Option {
	return func(e *Engine) { e.logger = l }
}

// WithProfile replaces the default tuning profile. The profile must have
// passed Validate.
func WithProfile(p Profile) Option {
	return func(e *Engine) { e.profile = p }
}

// NewEngine builds an engine with the given options.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		profile:   DefaultProfile(),
		roots:     mapset.NewThreadUnsafeSet[*Root](),
		pings:     mapset.NewThreadUnsafeSet[*Pending](),
		eventLane: lane.Default,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sched == nil {
		e.sched = sched.NewManual()
	}
	e.transient.Width = e.profile.TransientWidth
	return e
}

// Scheduler returns the scheduler the engine was built with.
func (e *Engine) Scheduler() sched.Interface { return e.sched }

// Profile returns the tuning profile in effect.
func (e *Engine) Profile() Profile { return e.profile }

func (e *Engine) log() *logiface.Logger[logiface.Event] { return e.logger }

// requestLane resolves the lane for a dispatch from the ambient context:
// a claimed transient lane inside Deferred, otherwise the event lane.
func (e *Engine) requestLane() lane.Lane {
	if e.deferLane != 0 {
		return e.deferLane
	}
	if e.eventLane != 0 {
		return e.eventLane
	}
	return lane.Default
}

// Deferred runs fn with dispatches downgraded to a freshly claimed
// transient lane. Dispatches within one Deferred call batch together;
// separate calls claim separate lanes and stay independently
// cancellable. Deferred scopes nest.
func (e *Engine) Deferred(fn func()) {
	prev := e.deferLane
	e.deferLane = e.transient.Claim()
	defer func() { e.deferLane = prev }()
	fn()
}

// Interactive runs fn with dispatches assigned the continuous-input
// lane, the highest tier short of synchronous.
func (e *Engine) Interactive(fn func()) {
	prevEvent, prevDefer := e.eventLane, e.deferLane
	e.eventLane, e.deferLane = lane.InputContinuous, 0
	defer func() { e.eventLane, e.deferLane = prevEvent, prevDefer }()
	fn()
}

// FlushSync runs fn with dispatches assigned the synchronous lane, then
// renders and commits all resulting synchronous work before returning.
// Calling it while a render or commit is on the stack is an error.
func (e *Engine) FlushSync(fn func()) error {
	if e.exec&(execRender|execCommit) != 0 {
		return ErrReentrantFlush
	}
	func() {
		prevEvent, prevDefer := e.eventLane, e.deferLane
		e.eventLane, e.deferLane = lane.Sync, 0
		defer func() { e.eventLane, e.deferLane = prevEvent, prevDefer }()
		if fn != nil {
			fn()
		}
	}()
	return e.flushSyncWork()
}

// flushSyncWork drains the synchronous tier on every root that has any.
func (e *Engine) flushSyncWork() error {
	var first error
	for _, r := range e.roots.ToSlice() {
		if err := r.flushSyncLanes(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Invoke posts fn to run on the engine goroutine at the highest
// priority. It is the one entry point that is safe from other
// goroutines, provided the scheduler's Post is.
func (e *Engine) Invoke(fn func()) {
	e.sched.Post(sched.Immediate, func(bool) sched.Callback {
		fn()
		return nil
	})
}

// FlushPassive runs the pending deferred stage immediately instead of
// waiting for its scheduled slot. Drivers call this to force Effect
// pairs at a known point.
func (e *Engine) FlushPassive() {
	e.flushPassiveSafely()
}
