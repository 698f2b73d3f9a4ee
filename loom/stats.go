package loom

// Stats counts what a root has done since creation. Counters only ever
// grow; read them through Root.Stats, which returns a copy.
type Stats struct {
	// PassesStarted counts traversals begun from a fresh stack.
	PassesStarted uint64
	// Yields counts concurrent traversals that gave the goroutine back
	// mid-tree.
	Yields uint64
	// Restarts counts partially built trees discarded before finishing.
	Restarts uint64
	// Preemptions counts passes discarded because more urgent work
	// arrived.
	Preemptions uint64
	// Commits counts finished trees swapped in as current.
	Commits uint64
	// Placements counts host attach operations performed at commit.
	Placements uint64
	// PassiveFlushes counts deferred effect sweeps.
	PassiveFlushes uint64

	// UnitsVisited counts begin steps across all passes.
	UnitsVisited uint64
	// UnitsCloned counts units reused from the committed tree.
	UnitsCloned uint64
	// UnitsCreated counts units built fresh from descriptions.
	UnitsCreated uint64
	// UnitsDeleted counts units scheduled for unmount.
	UnitsDeleted uint64
	// Bailouts counts subtrees skipped because nothing in them changed.
	Bailouts uint64

	// Suspensions counts renders parked on a pending dependency.
	Suspensions uint64
	// Pings counts pending dependencies that resolved and rescheduled
	// their boundary.
	Pings uint64
	// ErrorsCaptured counts render errors a boundary absorbed.
	ErrorsCaptured uint64
	// FatalErrors counts errors no boundary caught.
	FatalErrors uint64
	// Expirations counts lanes promoted to synchronous after starving.
	Expirations uint64
}
