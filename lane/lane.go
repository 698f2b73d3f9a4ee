// Package lane encodes update urgency as bit sets.
//
// A Lane is a single bit; a Lanes value is a union of them. Smaller bits are
// more urgent. Sets are cheap to merge, intersect and split, which is what
// lets the work loop batch same-urgency updates together and park the rest
// without ever allocating.
package lane

import (
	"math/bits"
	"strconv"
	"strings"
)

// Lane is a single priority bit. Exactly one bit is set in a valid Lane.
type Lane uint64

// Lanes is a union of lanes.
type Lanes uint64

const None Lanes = 0

const (
	// Sync renders without ever yielding and cannot be interrupted.
	Sync Lane = 1 << iota
	// InputContinuous covers follow-up work from continuous interactions.
	InputContinuous
	// Default is the tier for updates with no special origin.
	Default

	transientFirst
)

// TransientCount is the width of the deprioritized tier. Transient lanes are
// claimed round-robin so that unrelated deferred batches stay independently
// cancellable.
const TransientCount = 16

const (
	transientLast Lane = transientFirst << (TransientCount - 1)

	// Retry lanes re-run work that previously suspended on external data.
	retryFirst = transientLast << 1
)

const RetryCount = 4

const (
	retryLast Lane = retryFirst << (RetryCount - 1)

	// Idle only renders when nothing else is pending.
	Idle Lane = retryLast << 1
	// Offscreen is the least urgent lane, for hidden content.
	Offscreen Lane = Idle << 1
)

const (
	transientLanes Lanes = (Lanes(transientLast)<<1 - 1) &^ (Lanes(transientFirst) - 1)
	retryLanes     Lanes = (Lanes(retryLast)<<1 - 1) &^ (Lanes(retryFirst) - 1)

	// urgent lanes never yield once started.
	urgentLanes Lanes = Lanes(Sync)

	// AllTransient is the full deprioritized tier.
	AllTransient = transientLanes
	// AllRetry is the full retry tier.
	AllRetry = retryLanes

	// All is every defined lane.
	All Lanes = Lanes(Offscreen)<<1 - 1
)

// Set returns the lane as a one-element set.
func (l Lane) Set() Lanes { return Lanes(l) }

// Merge returns the union of a and b.
func Merge(a, b Lanes) Lanes { return a | b }

// Includes reports whether set contains every lane in subset.
func Includes(set, subset Lanes) bool { return set&subset == subset }

// Intersects reports whether the two sets share any lane.
func Intersects(a, b Lanes) bool { return a&b != None }

// Remove returns set without the lanes in sub.
func Remove(set, sub Lanes) Lanes { return set &^ sub }

// HighestPriority isolates the most urgent lane in the set, which by
// convention is the lowest set bit.
func HighestPriority(set Lanes) Lane {
	return Lane(set & -set)
}

// Count returns the number of lanes in the set.
func Count(set Lanes) int { return bits.OnesCount64(uint64(set)) }

// IsTransient reports whether the lane belongs to the deprioritized tier.
func (l Lane) IsTransient() bool { return Lanes(l)&transientLanes != None }

// IsRetry reports whether the lane belongs to the retry tier.
func (l Lane) IsRetry() bool { return Lanes(l)&retryLanes != None }

// IsUrgent reports whether work on the lane must run synchronously.
func (l Lane) IsUrgent() bool { return Lanes(l)&urgentLanes != None }

// tierOf returns the full set of lanes sharing a tier with l. Lanes in the
// same tier render together; lanes in different tiers never do.
func tierOf(l Lane) Lanes {
	switch {
	case l == Sync:
		return Lanes(Sync)
	case l == InputContinuous:
		return Lanes(InputContinuous)
	case l == Default:
		return Lanes(Default)
	case l.IsTransient():
		return transientLanes
	case l.IsRetry():
		return retryLanes
	case l == Idle:
		return Lanes(Idle)
	case l == Offscreen:
		return Lanes(Offscreen)
	default:
		return Lanes(l)
	}
}

// NextLanes selects the lanes the next render pass should work on.
//
// Suspended lanes are excluded unless they have been pinged ready again.
// The highest-priority tier present wins, and every pending lane in that
// tier is taken together: concurrently requested deferred batches batch up,
// while a deferred batch requested later lands on a different transient lane
// and stays separately cancellable.
func NextLanes(pending, suspended, pinged Lanes) Lanes {
	usable := pending &^ (suspended &^ pinged)
	if usable == None {
		return None
	}
	return usable & tierOf(HighestPriority(usable))
}

// Transient allocates deprioritized lanes round-robin. The zero value starts
// at the first transient lane and cycles the full pool; Width narrows the
// pool to its first Width lanes.
type Transient struct {
	next Lane
	// Width caps the pool size. Zero or out-of-range means TransientCount.
	Width int
}

// Claim returns the next transient lane, cycling through the pool.
func (t *Transient) Claim() Lane {
	w := t.Width
	if w <= 0 || w > TransientCount {
		w = TransientCount
	}
	last := transientFirst << (w - 1)
	if t.next == 0 || !t.next.IsTransient() || t.next > last {
		t.next = transientFirst
	}
	l := t.next
	t.next <<= 1
	return l
}

// ClaimRetry returns a retry lane for re-running suspended work, cycling
// through the retry pool.
func ClaimRetry(cursor *Lane) Lane {
	if *cursor == 0 || !cursor.IsRetry() {
		*cursor = retryFirst
	}
	l := *cursor
	*cursor <<= 1
	return l
}

// Tier buckets for expiration policy. The work loop maps each tier to a
// configured starvation window; lanes in more urgent tiers expire sooner.
const (
	TierSync = iota
	TierInputContinuous
	TierDefault
	TierTransient
	TierRetry
	TierIdle
	TierCount
)

// Tier returns the expiration bucket for the lane. Idle and offscreen work
// shares a bucket: neither is ever promoted by starvation.
func (l Lane) Tier() int {
	switch {
	case l == Sync:
		return TierSync
	case l == InputContinuous:
		return TierInputContinuous
	case l == Default:
		return TierDefault
	case l.IsTransient():
		return TierTransient
	case l.IsRetry():
		return TierRetry
	default:
		return TierIdle
	}
}

// Each calls fn once per lane in the set, most urgent first.
func Each(set Lanes, fn func(Lane)) {
	for set != None {
		l := HighestPriority(set)
		fn(l)
		set = Remove(set, Lanes(l))
	}
}

func (l Lane) String() string {
	switch {
	case l == 0:
		return "NoLane"
	case l == Sync:
		return "Sync"
	case l == InputContinuous:
		return "InputContinuous"
	case l == Default:
		return "Default"
	case l.IsTransient():
		return "Transient"
	case l.IsRetry():
		return "Retry"
	case l == Idle:
		return "Idle"
	case l == Offscreen:
		return "Offscreen"
	default:
		return "Unknown"
	}
}

func (s Lanes) String() string {
	if s == None {
		return "NoLanes"
	}
	var parts []string
	seen := map[string]int{}
	Each(s, func(l Lane) {
		seen[l.String()]++
	})
	for _, name := range []string{"Sync", "InputContinuous", "Default", "Transient", "Retry", "Idle", "Offscreen", "Unknown"} {
		switch n := seen[name]; {
		case n == 1:
			parts = append(parts, name)
		case n > 1:
			parts = append(parts, name+"x"+strconv.Itoa(n))
		}
	}
	return strings.Join(parts, "|")
}
