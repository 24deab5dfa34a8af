package queue

import "sync/atomic"

// sizeState is the six-counter tuple from §3 (QueueState). All six fields
// are always read and written together so that a reader observing any one
// field also observes a mutually consistent view of the other five —
// the count = active + swapped + unacked invariant never appears
// torn to a concurrent Size() call.
type sizeState struct {
	activeCount   int64
	activeBytes   int64
	swappedCount  int64
	swappedBytes  int64
	unackedCount  int64
	unackedBytes  int64
}

// add returns a new tuple with delta applied to every field. Never
// mutates the receiver; sizeState values are treated as immutable once
// published.
func (s sizeState) add(delta sizeState) sizeState {
	return sizeState{
		activeCount:  s.activeCount + delta.activeCount,
		activeBytes:  s.activeBytes + delta.activeBytes,
		swappedCount: s.swappedCount + delta.swappedCount,
		swappedBytes: s.swappedBytes + delta.swappedBytes,
		unackedCount: s.unackedCount + delta.unackedCount,
		unackedBytes: s.unackedBytes + delta.unackedBytes,
	}
}

// clampNonNegative clamps every field at zero. Used to silently correct
// invariant violations (§7 error handling: an acknowledge for an item the
// queue never handed out must not drive a counter negative).
func (s sizeState) clampNonNegative() (sizeState, bool) {
	clamped := s
	changed := false
	if clamped.activeCount < 0 {
		clamped.activeCount = 0
		changed = true
	}
	if clamped.activeBytes < 0 {
		clamped.activeBytes = 0
		changed = true
	}
	if clamped.swappedCount < 0 {
		clamped.swappedCount = 0
		changed = true
	}
	if clamped.swappedBytes < 0 {
		clamped.swappedBytes = 0
		changed = true
	}
	if clamped.unackedCount < 0 {
		clamped.unackedCount = 0
		changed = true
	}
	if clamped.unackedBytes < 0 {
		clamped.unackedBytes = 0
		changed = true
	}
	return clamped, changed
}

// visibleCount is active + swapped + unacked, the total accounted for by
// invariant 1 in §3.
func (s sizeState) visibleCount() int64 {
	return s.activeCount + s.swappedCount + s.unackedCount
}

func (s sizeState) visibleBytes() int64 {
	return s.activeBytes + s.swappedBytes + s.unackedBytes
}

// sizeAccounting is the lock-free CAS-retry accounting cell from §4.7.
// size() is wait-free for readers: Load never blocks on a writer.
type sizeAccounting struct {
	state atomic.Pointer[sizeState]
}

func newSizeAccounting() *sizeAccounting {
	a := &sizeAccounting{}
	zero := sizeState{}
	a.state.Store(&zero)
	return a
}

// snapshot returns the current tuple. Safe to call without any lock held.
func (a *sizeAccounting) snapshot() sizeState {
	return *a.state.Load()
}

// apply commits delta via compare-and-swap, retrying on concurrent
// mutation, and returns the resulting tuple. If the result would carry a
// negative field (an invariant violation — e.g. a caller acknowledging an
// item the queue never handed out) it is clamped to zero and onViolation
// is invoked with the caller's report, if non-nil.
func (a *sizeAccounting) apply(delta sizeState, onViolation func()) sizeState {
	for {
		old := a.state.Load()
		next := old.add(delta)
		clamped, violated := next.clampNonNegative()
		if violated && onViolation != nil {
			onViolation()
		}
		if violated {
			next = clamped
		}
		if a.state.CompareAndSwap(old, &next) {
			return next
		}
	}
}
