package queue

import "github.com/flowcore/flowqueue/flowfile"

// Prioritizer is a user-supplied ordering rule, the third tier of the
// comparator chain in §4.5. Return value follows the usual comparator
// convention: negative if a sorts before b, positive if after, zero to
// defer to the next prioritizer (or the content-claim/id tiers).
type Prioritizer interface {
	Compare(a, b flowfile.Record) int
}

// PrioritizerFunc adapts a plain function to Prioritizer.
type PrioritizerFunc func(a, b flowfile.Record) int

func (f PrioritizerFunc) Compare(a, b flowfile.Record) int { return f(a, b) }

// comparator is the total order over records described in §4.5:
//  1. penalty precedence (non-penalized before penalized)
//  2. earlier penalty expiry first, among penalized records
//  3. configured prioritizers, first non-zero result wins
//  4. content-claim locality (resource claim id, then offset)
//  5. id ascending, as the final FIFO tiebreak
//
// comparator never mutates its inputs and is safe for concurrent use; the
// same instance backs both the active heap (forward) and the reversed
// adapter used to pick swap-out victims (§4.5 last paragraph).
type comparator struct {
	prioritizers []Prioritizer
}

func newComparator(prioritizers []Prioritizer) *comparator {
	// Defensive copy: callers must not be able to mutate the active
	// ordering out from under a heap invariant by holding onto the slice
	// they passed to SetPriorities.
	cp := make([]Prioritizer, len(prioritizers))
	copy(cp, prioritizers)
	return &comparator{prioritizers: cp}
}

func (c *comparator) less(a, b flowfile.Record) bool {
	return c.compare(a, b) < 0
}

func (c *comparator) compare(a, b flowfile.Record) int {
	aPenalized, bPenalized := a.IsPenalized(), b.IsPenalized()
	if aPenalized != bPenalized {
		if aPenalized {
			return 1
		}
		return -1
	}
	if aPenalized && bPenalized {
		if a.PenaltyExpirationMs() != b.PenaltyExpirationMs() {
			if a.PenaltyExpirationMs() < b.PenaltyExpirationMs() {
				return -1
			}
			return 1
		}
	}

	for _, p := range c.prioritizers {
		if r := p.Compare(a, b); r != 0 {
			return r
		}
	}

	if r := compareContentClaim(a, b); r != 0 {
		return r
	}

	switch {
	case a.ID() < b.ID():
		return -1
	case a.ID() > b.ID():
		return 1
	default:
		return 0
	}
}

func compareContentClaim(a, b flowfile.Record) int {
	aClaim, bClaim := a.ContentClaim(), b.ContentClaim()
	if aClaim == nil && bClaim == nil {
		return 0
	}
	if aClaim == nil {
		return -1
	}
	if bClaim == nil {
		return 1
	}
	if aClaim.ResourceClaimID != bClaim.ResourceClaimID {
		if aClaim.ResourceClaimID < bClaim.ResourceClaimID {
			return -1
		}
		return 1
	}
	aOff, bOff := a.ContentClaimOffset(), b.ContentClaimOffset()
	switch {
	case aOff < bOff:
		return -1
	case aOff > bOff:
		return 1
	default:
		return 0
	}
}

// reversed returns a comparator that orders records in the opposite
// direction, used by write_swap_files_if_needed (§4.1.2) to select the
// lowest-priority items for persistence via a single shared heap type
// rather than a second implementation (§9 design note).
func (c *comparator) reversed() *reverseComparator {
	return &reverseComparator{inner: c}
}

type reverseComparator struct {
	inner *comparator
}

func (r *reverseComparator) less(a, b flowfile.Record) bool {
	return r.inner.compare(a, b) > 0
}
