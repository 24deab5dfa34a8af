package queue

import (
	"testing"

	"github.com/flowcore/flowqueue/flowfile"
)

func TestComparatorPenaltyPrecedence(t *testing.T) {
	cmp := newComparator(nil)

	fresh := newFakeRecord(1)
	penalized := newFakeRecord(2)
	penalized.penalized = true
	penalized.penaltyMs = 5000

	if !cmp.less(fresh, penalized) {
		t.Error("non-penalized record should sort before penalized, regardless of id")
	}
	if cmp.less(penalized, fresh) {
		t.Error("penalized record should not sort before non-penalized")
	}
}

func TestComparatorEarlierPenaltyExpiryFirst(t *testing.T) {
	cmp := newComparator(nil)

	soon := newFakeRecord(1)
	soon.penalized, soon.penaltyMs = true, 1000
	later := newFakeRecord(2)
	later.penalized, later.penaltyMs = true, 2000

	if !cmp.less(soon, later) {
		t.Error("earlier penalty expiry should sort first among penalized records")
	}
}

func TestComparatorPrioritizerOverridesID(t *testing.T) {
	// A prioritizer that sorts larger ids first should invert the default
	// id-ascending tiebreak.
	descendingByID := PrioritizerFunc(func(a, b flowfile.Record) int {
		switch {
		case a.ID() > b.ID():
			return -1
		case a.ID() < b.ID():
			return 1
		default:
			return 0
		}
	})
	cmp := newComparator([]Prioritizer{descendingByID})

	low, high := newFakeRecord(1), newFakeRecord(2)
	if !cmp.less(high, low) {
		t.Error("prioritizer should rank higher id first")
	}
}

func TestComparatorContentClaimLocality(t *testing.T) {
	cmp := newComparator(nil)

	a := newFakeRecord(1)
	a.claim = &flowfile.ContentClaim{ResourceClaimID: "claim-a"}
	b := newFakeRecord(2)
	b.claim = &flowfile.ContentClaim{ResourceClaimID: "claim-b"}

	if !cmp.less(a, b) {
		t.Error("lexicographically earlier resource claim id should sort first")
	}
}

func TestComparatorIDTiebreak(t *testing.T) {
	cmp := newComparator(nil)
	a, b := newFakeRecord(1), newFakeRecord(2)
	if !cmp.less(a, b) {
		t.Error("lower id should sort first when all else is equal")
	}
	if cmp.less(b, a) {
		t.Error("higher id should not sort first")
	}
}

func TestReversedComparatorInvertsOrder(t *testing.T) {
	cmp := newComparator(nil)
	rev := cmp.reversed()

	a, b := newFakeRecord(1), newFakeRecord(2)
	if !cmp.less(a, b) {
		t.Fatal("precondition: forward comparator should order a before b")
	}
	if rev.less(a, b) {
		t.Error("reversed comparator should not order a before b")
	}
	if !rev.less(b, a) {
		t.Error("reversed comparator should order b before a")
	}
}

func TestNewComparatorDefensiveCopy(t *testing.T) {
	ps := []Prioritizer{PrioritizerFunc(func(a, b flowfile.Record) int { return 0 })}
	cmp := newComparator(ps)
	ps[0] = nil // mutate caller's slice after construction

	if cmp.prioritizers[0] == nil {
		t.Error("newComparator should defensively copy the prioritizer slice")
	}
}
