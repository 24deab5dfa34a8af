package queue

import "testing"

func TestRecordHeapOrdersByLess(t *testing.T) {
	cmp := newComparator(nil)
	h := newRecordHeap(cmp.less)

	for _, id := range []uint64{5, 1, 4, 2, 3} {
		h.push(newFakeRecord(id))
	}

	var order []uint64
	for h.Len() > 0 {
		order = append(order, h.pop().ID())
	}

	want := []uint64{1, 2, 3, 4, 5}
	if len(order) != len(want) {
		t.Fatalf("popped %d records, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRecordHeapPeekDoesNotRemove(t *testing.T) {
	cmp := newComparator(nil)
	h := newRecordHeap(cmp.less)
	h.push(newFakeRecord(1))

	if got := h.peek(); got == nil || got.ID() != 1 {
		t.Fatalf("peek() = %v, want record 1", got)
	}
	if h.Len() != 1 {
		t.Fatalf("Len() after peek = %d, want 1", h.Len())
	}
}

func TestRecordHeapEmptyPopAndPeek(t *testing.T) {
	cmp := newComparator(nil)
	h := newRecordHeap(cmp.less)

	if got := h.pop(); got != nil {
		t.Fatalf("pop() on empty heap = %v, want nil", got)
	}
	if got := h.peek(); got != nil {
		t.Fatalf("peek() on empty heap = %v, want nil", got)
	}
}

func TestRecordHeapDrain(t *testing.T) {
	cmp := newComparator(nil)
	h := newRecordHeap(cmp.less)
	h.push(newFakeRecord(1))
	h.push(newFakeRecord(2))

	drained := h.drain()
	if len(drained) != 2 {
		t.Fatalf("drain() returned %d records, want 2", len(drained))
	}
	if h.Len() != 0 {
		t.Fatalf("Len() after drain = %d, want 0", h.Len())
	}
}

func TestRecordHeapRebuildReordersExisting(t *testing.T) {
	cmp := newComparator(nil)
	h := newRecordHeap(cmp.less)
	h.push(newFakeRecord(1))
	h.push(newFakeRecord(2))

	reversed := cmp.reversed()
	h.rebuild(reversed.less)

	if got := h.pop(); got.ID() != 2 {
		t.Fatalf("after rebuild with reversed comparator, first pop = %d, want 2", got.ID())
	}
}
