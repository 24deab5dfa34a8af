package queue

import (
	"container/heap"

	"github.com/flowcore/flowqueue/flowfile"
)

// lessFunc orders two records; both the forward comparator and its
// reversed adapter (§4.5, §9) satisfy this shape, so a single heap type
// serves the active heap and the swap-out victim-selection heap.
type lessFunc func(a, b flowfile.Record) bool

// recordHeap is a container/heap-backed binary heap over flowfile.Record,
// ordered by an injected lessFunc. It backs both the queue's active heap
// and, transiently, the reverse-priority merge heap used by
// write_swap_files_if_needed (§4.1.2).
type recordHeap struct {
	items []flowfile.Record
	less  lessFunc
}

func newRecordHeap(less lessFunc) *recordHeap {
	h := &recordHeap{less: less}
	heap.Init(h)
	return h
}

func (h *recordHeap) Len() int { return len(h.items) }

func (h *recordHeap) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }

func (h *recordHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *recordHeap) Push(x any) { h.items = append(h.items, x.(flowfile.Record)) }

func (h *recordHeap) Pop() any {
	n := len(h.items)
	item := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	return item
}

// push inserts a record, preserving the heap invariant.
func (h *recordHeap) push(r flowfile.Record) { heap.Push(h, r) }

// pop removes and returns the minimal record under less, or nil if empty.
func (h *recordHeap) pop() flowfile.Record {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(flowfile.Record)
}

// peek returns the minimal record without removing it, or nil if empty.
func (h *recordHeap) peek() flowfile.Record {
	if h.Len() == 0 {
		return nil
	}
	return h.items[0]
}

// drain removes and returns every record, left in arbitrary order. Used
// when a drop request clears the active heap wholesale (§4.4).
func (h *recordHeap) drain() []flowfile.Record {
	out := h.items
	h.items = nil
	return out
}

// rebuild replaces the heap's less function and re-establishes the heap
// invariant over the existing items, used by SetPriorities (§4.1).
func (h *recordHeap) rebuild(less lessFunc) {
	h.less = less
	heap.Init(h)
}
