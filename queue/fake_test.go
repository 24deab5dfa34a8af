package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowcore/flowqueue/flowfile"
)

// fakeRecord is the minimal flowfile.Record test double shared across this
// package's test files, in the spirit of lode's NewStubClient.
type fakeRecord struct {
	id          uint64
	size        uint64
	entryMs     int64
	lineageMs   int64
	penalized   bool
	penaltyMs   int64
	claim       *flowfile.ContentClaim
	claimOffset uint64
	attrs       map[string]string
}

func newFakeRecord(id uint64) *fakeRecord {
	return &fakeRecord{id: id, size: 10, entryMs: 1000}
}

func (r *fakeRecord) ID() uint64                        { return r.id }
func (r *fakeRecord) Size() uint64                      { return r.size }
func (r *fakeRecord) EntryDateMs() int64                { return r.entryMs }
func (r *fakeRecord) LineageStartMs() int64             { return r.lineageMs }
func (r *fakeRecord) IsPenalized() bool                 { return r.penalized }
func (r *fakeRecord) PenaltyExpirationMs() int64        { return r.penaltyMs }
func (r *fakeRecord) ContentClaim() *flowfile.ContentClaim { return r.claim }
func (r *fakeRecord) ContentClaimOffset() uint64        { return r.claimOffset }
func (r *fakeRecord) Attributes() map[string]string     { return r.attrs }

var _ flowfile.Record = (*fakeRecord)(nil)

// fakeSwapManager is an in-memory SwapManager test double, keyed by an
// incrementing location counter — good enough to exercise the core's
// swap-out/swap-in bookkeeping without touching disk.
type fakeSwapManager struct {
	mu       sync.Mutex
	next     int
	batches  map[SwapLocation][]flowfile.Record
	order    []SwapLocation
	failSwapOut bool
	failSwapIn  map[SwapLocation]error

	recordSwapInOrder bool
	swapInOrder       []SwapLocation
}

func newFakeSwapManager() *fakeSwapManager {
	return &fakeSwapManager{batches: make(map[SwapLocation][]flowfile.Record), failSwapIn: make(map[SwapLocation]error)}
}

func (m *fakeSwapManager) SwapOut(_ context.Context, batch []flowfile.Record, _ string) (SwapLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSwapOut {
		return "", fmt.Errorf("swap out failed")
	}
	m.next++
	loc := SwapLocation(fmt.Sprintf("loc-%d", m.next))
	cp := make([]flowfile.Record, len(batch))
	copy(cp, batch)
	m.batches[loc] = cp
	m.order = append(m.order, loc)
	return loc, nil
}

func (m *fakeSwapManager) SwapIn(_ context.Context, location SwapLocation, _ string) ([]flowfile.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordSwapInOrder {
		m.swapInOrder = append(m.swapInOrder, location)
	}
	if err, ok := m.failSwapIn[location]; ok {
		return nil, err
	}
	batch, ok := m.batches[location]
	if !ok {
		return nil, ErrLocationGone
	}
	delete(m.batches, location)
	return batch, nil
}

func (m *fakeSwapManager) GetSwapSize(_ context.Context, location SwapLocation) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := m.batches[location]
	var bytes int64
	for _, r := range batch {
		bytes += int64(r.Size())
	}
	return int64(len(batch)), bytes, nil
}

func (m *fakeSwapManager) GetMaxRecordID(_ context.Context, location SwapLocation) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := m.batches[location]
	if len(batch) == 0 {
		return 0, false, nil
	}
	var max uint64
	for _, r := range batch {
		if r.ID() > max {
			max = r.ID()
		}
	}
	return max, true, nil
}

func (m *fakeSwapManager) RecoverSwapLocations(_ context.Context, _ string) ([]SwapLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SwapLocation, len(m.order))
	copy(out, m.order)
	return out, nil
}

func (m *fakeSwapManager) Purge(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = make(map[SwapLocation][]flowfile.Record)
	m.order = nil
	return nil
}

func (m *fakeSwapManager) pendingBatches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

var _ SwapManager = (*fakeSwapManager)(nil)
