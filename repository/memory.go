package repository

import (
	"context"
	"sync"
)

// MemoryRepository is an in-process Repository used by the queue
// package's own tests and as a minimal starting collaborator for callers
// that have not yet wired a durable repository (§6's "supplemented
// features": the spec only requires the interface, not an implementation).
type MemoryRepository struct {
	mu      sync.Mutex
	records []Record
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// UpdateRepository appends the records; always durable immediately since
// storage is a plain slice guarded by a mutex.
func (r *MemoryRepository) UpdateRepository(_ context.Context, records []Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, records...)
	return nil
}

// Records returns a snapshot of every record applied so far, for test
// assertions.
func (r *MemoryRepository) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

var _ Repository = (*MemoryRepository)(nil)
