package provenance

import (
	"context"
	"sync"
)

// MemoryRepository is an in-process Repository for tests and as a
// minimal starting collaborator, the provenance-side counterpart of
// repository.MemoryRepository.
type MemoryRepository struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) EventBuilder() Builder {
	return NewSliceBuilder()
}

func (r *MemoryRepository) RegisterEvents(_ context.Context, events []Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

// Events returns a snapshot of every event registered so far.
func (r *MemoryRepository) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

var _ Repository = (*MemoryRepository)(nil)
