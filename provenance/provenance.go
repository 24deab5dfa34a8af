// Package provenance defines the provenance event repository boundary
// the queue core consumes when dropping flow files (§6).
package provenance

import (
	"context"

	"github.com/flowcore/flowqueue/flowfile"
)

// EventType enumerates provenance event kinds. The queue core itself only
// emits EventTypeDrop; EventTypeExpire is for callers recording the
// records a poll placed in its expired-out collection. Event kinds owned
// by the host dataflow engine are not defined here.
type EventType string

const (
	EventTypeDrop   EventType = "DROP"
	EventTypeExpire EventType = "EXPIRE"
)

// Event is a single provenance record. SourceQueueID, LineageStartMs,
// Attributes, Details and PreviousClaim are populated by the queue core
// per the field list in §6.
type Event struct {
	Type            EventType
	SourceQueueID   string
	LineageStartMs  int64
	Attributes      map[string]string
	Details         string
	PreviousClaim   *flowfile.PreviousClaim
}

// Builder accumulates events before a batched RegisterEvents call,
// mirroring the event_builder()/register_events(events) shape from §6.
type Builder interface {
	Add(e Event)
	Build() []Event
}

// Repository is the provenance repository interface the queue core
// consumes. EventBuilder returns a fresh Builder; RegisterEvents durably
// records a batch of built events.
type Repository interface {
	EventBuilder() Builder
	RegisterEvents(ctx context.Context, events []Event) error
}

// sliceBuilder is the straightforward Builder implementation shared by
// every Repository in this module; there is no reason for a Repository
// to supply its own Builder, since Build() just drains the slice.
type sliceBuilder struct {
	events []Event
}

func NewSliceBuilder() Builder { return &sliceBuilder{} }

func (b *sliceBuilder) Add(e Event) { b.events = append(b.events, e) }

func (b *sliceBuilder) Build() []Event {
	out := b.events
	b.events = nil
	return out
}
