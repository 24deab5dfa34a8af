package provenance

import (
	"context"
	"testing"
)

func TestMemoryRepositoryRegisterEvents(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	builder := repo.EventBuilder()
	builder.Add(Event{Type: EventTypeDrop, SourceQueueID: "q1", Details: "FlowFile Queue emptied by tester"})
	builder.Add(Event{Type: EventTypeExpire, SourceQueueID: "q1"})

	if err := repo.RegisterEvents(ctx, builder.Build()); err != nil {
		t.Fatalf("RegisterEvents returned error: %v", err)
	}

	got := repo.Events()
	if len(got) != 2 {
		t.Fatalf("Events() len = %d, want 2", len(got))
	}
	if got[0].Type != EventTypeDrop || got[1].Type != EventTypeExpire {
		t.Fatalf("unexpected event order: %+v", got)
	}
}

func TestSliceBuilderDrainsOnBuild(t *testing.T) {
	b := NewSliceBuilder()
	b.Add(Event{Type: EventTypeDrop})
	first := b.Build()
	if len(first) != 1 {
		t.Fatalf("first Build() len = %d, want 1", len(first))
	}
	second := b.Build()
	if len(second) != 0 {
		t.Fatalf("second Build() len = %d, want 0 (builder should drain)", len(second))
	}
}
