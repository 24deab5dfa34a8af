package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/flowcore/flowqueue/flowfile"
)

func newTestQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()
	if cfg.SwapManager == nil {
		cfg.SwapManager = newFakeSwapManager()
	}
	if cfg.Identifier == "" {
		cfg.Identifier = "test-queue"
	}
	return New(cfg)
}

func TestPutPollFIFO(t *testing.T) {
	q := newTestQueue(t, Config{})
	ctx := t.Context()

	a, b, c := newFakeRecord(1), newFakeRecord(2), newFakeRecord(3)
	q.PutAll(ctx, []flowfile.Record{a, b, c})

	count, bytes := q.Size()
	if count != 3 || bytes != 30 {
		t.Fatalf("Size() = (%d, %d), want (3, 30)", count, bytes)
	}

	var expired []flowfile.Record
	got := q.PollBatch(ctx, 10, &expired)
	if len(got) != 3 {
		t.Fatalf("PollBatch returned %d records, want 3", len(got))
	}
	for i, want := range []uint64{1, 2, 3} {
		if got[i].ID() != want {
			t.Errorf("got[%d].ID() = %d, want %d", i, got[i].ID(), want)
		}
	}

	count, _ = q.Size()
	if count != 3 {
		t.Fatalf("Size() count after poll = %d, want 3 (unacked still counts)", count)
	}

	q.AcknowledgeBatch(got)
	count, bytes = q.Size()
	if count != 0 || bytes != 0 {
		t.Fatalf("Size() after acknowledge = (%d, %d), want (0, 0)", count, bytes)
	}
}

func TestPollOnEmptyQueueReturnsNil(t *testing.T) {
	q := newTestQueue(t, Config{})
	var expired []flowfile.Record
	if got := q.Poll(t.Context(), &expired); got != nil {
		t.Fatalf("Poll() on empty queue = %v, want nil", got)
	}
}

func TestBackpressureByObjectCount(t *testing.T) {
	q := newTestQueue(t, Config{MaxObjectCount: 2})
	ctx := t.Context()

	if q.IsFull() {
		t.Fatal("IsFull() true before any Put")
	}

	q.PutAll(ctx, []flowfile.Record{newFakeRecord(1), newFakeRecord(2)})
	if !q.IsFull() {
		t.Fatal("IsFull() false after reaching max_object_count")
	}

	var expired []flowfile.Record
	polled := q.PollBatch(ctx, 2, &expired)
	if len(polled) != 2 {
		t.Fatalf("PollBatch returned %d, want 2", len(polled))
	}
	// Still full: unacked records still count toward size (§4.7).
	if !q.IsFull() {
		t.Fatal("IsFull() false while records are still unacked")
	}

	q.AcknowledgeBatch(polled)
	if q.IsFull() {
		t.Fatal("IsFull() true after acknowledging everything")
	}
}

func TestBackpressureByByteCount(t *testing.T) {
	q := newTestQueue(t, Config{MaxByteCount: 15})
	ctx := t.Context()

	q.PutAll(ctx, []flowfile.Record{newFakeRecord(1), newFakeRecord(2)})
	if !q.IsFull() {
		t.Fatal("IsFull() false after exceeding max_byte_count")
	}
}

func TestExpirationMovesRecordsToExpiredOut(t *testing.T) {
	q := newTestQueue(t, Config{Expiration: time.Millisecond})
	ctx := t.Context()

	r := newFakeRecord(1)
	r.entryMs = nowMs() - 1000 // already expired relative to a 1ms TTL

	q.PutAll(ctx, []flowfile.Record{r})

	var expired []flowfile.Record
	got := q.PollBatch(ctx, 10, &expired)
	if len(got) != 0 {
		t.Fatalf("PollBatch returned %d live records, want 0", len(got))
	}
	if len(expired) != 1 || expired[0].ID() != 1 {
		t.Fatalf("expiredOut = %v, want [record 1]", expired)
	}
}

func TestPenalizedHeadBlocksPoll(t *testing.T) {
	q := newTestQueue(t, Config{})
	ctx := t.Context()

	penalized := newFakeRecord(1)
	penalized.penalized = true
	fresh := newFakeRecord(2)

	q.PutAll(ctx, []flowfile.Record{penalized, fresh})

	// The non-penalized record sorts ahead of the penalized one (§4.5), so
	// it is returned; the penalized record then heads the heap and stops
	// the scan.
	var expired []flowfile.Record
	got := q.PollBatch(ctx, 10, &expired)
	if len(got) != 1 || got[0].ID() != 2 {
		t.Fatalf("PollBatch returned %d records, want only record 2 before the penalized head", len(got))
	}
	if again := q.PollBatch(ctx, 10, &expired); len(again) != 0 {
		t.Fatalf("PollBatch returned %d records while head is penalized, want 0", len(again))
	}
}

func TestSetExpirationRejectsNegativeDuration(t *testing.T) {
	q := newTestQueue(t, Config{})
	err := q.SetExpiration(-time.Second)
	if err == nil {
		t.Fatal("SetExpiration(-1s) succeeded, want ConfigError")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want *ConfigError", err)
	}
}

func TestPollFilterRejectedRecordsStayInQueue(t *testing.T) {
	q := newTestQueue(t, Config{})
	ctx := t.Context()

	q.PutAll(ctx, []flowfile.Record{newFakeRecord(1), newFakeRecord(2), newFakeRecord(3)})

	var expired []flowfile.Record
	got := q.PollFilter(ctx, func(r flowfile.Record) FilterResult {
		// Accept only odd ids, keep scanning.
		return FilterResult{Accept: r.ID()%2 == 1, Continue: true}
	}, &expired)

	if len(got) != 2 {
		t.Fatalf("PollFilter accepted %d records, want 2 (ids 1 and 3)", len(got))
	}

	count, _ := q.Size()
	if count != 3 {
		t.Fatalf("Size() count = %d, want 3 (rejected record 2 stays, accepted are unacked)", count)
	}
}
