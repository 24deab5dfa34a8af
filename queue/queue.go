// Package queue implements the FlowFile Queue with Swap-to-Disk and
// Backpressure: a concurrent, prioritized, expirable, disk-overflowing
// FIFO buffering flow files between two stages of a dataflow graph.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowcore/flowqueue/flowfile"
	"github.com/flowcore/flowqueue/internal/qlog"
	"github.com/flowcore/flowqueue/metrics"
	"github.com/flowcore/flowqueue/scheduler"
)

// Config configures a new Queue (§3, §6's "Configuration surface").
type Config struct {
	// Identifier names the queue; immutable after construction.
	Identifier string

	// MaxObjectCount is the object-count backpressure threshold. Zero
	// means unbounded.
	MaxObjectCount uint64

	// MaxByteCount is the byte-count backpressure threshold. Zero means
	// unbounded.
	MaxByteCount uint64

	// Expiration is the per-record TTL. Zero disables expiration.
	Expiration time.Duration

	// SwapThreshold is the number of records kept in the active heap
	// before overflow stages into the swap buffer. Typical value is
	// DefaultSwapThreshold (20,000).
	SwapThreshold int

	// Prioritizers is the ordered list of user comparators (§4.5 tier 3).
	Prioritizers []Prioritizer

	// SwapManager persists/restores overflow batches (§4.2). Required.
	SwapManager SwapManager

	// Scheduler receives source/destination wakeup notifications (§4.3).
	// May be nil, in which case notifications are simply dropped.
	Scheduler scheduler.Scheduler

	// Logger receives structured diagnostics. If nil, a default
	// stderr-JSON logger is created.
	Logger *qlog.Logger

	// Metrics receives put/poll/drop/swap counters. May be nil, in which
	// case increments are simply no-ops (metrics.Collector's methods are
	// nil-receiver safe).
	Metrics *metrics.Collector
}

// Queue is the FlowFile Queue core (§4.1). The zero value is not usable;
// construct with New.
type Queue struct {
	identifier string

	// mu is the single fair writer lock from §5. Size, IsFull and
	// Identifier never take it — they consult atomics or immutable fields
	// only. Priorities takes it briefly to copy the prioritizer list.
	mu sync.Mutex

	active        *recordHeap
	swapBuffer    []flowfile.Record
	swapLocations []SwapLocation
	swapMode      bool
	swapThreshold int

	comparator *comparator

	size *sizeAccounting

	maxObjectCount uint64
	maxByteCount   uint64
	fullCache      atomic.Bool

	expirationMs int64

	swapManager SwapManager
	scheduler   scheduler.Scheduler

	logger *queueLogger

	metrics *metrics.Collector

	drops *dropState
}

// New constructs a Queue from cfg. SwapManager is required; everything
// else has a usable zero value.
func New(cfg Config) *Queue {
	swapThreshold := cfg.SwapThreshold
	if swapThreshold <= 0 {
		swapThreshold = DefaultSwapThreshold
	}

	cmp := newComparator(cfg.Prioritizers)

	q := &Queue{
		identifier:     cfg.Identifier,
		active:         newRecordHeap(cmp.less),
		comparator:     cmp,
		size:           newSizeAccounting(),
		maxObjectCount: cfg.MaxObjectCount,
		maxByteCount:   cfg.MaxByteCount,
		expirationMs:   cfg.Expiration.Milliseconds(),
		swapThreshold:  swapThreshold,
		swapManager:    cfg.SwapManager,
		scheduler:      cfg.Scheduler,
		logger:         newQueueLogger(cfg.Logger),
		metrics:        cfg.Metrics,
	}
	q.drops = newDropState(q)
	return q
}

// Identifier returns the queue's immutable name. Lock-free.
func (q *Queue) Identifier() string { return q.identifier }

// Size returns (count, bytes) across active+swapped+unacked (§4.1, §4.7).
// Lock-free: reads a single atomic snapshot.
func (q *Queue) Size() (count, bytes int64) {
	s := q.size.snapshot()
	return s.visibleCount(), s.visibleBytes()
}

// IsFull reports the cached fullness flag (§4.3). Lock-free.
func (q *Queue) IsFull() bool { return q.fullCache.Load() }

// Priorities returns a snapshot of the configured prioritizers.
func (q *Queue) Priorities() []Prioritizer {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Prioritizer, len(q.comparator.prioritizers))
	copy(out, q.comparator.prioritizers)
	return out
}

// SetPriorities rebuilds the active heap under the write lock (§4.1).
func (q *Queue) SetPriorities(prioritizers []Prioritizer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.comparator = newComparator(prioritizers)
	q.active.rebuild(q.comparator.less)
}

// SetExpiration updates the per-record TTL. Returns ConfigError-wrapped
// ErrNegativeExpiration for a negative duration without mutating state
// (§7).
func (q *Queue) SetExpiration(d time.Duration) error {
	if d < 0 {
		return &ConfigError{Field: "expiration", Value: d, Msg: ErrNegativeExpiration.Error()}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.expirationMs = d.Milliseconds()
	return nil
}

// SetBackpressureObjectThreshold updates max_object_count and
// re-evaluates fullness (§4.1).
func (q *Queue) SetBackpressureObjectThreshold(n uint64) {
	q.mu.Lock()
	q.maxObjectCount = n
	q.mu.Unlock()
	q.refreshFull()
}

// SetBackpressureByteThreshold updates max_byte_count and re-evaluates
// fullness (§4.1).
func (q *Queue) SetBackpressureByteThreshold(n uint64) {
	q.mu.Lock()
	q.maxByteCount = n
	q.mu.Unlock()
	q.refreshFull()
}

// nowMs returns the current epoch-millisecond time. Not stubbed out
// behind a field: PollBatch and PollFilter read it once per call, under
// the write lock, and pass it to isExpired; tests steer expiration by
// setting a record's entry date relative to nowMs.
func nowMs() int64 { return time.Now().UnixMilli() }

// Put inserts a single record (§4.1). Never fails; may trigger swap-out.
func (q *Queue) Put(ctx context.Context, item flowfile.Record) {
	q.PutAll(ctx, []flowfile.Record{item})
}

// PutAll inserts a batch atomically with respect to accounting (§4.1).
func (q *Queue) PutAll(ctx context.Context, items []flowfile.Record) {
	if len(items) == 0 {
		return
	}

	start := time.Now()
	q.mu.Lock()

	var activeDelta, activeBytes, swappedDelta, swappedBytes int64
	for _, item := range items {
		if q.swapMode || q.active.Len() >= q.swapThreshold {
			q.swapBuffer = append(q.swapBuffer, item)
			swappedDelta++
			swappedBytes += int64(item.Size())
			q.swapMode = true
		} else {
			q.active.push(item)
			activeDelta++
			activeBytes += int64(item.Size())
		}
	}

	q.size.apply(sizeState{
		activeCount:  activeDelta,
		activeBytes:  activeBytes,
		swappedCount: swappedDelta,
		swappedBytes: swappedBytes,
	}, q.reportInvariantViolation)

	q.writeSwapFilesIfNeeded(ctx)
	q.refreshFullLocked()
	q.reportLockContention(start)
	q.mu.Unlock()

	q.metrics.IncRecordsPut(activeDelta + swappedDelta)

	// Event-driven wakeup fired only after unlock (§4.3, §9).
	if q.scheduler != nil {
		q.scheduler.RegisterEvent(scheduler.Destination, q.identifier)
	}
}

// Poll returns the next eligible record, or nil if none is available
// right now. Expired records encountered along the way (up to
// MaxExpiredPerIter) are appended to expiredOut (§4.1, §4.6).
func (q *Queue) Poll(ctx context.Context, expiredOut *[]flowfile.Record) flowfile.Record {
	batch := q.PollBatch(ctx, 1, expiredOut)
	if len(batch) == 0 {
		return nil
	}
	return batch[0]
}

// PollBatch returns up to max eligible records, excluding expired and
// penalized records (§4.1).
func (q *Queue) PollBatch(ctx context.Context, max int, expiredOut *[]flowfile.Record) []flowfile.Record {
	if max <= 0 {
		return nil
	}

	start := time.Now()
	q.mu.Lock()
	defer func() {
		q.reportLockContention(start)
		q.mu.Unlock()
	}()

	q.migrateSwapToActive(ctx)

	now := nowMs()

	var selected []flowfile.Record
	var expiredCount int
	var penalized bool
	var activeDelta, activeBytes, unackedDelta, unackedBytes int64

	for len(selected) < max {
		head := q.active.peek()
		if head == nil {
			break
		}
		if head.IsPenalized() {
			// Head is the earliest-to-unpenalize; everything behind it
			// is no sooner, so polling stops here (§4.1, §4.6).
			penalized = true
			break
		}

		if q.isExpired(head, now) {
			if expiredCount >= MaxExpiredPerIter {
				break
			}
			q.active.pop()
			*expiredOut = append(*expiredOut, head)
			expiredCount++
			activeDelta--
			activeBytes -= int64(head.Size())
			continue
		}

		q.active.pop()
		selected = append(selected, head)
		activeDelta--
		activeBytes -= int64(head.Size())
		unackedDelta++
		unackedBytes += int64(head.Size())
	}

	if activeDelta != 0 || unackedDelta != 0 {
		q.size.apply(sizeState{
			activeCount:  activeDelta,
			activeBytes:  activeBytes,
			unackedCount: unackedDelta,
			unackedBytes: unackedBytes,
		}, q.reportInvariantViolation)
	}

	q.refreshFullLocked()

	q.metrics.IncRecordsPolled(int64(len(selected)))
	q.metrics.IncRecordsExpired(int64(expiredCount))
	if penalized {
		q.metrics.IncRecordsPenalized(1)
	}

	return selected
}

// FilterResult is the per-record decision a PollFilter visitor returns.
type FilterResult struct {
	Accept   bool
	Continue bool
}

// PollFilter scans the head of the active heap, calling filter for each
// candidate. Accepted records are returned to the caller; rejected
// records are re-added with their priority preserved. The scan stops at
// the first !Continue result, matching §4.1's "stops on !continue" and
// the open question in §9 (stop at the first penalized head, don't scan
// past it).
func (q *Queue) PollFilter(ctx context.Context, filter func(flowfile.Record) FilterResult, expiredOut *[]flowfile.Record) []flowfile.Record {
	start := time.Now()
	q.mu.Lock()
	defer func() {
		q.reportLockContention(start)
		q.mu.Unlock()
	}()

	q.migrateSwapToActive(ctx)

	now := nowMs()

	var selected []flowfile.Record
	var rejected []flowfile.Record
	var expiredCount int
	var penalized bool
	var activeDelta, activeBytes, unackedDelta, unackedBytes int64

	for {
		head := q.active.peek()
		if head == nil {
			break
		}
		if head.IsPenalized() {
			penalized = true
			break
		}
		if q.isExpired(head, now) {
			if expiredCount >= MaxExpiredPerIter {
				break
			}
			q.active.pop()
			*expiredOut = append(*expiredOut, head)
			expiredCount++
			activeDelta--
			activeBytes -= int64(head.Size())
			continue
		}

		result := filter(head)
		q.active.pop()
		if result.Accept {
			selected = append(selected, head)
			activeDelta--
			activeBytes -= int64(head.Size())
			unackedDelta++
			unackedBytes += int64(head.Size())
		} else {
			rejected = append(rejected, head)
		}

		if !result.Continue {
			break
		}
	}

	for _, r := range rejected {
		q.active.push(r)
	}

	if activeDelta != 0 || unackedDelta != 0 {
		q.size.apply(sizeState{
			activeCount:  activeDelta,
			activeBytes:  activeBytes,
			unackedCount: unackedDelta,
			unackedBytes: unackedBytes,
		}, q.reportInvariantViolation)
	}
	q.refreshFullLocked()

	q.metrics.IncRecordsPolled(int64(len(selected)))
	q.metrics.IncRecordsExpired(int64(expiredCount))
	q.metrics.IncRecordsRejected(int64(len(rejected)))
	if penalized {
		q.metrics.IncRecordsPenalized(1)
	}

	return selected
}

// isExpired reports whether record was due to expire by now, given the
// queue's current expiration duration. Disabled (returns false) when
// expirationMs is zero (§4.6).
func (q *Queue) isExpired(r flowfile.Record, now int64) bool {
	if q.expirationMs == 0 {
		return false
	}
	return now >= r.EntryDateMs()+q.expirationMs
}

// Acknowledge finalizes removal of a previously polled record (§4.1).
func (q *Queue) Acknowledge(item flowfile.Record) {
	q.AcknowledgeBatch([]flowfile.Record{item})
}

// AcknowledgeBatch finalizes removal of previously polled records. If the
// queue was full and this unblocks it, a single Source wakeup is fired
// after unlock (§4.3).
func (q *Queue) AcknowledgeBatch(items []flowfile.Record) {
	if len(items) == 0 {
		return
	}

	var count, bytes int64
	for _, item := range items {
		count++
		bytes += int64(item.Size())
	}

	q.mu.Lock()
	wasFull := q.fullCache.Load()
	q.size.apply(sizeState{unackedCount: -count, unackedBytes: -bytes}, q.reportInvariantViolation)
	unblocked := false
	if wasFull {
		q.refreshFullLocked()
		unblocked = !q.fullCache.Load()
	} else {
		q.refreshFullLocked()
	}
	q.mu.Unlock()

	q.metrics.IncRecordsAcknowledged(count)

	if unblocked && q.scheduler != nil {
		q.scheduler.RegisterEvent(scheduler.Source, q.identifier)
	}
}

// refreshFull recomputes and caches the full flag, taking the write lock.
// Used by setters that are not already inside a locked section.
func (q *Queue) refreshFull() {
	q.mu.Lock()
	q.refreshFullLocked()
	q.mu.Unlock()
}

// refreshFullLocked recomputes the cached full flag (§4.3). Caller must
// hold mu.
func (q *Queue) refreshFullLocked() {
	s := q.size.snapshot()
	full := (q.maxObjectCount > 0 && uint64(s.visibleCount()) >= q.maxObjectCount) ||
		(q.maxByteCount > 0 && uint64(s.visibleBytes()) >= q.maxByteCount)
	wasFull := q.fullCache.Swap(full)
	if full && !wasFull {
		q.metrics.IncBackpressureActivation()
	}
}

func (q *Queue) reportInvariantViolation() {
	q.logger.invariantViolation(q.identifier, "counter would go negative; clamped to zero")
}

func (q *Queue) reportLockContention(start time.Time) {
	held := time.Since(start)
	if held.Nanoseconds() > lockContentionWarnThreshold {
		q.logger.lockContention(q.identifier, held.Nanoseconds())
	}
}
