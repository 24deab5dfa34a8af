package queue

import (
	"context"
	"errors"

	"github.com/flowcore/flowqueue/flowfile"
)

// SwapLocation is an opaque handle to a persisted batch, FIFO-ordered
// across the queue's lifetime (§3).
type SwapLocation string

// SwapManager is the durable-storage collaborator the queue core
// consumes (§4.2). Implementations live under swapio/ (filestore,
// redisstore, s3store); the core only ever calls the methods below and
// never calls back into the queue while one is in flight (§5).
type SwapManager interface {
	// SwapOut persists a batch under queueID and returns a location
	// identifying it. Failure leaves the batch in memory; the queue
	// retries at the next swap-needing event (§4.2).
	SwapOut(ctx context.Context, batch []flowfile.Record, queueID string) (SwapLocation, error)

	// SwapIn loads and consumes a previously persisted batch. After a
	// successful return the location is considered gone from durable
	// storage; the core removes it from its own list before the next
	// poll (§4.2).
	SwapIn(ctx context.Context, location SwapLocation, queueID string) ([]flowfile.Record, error)

	// GetSwapSize returns the count and byte size of a persisted batch
	// without loading its records.
	GetSwapSize(ctx context.Context, location SwapLocation) (count, bytes int64, err error)

	// GetMaxRecordID returns the greatest record id in the location, or
	// ok=false if the location is empty. Used by the host to seed an id
	// generator after restart.
	GetMaxRecordID(ctx context.Context, location SwapLocation) (id uint64, ok bool, err error)

	// RecoverSwapLocations returns every location persisted for queueID,
	// in the order SwapOut originally produced them.
	RecoverSwapLocations(ctx context.Context, queueID string) ([]SwapLocation, error)

	// Purge deletes all persisted state for this swap manager.
	// Administrative only; never called on the hot path.
	Purge(ctx context.Context) error
}

// ErrLocationGone reports that a SwapManager treats a location as no
// longer present (file-not-found class of failure). Implementations
// should wrap their native not-found error so errors.Is(err,
// ErrLocationGone) succeeds; the core falls back to classifying anything
// else as a generic IoError.
var ErrLocationGone = errors.New("swap location gone")

// migrateSwapToActive opportunistically refills the active heap from the
// swap buffer and persisted swap locations (§4.1.1). Caller must hold the
// write lock.
func (q *Queue) migrateSwapToActive(ctx context.Context) {
	if q.active.Len() > q.swapThreshold-SwapRecordBatch {
		return
	}

	if len(q.swapLocations) > 0 {
		loc := q.swapLocations[0]
		records, err := q.swapManager.SwapIn(ctx, loc, q.identifier)
		if err != nil {
			q.reportSwapInFailure(loc, err)
			q.metrics.IncSwapInFailure()
			q.swapLocations = q.swapLocations[1:]
			q.refreshFullLocked()
			return
		}
		q.swapLocations = q.swapLocations[1:]

		var bytes int64
		for _, r := range records {
			q.active.push(r)
			bytes += int64(r.Size())
		}
		q.metrics.IncSwapIn(int64(len(records)))
		q.size.apply(sizeState{
			activeCount:  int64(len(records)),
			activeBytes:  bytes,
			swappedCount: -int64(len(records)),
			swappedBytes: -bytes,
		}, q.reportInvariantViolation)

		if q.size.snapshot().swappedCount == 0 {
			q.swapMode = false
		}
		q.refreshFullLocked()
		return
	}

	// No persisted locations remain (handled above), so the "persisted
	// count > swap buffer size" guard in §4.1.1 can never fire here —
	// it only matters while persisted batches still outnumber the
	// buffer, which is exactly the branch this function already took.
	migrated := 0
	var bytes int64
	for q.active.Len() < q.swapThreshold && len(q.swapBuffer) > 0 {
		r := q.swapBuffer[0]
		q.swapBuffer = q.swapBuffer[1:]
		q.active.push(r)
		bytes += int64(r.Size())
		migrated++
	}
	if migrated > 0 {
		q.size.apply(sizeState{
			activeCount:  int64(migrated),
			activeBytes:  bytes,
			swappedCount: -int64(migrated),
			swappedBytes: -bytes,
		}, q.reportInvariantViolation)
	}
	if q.size.snapshot().swappedCount == 0 {
		q.swapMode = false
	}
	q.refreshFullLocked()
}

// writeSwapFilesIfNeeded persists overflow from the swap buffer once it
// reaches SwapRecordBatch records (§4.1.2). Caller must hold the write
// lock.
func (q *Queue) writeSwapFilesIfNeeded(ctx context.Context) {
	if len(q.swapBuffer) < SwapRecordBatch {
		return
	}

	numFiles := len(q.swapBuffer) / SwapRecordBatch

	// Merge active heap and swap buffer into a single reverse-priority
	// temp heap so the lowest-priority records are the ones we persist.
	temp := newRecordHeap(q.comparator.reversed().less)
	for _, r := range q.active.drain() {
		temp.push(r)
	}
	var bufferedCount, bufferedBytes int64
	for _, r := range q.swapBuffer {
		temp.push(r)
		bufferedCount++
		bufferedBytes += int64(r.Size())
	}
	q.swapBuffer = q.swapBuffer[:0]

	var persistedCount, persistedBytes int64
	for i := 0; i < numFiles; i++ {
		if temp.Len() < SwapRecordBatch {
			break
		}
		// Pop the SwapRecordBatch lowest-priority records (reverse
		// order), then reverse the batch back into priority order
		// before handing it to the swap manager.
		batch := make([]flowfile.Record, 0, SwapRecordBatch)
		for j := 0; j < SwapRecordBatch; j++ {
			batch = append(batch, temp.pop())
		}
		reverseInPlace(batch)

		loc, err := q.swapManager.SwapOut(ctx, batch, q.identifier)
		if err != nil {
			q.logger.swapOutFailed(q.identifier, err)
			// Push the batch back into the temp heap and stop; it stays
			// in memory until the next opportunity (§4.1.2, §4.2).
			for _, r := range batch {
				temp.push(r)
			}
			break
		}

		q.swapLocations = append(q.swapLocations, loc)
		var batchBytes int64
		for _, r := range batch {
			batchBytes += int64(r.Size())
		}
		persistedCount += int64(len(batch))
		persistedBytes += batchBytes
		q.metrics.IncSwapOut(int64(len(batch)))
	}

	// Pour the remainder back: overflow above swap_threshold refills the
	// swap buffer, the rest refills the active heap.
	var bufferOverflow []flowfile.Record
	for temp.Len() > q.swapThreshold {
		bufferOverflow = append(bufferOverflow, temp.pop())
	}
	reverseInPlace(bufferOverflow)
	q.swapBuffer = append(q.swapBuffer, bufferOverflow...)

	remainder := temp.drain()
	for _, r := range remainder {
		q.active.push(r)
	}

	var bufferBytes int64
	for _, r := range bufferOverflow {
		bufferBytes += int64(r.Size())
	}

	// Single CAS-applied delta: active/swapped counts before this call
	// already summed to what they are now, and the records taken from the
	// swap buffer were already counted as swapped. The only real delta is
	// the net move from active into swapped: what is now persisted or
	// buffered, minus what the buffer held on entry.
	movedCount := persistedCount + int64(len(bufferOverflow)) - bufferedCount
	movedBytes := persistedBytes + bufferBytes - bufferedBytes
	q.size.apply(sizeState{
		activeCount:  -movedCount,
		activeBytes:  -movedBytes,
		swappedCount: movedCount,
		swappedBytes: movedBytes,
	}, q.reportInvariantViolation)

	if len(q.swapLocations) > 0 || len(q.swapBuffer) > 0 {
		q.swapMode = true
	}
	q.refreshFullLocked()
}

// RecoverSwappedFiles seeds the queue's swap-location list from whatever
// the swap manager already has persisted for this queue. Call it once at
// startup, before any Put/Poll traffic begins, to restore the
// swapped-count/-bytes accounting that existed before the process
// stopped (§4.2, §8's "after process restart" scenario). Locations that
// fail to report a size (the corruption/gone case from §9's open
// question) are dropped from the list and logged, the same policy
// migrateSwapToActive applies to a failed SwapIn.
func (q *Queue) RecoverSwappedFiles(ctx context.Context) error {
	locations, err := q.swapManager.RecoverSwapLocations(ctx, q.identifier)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var count, bytes int64
	recovered := make([]SwapLocation, 0, len(locations))
	for _, loc := range locations {
		c, b, err := q.swapManager.GetSwapSize(ctx, loc)
		if err != nil {
			q.reportSwapInFailure(loc, err)
			continue
		}
		count += c
		bytes += b
		recovered = append(recovered, loc)
	}

	q.swapLocations = append(q.swapLocations, recovered...)
	if len(q.swapLocations) > 0 {
		q.swapMode = true
	}
	q.size.apply(sizeState{swappedCount: count, swappedBytes: bytes}, q.reportInvariantViolation)
	q.refreshFullLocked()
	return nil
}

// PurgeSwapFiles blows away all persisted swap state for this queue via
// the SwapManager and resets the in-memory swap bookkeeping to match
// (§4.1's operation table: "Administrative; blows away persisted
// state"). Not part of the normal lifecycle — an operator action, never
// called from Put/Poll/Drop.
func (q *Queue) PurgeSwapFiles(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.swapManager.Purge(ctx); err != nil {
		return err
	}

	s := q.size.snapshot()
	q.size.apply(sizeState{swappedCount: -s.swappedCount, swappedBytes: -s.swappedBytes}, q.reportInvariantViolation)
	q.swapLocations = nil
	q.swapBuffer = nil
	q.swapMode = false
	q.refreshFullLocked()
	return nil
}

func reverseInPlace(records []flowfile.Record) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
}

func (q *Queue) reportSwapInFailure(loc SwapLocation, err error) {
	if errors.Is(err, ErrLocationGone) {
		q.logger.swapLocationGone(q.identifier, string(loc), err)
		return
	}
	q.logger.swapInFailed(q.identifier, string(loc), err)
}
