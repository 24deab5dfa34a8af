package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/flowcore/flowqueue/flowfile"
	"github.com/flowcore/flowqueue/provenance"
	"github.com/flowcore/flowqueue/repository"
)

// DropState enumerates a DropRequest's lifecycle (§3).
type DropState string

const (
	DropWaiting  DropState = "WAITING"
	DropDropping DropState = "DROPPING"
	DropComplete DropState = "COMPLETE"
	DropCanceled DropState = "CANCELED"
	DropFailure  DropState = "FAILURE"
)

// Size is a (count, bytes) pair, used for the three size fields on a
// DropRequest.
type Size struct {
	Count int64
	Bytes int64
}

// DropRequest is the handle returned by DropFlowFiles (§3, §4.4).
// Mutable fields are updated only by the request's own worker goroutine,
// except CancelFlag which the cancel caller also sets — the
// single-writer-field pattern called out in §5.
type DropRequest struct {
	ID            string
	Requestor     string
	mu            sync.Mutex
	state         DropState
	originalSize  Size
	currentSize   Size
	droppedSize   Size
	lastUpdatedMs int64
	cancelFlag    atomicFlag
	reason        string
}

// State returns the request's current lifecycle state.
func (r *DropRequest) State() DropState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Progress returns (original, current, dropped) sizes and the last
// update timestamp, as a single consistent snapshot.
func (r *DropRequest) Progress() (original, current, dropped Size, lastUpdatedMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.originalSize, r.currentSize, r.droppedSize, r.lastUpdatedMs
}

// Reason returns the failure reason, if any (only meaningful in state
// FAILURE).
func (r *DropRequest) Reason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

func (r *DropRequest) setState(s DropState) {
	r.mu.Lock()
	r.state = s
	r.lastUpdatedMs = nowMs()
	r.mu.Unlock()
}

func (r *DropRequest) setFailure(reason string) {
	r.mu.Lock()
	r.state = DropFailure
	r.reason = reason
	r.lastUpdatedMs = nowMs()
	r.mu.Unlock()
}

func (r *DropRequest) setOriginal(s Size) {
	r.mu.Lock()
	r.originalSize = s
	r.currentSize = s
	r.lastUpdatedMs = nowMs()
	r.mu.Unlock()
}

func (r *DropRequest) recordProgress(dropped Size) {
	r.mu.Lock()
	r.droppedSize.Count += dropped.Count
	r.droppedSize.Bytes += dropped.Bytes
	r.currentSize.Count -= dropped.Count
	r.currentSize.Bytes -= dropped.Bytes
	r.lastUpdatedMs = nowMs()
	r.mu.Unlock()
}

func (r *DropRequest) canceled() bool { return r.cancelFlag.isSet() }

// atomicFlag is a tiny sync.Mutex-guarded boolean, kept separate from
// sizeAccounting's CAS tuple since a drop request's cancel flag has
// nothing to do with the queue's six-counter invariant.
type atomicFlag struct {
	mu  sync.Mutex
	set bool
}

func (f *atomicFlag) setTrue() {
	f.mu.Lock()
	f.set = true
	f.mu.Unlock()
}

func (f *atomicFlag) isSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

// dropHousekeepingLimit and dropHousekeepingAge implement §4.4's
// housekeeping rule: once the map exceeds this many entries, any
// terminal-state entry older than this age is evicted.
const dropHousekeepingLimit = 10

var dropHousekeepingAge = 5 * time.Minute

// dropState holds the queue's drop-request map and its dependencies. A
// separate type keeps queue.go focused on put/poll/acknowledge.
type dropState struct {
	q *Queue

	mu       sync.Mutex
	requests map[string]*DropRequest

	itemRepo repository.Repository
	provRepo provenance.Repository
}

func newDropState(q *Queue) *dropState {
	return &dropState{q: q, requests: make(map[string]*DropRequest)}
}

// WithCollaborators wires the repository and provenance collaborators a
// drop worker needs. Queue.New doesn't take these directly so that a
// caller assembling a Queue for pure in-memory comparator/heap tests
// isn't forced to wire collaborators it never exercises.
func (q *Queue) WithCollaborators(itemRepo repository.Repository, provRepo provenance.Repository) *Queue {
	q.drops.itemRepo = itemRepo
	q.drops.provRepo = provRepo
	return q
}

// DropFlowFiles starts a cancellable background worker that empties the
// queue — active heap, swap buffer, and every persisted swap location —
// emitting one provenance DROP event and one repository delete record
// per item (§4.4). Returns immediately with a handle to track progress.
func (q *Queue) DropFlowFiles(ctx context.Context, requestID, requestor string) *DropRequest {
	req := &DropRequest{ID: requestID, Requestor: requestor, state: DropWaiting, lastUpdatedMs: nowMs()}

	q.drops.mu.Lock()
	q.drops.requests[requestID] = req
	q.drops.evictTerminalLocked()
	q.drops.mu.Unlock()

	q.metrics.IncDropsRequested()

	go q.drops.run(ctx, req)

	return req
}

// CancelDrop sets the cancel flag on an in-flight request and returns its
// current handle, or nil if no such request exists (§4.4).
func (q *Queue) CancelDrop(requestID string) *DropRequest {
	q.drops.mu.Lock()
	req, ok := q.drops.requests[requestID]
	q.drops.mu.Unlock()
	if !ok {
		return nil
	}
	req.cancelFlag.setTrue()
	return req
}

// GetDropRequest looks up a request by id.
func (q *Queue) GetDropRequest(requestID string) *DropRequest {
	q.drops.mu.Lock()
	defer q.drops.mu.Unlock()
	return q.drops.requests[requestID]
}

// NewDropRequestID generates a request id suitable for DropFlowFiles
// callers that don't have their own id scheme.
func NewDropRequestID() string { return uuid.NewString() }

// evictTerminalLocked removes terminal, stale entries once the map grows
// past dropHousekeepingLimit (§4.4). Caller must hold dropState.mu.
func (d *dropState) evictTerminalLocked() {
	if len(d.requests) <= dropHousekeepingLimit {
		return
	}
	cutoff := nowMs() - dropHousekeepingAge.Milliseconds()
	for id, req := range d.requests {
		req.mu.Lock()
		terminal := req.state == DropComplete || req.state == DropCanceled || req.state == DropFailure
		stale := req.lastUpdatedMs < cutoff
		req.mu.Unlock()
		if terminal && stale {
			delete(d.requests, id)
		}
	}
}

// run executes the drop worker body described in §4.4. The write lock is
// acquired at the start and held for the worker's entire duration,
// including swap-in I/O — the exclusive-drop design from §5: no item the
// drop "saw" can be delivered to a consumer while it runs.
func (d *dropState) run(ctx context.Context, req *DropRequest) {
	q := d.q

	q.mu.Lock()
	defer q.mu.Unlock()

	req.setState(DropDropping)
	count, bytes := q.Size()
	req.setOriginal(Size{Count: count, Bytes: bytes})

	builder := d.eventBuilder()
	var persistErr error

	// Phase 1: active heap.
	activeItems := q.active.drain()
	persistErr = multierr.Append(persistErr, d.dropItems(ctx, builder, req, activeItems))
	if len(activeItems) > 0 {
		var n, b int64
		for _, r := range activeItems {
			n++
			b += int64(r.Size())
		}
		q.size.apply(sizeState{activeCount: -n, activeBytes: -b}, q.reportInvariantViolation)
		req.recordProgress(Size{Count: n, Bytes: b})
	}

	// Phase 2: swap buffer.
	bufferItems := q.swapBuffer
	q.swapBuffer = nil
	persistErr = multierr.Append(persistErr, d.dropItems(ctx, builder, req, bufferItems))
	if len(bufferItems) > 0 {
		var n, b int64
		for _, r := range bufferItems {
			n++
			b += int64(r.Size())
		}
		q.size.apply(sizeState{swappedCount: -n, swappedBytes: -b}, q.reportInvariantViolation)
		req.recordProgress(Size{Count: n, Bytes: b})
	}
	q.refreshFullLocked()

	// Phase 3: persisted swap locations, FIFO. swapMode stays true until
	// every location is gone — a cancel partway through must leave the
	// queue in a state where further Puts still route overflow to the
	// swap buffer rather than silently growing the active heap past
	// swap_threshold.
	for len(q.swapLocations) > 0 {
		if req.canceled() {
			req.setState(DropCanceled)
			q.refreshFullLocked()
			d.flushEvents(ctx, builder)
			if persistErr != nil {
				q.logger.dropPersistErrors(q.identifier, req.ID, persistErr)
			}
			_, _, dropped, _ := req.Progress()
			q.metrics.IncDropsCanceled(dropped.Count)
			return
		}

		loc := q.swapLocations[0]
		items, err := q.swapManager.SwapIn(ctx, loc, q.identifier)
		if err != nil {
			// Re-add to active heap to avoid loss (§4.4): the batch
			// never left durable storage from the swap manager's point
			// of view if SwapIn failed, so keeping it reachable via the
			// active heap is strictly safer than dropping the location.
			for _, r := range items {
				q.active.push(r)
			}
			q.logger.dropRequestFailed(q.identifier, req.ID, err)
			req.setFailure(err.Error())
			d.flushEvents(ctx, builder)
			if persistErr != nil {
				q.logger.dropPersistErrors(q.identifier, req.ID, persistErr)
			}
			_, _, dropped, _ := req.Progress()
			q.metrics.IncDropsFailed(dropped.Count)
			return
		}

		q.swapLocations = q.swapLocations[1:]
		persistErr = multierr.Append(persistErr, d.dropItems(ctx, builder, req, items))

		var n, b int64
		for _, r := range items {
			n++
			b += int64(r.Size())
		}
		q.size.apply(sizeState{swappedCount: -n, swappedBytes: -b}, q.reportInvariantViolation)
		req.recordProgress(Size{Count: n, Bytes: b})
	}

	q.swapMode = false
	d.flushEvents(ctx, builder)
	q.refreshFullLocked()
	req.setState(DropComplete)
	if persistErr != nil {
		q.logger.dropPersistErrors(q.identifier, req.ID, persistErr)
	}
	_, _, dropped, _ := req.Progress()
	q.metrics.IncDropsCompleted(dropped.Count)
}

// dropItems builds one provenance DROP event and one repository delete
// record per item, per §4.4/§6. Events are buffered on builder; run
// registers them in one batch when the drop completes, is canceled, or
// fails, rather than per item.
// Per-item repository errors never stop the drop (the record is still
// logically gone from the queue) but are combined via multierr and
// returned so the caller can log them instead of silently losing them.
func (d *dropState) dropItems(ctx context.Context, builder provenance.Builder, req *DropRequest, items []flowfile.Record) error {
	q := d.q
	var persistErr error
	for _, item := range items {
		var claim *flowfile.PreviousClaim
		var handles []repository.ContentClaimHandle
		if cc := item.ContentClaim(); cc != nil {
			claim = &flowfile.PreviousClaim{
				Container: cc.ResourceClaimID,
				Section:   cc.ResourceClaimID,
				ID:        fmt.Sprintf("%d", item.ID()),
				Offset:    cc.Offset,
				Size:      item.Size(),
			}
			handles = append(handles, repository.ContentClaimHandle{
				ResourceClaimID: cc.ResourceClaimID,
				Offset:          cc.Offset,
			})
		}

		if builder != nil {
			builder.Add(provenance.Event{
				Type:           provenance.EventTypeDrop,
				SourceQueueID:  q.identifier,
				LineageStartMs: item.LineageStartMs(),
				Attributes:     item.Attributes(),
				Details:        fmt.Sprintf("FlowFile Queue emptied by %s", req.Requestor),
				PreviousClaim:  claim,
			})
		}

		if d.itemRepo != nil {
			err := d.itemRepo.UpdateRepository(ctx, []repository.Record{{
				QueueID:      q.identifier,
				Type:         repository.DeletionTypeDrop,
				ClaimHandles: handles,
			}})
			persistErr = multierr.Append(persistErr, err)
		}
	}
	return persistErr
}

func (d *dropState) eventBuilder() provenance.Builder {
	if d.provRepo == nil {
		return nil
	}
	return d.provRepo.EventBuilder()
}

func (d *dropState) flushEvents(ctx context.Context, builder provenance.Builder) {
	if builder == nil || d.provRepo == nil {
		return
	}
	_ = d.provRepo.RegisterEvents(ctx, builder.Build())
}
