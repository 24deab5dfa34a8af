// Package repository defines the flow file metadata repository boundary
// the queue core consumes during drop requests (§6).
package repository

import "context"

// DeletionType classifies why a RepositoryRecord was produced.
type DeletionType string

// DeletionTypeDrop is the only deletion type the queue core emits today:
// a record removed via drop_flow_files (§4.4).
const DeletionTypeDrop DeletionType = "DELETE"

// ContentClaimHandle identifies a content claim reference to release as
// part of a repository update. The repository (not the queue) owns the
// actual reference-counted store; the queue only reports which handles a
// delete released (§3 invariant 5, §6).
type ContentClaimHandle struct {
	ResourceClaimID string
	Offset          uint64
}

// Record conveys one repository mutation produced by a drop: the owning
// queue id, the deletion type, and the content-claim handles it releases.
type Record struct {
	QueueID      string
	Type         DeletionType
	ClaimHandles []ContentClaimHandle
}

// Repository is the flow file metadata repository interface the queue
// core consumes (§6). update_repository(records) must be durable before
// the drop worker reports the request COMPLETE.
type Repository interface {
	// UpdateRepository durably applies the given records. Must not
	// return until the records are durable, since the drop worker treats
	// a successful return as permission to advance dropped_size/state.
	UpdateRepository(ctx context.Context, records []Record) error
}
