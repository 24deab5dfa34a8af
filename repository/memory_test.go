package repository

import (
	"context"
	"testing"
)

func TestMemoryRepositoryUpdateRepository(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	err := repo.UpdateRepository(ctx, []Record{
		{
			QueueID: "queue-1",
			Type:    DeletionTypeDrop,
			ClaimHandles: []ContentClaimHandle{
				{ResourceClaimID: "claim-a", Offset: 10},
			},
		},
	})
	if err != nil {
		t.Fatalf("UpdateRepository returned error: %v", err)
	}

	got := repo.Records()
	if len(got) != 1 {
		t.Fatalf("Records() len = %d, want 1", len(got))
	}
	if got[0].QueueID != "queue-1" || got[0].Type != DeletionTypeDrop {
		t.Fatalf("unexpected record: %+v", got[0])
	}
	if len(got[0].ClaimHandles) != 1 || got[0].ClaimHandles[0].ResourceClaimID != "claim-a" {
		t.Fatalf("unexpected claim handles: %+v", got[0].ClaimHandles)
	}
}

func TestMemoryRepositoryAccumulates(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := repo.UpdateRepository(ctx, []Record{{QueueID: "q"}}); err != nil {
			t.Fatalf("UpdateRepository returned error: %v", err)
		}
	}

	if got := len(repo.Records()); got != 3 {
		t.Fatalf("Records() len = %d, want 3", got)
	}
}
