package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/flowcore/flowqueue/flowfile"
	"github.com/flowcore/flowqueue/queue"
)

// fakeS3Client is an in-memory Client test double, standing in for a
// real S3-compatible endpoint.
type fakeS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3Client() *fakeS3Client { return &fakeS3Client{objects: make(map[string][]byte)} }

func (c *fakeS3Client) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.objects[aws.ToString(in.Key)] = body
	c.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (c *fakeS3Client) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	c.mu.Lock()
	body, ok := c.objects[aws.ToString(in.Key)]
	c.mu.Unlock()
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (c *fakeS3Client) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	c.mu.Lock()
	delete(c.objects, aws.ToString(in.Key))
	c.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (c *fakeS3Client) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(in.Prefix)
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []string
	for k := range c.objects {
		if len(prefix) == 0 || (len(k) >= len(prefix) && k[:len(prefix)] == prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var contents []types.Object
	for _, k := range keys {
		key := k
		contents = append(contents, types.Object{Key: &key})
	}
	return &s3.ListObjectsV2Output{Contents: contents}, nil
}

var _ Client = (*fakeS3Client)(nil)

type testRecord struct {
	id    uint64
	size  uint64
	claim *flowfile.ContentClaim
	attrs map[string]string
}

func (r *testRecord) ID() uint64                           { return r.id }
func (r *testRecord) Size() uint64                         { return r.size }
func (r *testRecord) EntryDateMs() int64                   { return 1000 }
func (r *testRecord) LineageStartMs() int64                { return 500 }
func (r *testRecord) IsPenalized() bool                    { return false }
func (r *testRecord) PenaltyExpirationMs() int64           { return 0 }
func (r *testRecord) ContentClaim() *flowfile.ContentClaim { return r.claim }
func (r *testRecord) ContentClaimOffset() uint64           { return 0 }
func (r *testRecord) Attributes() map[string]string        { return r.attrs }

var _ flowfile.Record = (*testRecord)(nil)

func TestSwapOutThenSwapInRoundTrips(t *testing.T) {
	store := NewFromClient(newFakeS3Client(), "test-bucket", "")
	ctx := t.Context()

	batch := []flowfile.Record{
		&testRecord{id: 1, size: 10, claim: &flowfile.ContentClaim{ResourceClaimID: "claim-a", Offset: 5}, attrs: map[string]string{"k": "v"}},
		&testRecord{id: 2, size: 20},
	}

	loc, err := store.SwapOut(ctx, batch, "queue-1")
	if err != nil {
		t.Fatalf("SwapOut() failed: %v", err)
	}

	count, bytes, err := store.GetSwapSize(ctx, loc)
	if err != nil {
		t.Fatalf("GetSwapSize() failed: %v", err)
	}
	if count != 2 || bytes != 30 {
		t.Fatalf("GetSwapSize() = (%d, %d), want (2, 30)", count, bytes)
	}

	got, err := store.SwapIn(ctx, loc, "queue-1")
	if err != nil {
		t.Fatalf("SwapIn() failed: %v", err)
	}
	if len(got) != 2 || got[0].ID() != 1 || got[1].ID() != 2 {
		t.Fatalf("SwapIn() = %v, want records [1, 2] in order", got)
	}
	if cc := got[0].ContentClaim(); cc == nil || cc.ResourceClaimID != "claim-a" {
		t.Fatalf("SwapIn()[0].ContentClaim() = %v, want claim-a", cc)
	}

	if _, err := store.SwapIn(ctx, loc, "queue-1"); !errors.Is(err, queue.ErrLocationGone) {
		t.Fatalf("second SwapIn() err = %v, want ErrLocationGone", err)
	}
}

func TestRecoverSwapLocationsOrdersBySequence(t *testing.T) {
	store := NewFromClient(newFakeS3Client(), "test-bucket", "")
	ctx := t.Context()

	var want []queue.SwapLocation
	for i := 0; i < 3; i++ {
		loc, err := store.SwapOut(ctx, []flowfile.Record{&testRecord{id: uint64(i + 1), size: 1}}, "queue-1")
		if err != nil {
			t.Fatalf("SwapOut() failed: %v", err)
		}
		want = append(want, loc)
	}

	got, err := store.RecoverSwapLocations(ctx, "queue-1")
	if err != nil {
		t.Fatalf("RecoverSwapLocations() failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("RecoverSwapLocations() returned %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("RecoverSwapLocations()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPurgeRemovesEverything(t *testing.T) {
	store := NewFromClient(newFakeS3Client(), "test-bucket", "")
	ctx := t.Context()

	if _, err := store.SwapOut(ctx, []flowfile.Record{&testRecord{id: 1, size: 1}}, "queue-1"); err != nil {
		t.Fatalf("SwapOut() failed: %v", err)
	}
	if err := store.Purge(ctx); err != nil {
		t.Fatalf("Purge() failed: %v", err)
	}
	locs, err := store.RecoverSwapLocations(ctx, "queue-1")
	if err != nil {
		t.Fatalf("RecoverSwapLocations() after purge failed: %v", err)
	}
	if len(locs) != 0 {
		t.Fatalf("RecoverSwapLocations() after purge = %v, want empty", locs)
	}
}
