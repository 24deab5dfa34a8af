// Package redisstore implements queue.SwapManager against Redis: each
// swap batch is a Redis list of msgpack-encoded records, with a
// per-queue list tracking location ordering for replay. The connection
// shape (URL, key prefix, per-operation timeout) mirrors adapter/redis's
// New/Config pattern; failed Redis calls are not retried.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/flowcore/flowqueue/flowfile"
	"github.com/flowcore/flowqueue/queue"
)

// DefaultKeyPrefix namespaces every key this store touches.
const DefaultKeyPrefix = "flowqueue"

// DefaultTimeout is the per-operation timeout applied to every Redis
// round trip this store makes.
const DefaultTimeout = 5 * time.Second

// Config configures a Store.
type Config struct {
	// URL is the Redis connection URL (required). Format:
	// redis://[:password@]host:port[/db].
	URL string
	// KeyPrefix namespaces keys (default DefaultKeyPrefix).
	KeyPrefix string
	// Timeout bounds each Redis round trip (default DefaultTimeout).
	Timeout time.Duration
}

// Store persists swap batches in Redis lists. It satisfies
// queue.SwapManager.
type Store struct {
	client  *goredis.Client
	prefix  string
	timeout time.Duration
}

// New creates a Store from cfg.
func New(cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("redisstore: Config.URL is required")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redisstore: invalid URL: %w", err)
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Store{client: goredis.NewClient(opts), prefix: cfg.KeyPrefix, timeout: cfg.Timeout}, nil
}

// NewFromClient wraps an already-constructed client, the seam tests use
// to point a Store at a miniredis instance.
func NewFromClient(client *goredis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: keyPrefix, timeout: DefaultTimeout}
}

// Close releases the underlying Redis client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) counterKey(queueID string) string {
	return fmt.Sprintf("%s:%s:swap:seq", s.prefix, queueID)
}

func (s *Store) locationsKey(queueID string) string {
	return fmt.Sprintf("%s:%s:swap:locations", s.prefix, queueID)
}

func (s *Store) batchKey(location queue.SwapLocation) string {
	return fmt.Sprintf("%s:swap:batch:%s", s.prefix, location)
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// wireRecord is the Redis-list element shape, independent of filestore's
// identically-shaped type since each swap backend owns its own wire
// format rather than sharing one across storage technologies.
type wireRecord struct {
	ID                  uint64            `msgpack:"id"`
	Size                uint64            `msgpack:"size"`
	EntryDateMs         int64             `msgpack:"entry_date_ms"`
	LineageStartMs      int64             `msgpack:"lineage_start_ms"`
	IsPenalized         bool              `msgpack:"is_penalized"`
	PenaltyExpirationMs int64             `msgpack:"penalty_expiration_ms"`
	ClaimID             string            `msgpack:"claim_id,omitempty"`
	ClaimOffset         uint64            `msgpack:"claim_offset"`
	ContentClaimOffset  uint64            `msgpack:"content_claim_offset"`
	Attributes          map[string]string `msgpack:"attributes,omitempty"`
}

func toWire(r flowfile.Record) wireRecord {
	w := wireRecord{
		ID:                  r.ID(),
		Size:                r.Size(),
		EntryDateMs:         r.EntryDateMs(),
		LineageStartMs:      r.LineageStartMs(),
		IsPenalized:         r.IsPenalized(),
		PenaltyExpirationMs: r.PenaltyExpirationMs(),
		ContentClaimOffset:  r.ContentClaimOffset(),
		Attributes:          r.Attributes(),
	}
	if cc := r.ContentClaim(); cc != nil {
		w.ClaimID = cc.ResourceClaimID
		w.ClaimOffset = cc.Offset
	}
	return w
}

type storedRecord struct{ w wireRecord }

func (s *storedRecord) ID() uint64                 { return s.w.ID }
func (s *storedRecord) Size() uint64               { return s.w.Size }
func (s *storedRecord) EntryDateMs() int64         { return s.w.EntryDateMs }
func (s *storedRecord) LineageStartMs() int64      { return s.w.LineageStartMs }
func (s *storedRecord) IsPenalized() bool          { return s.w.IsPenalized }
func (s *storedRecord) PenaltyExpirationMs() int64 { return s.w.PenaltyExpirationMs }
func (s *storedRecord) ContentClaimOffset() uint64 { return s.w.ContentClaimOffset }
func (s *storedRecord) Attributes() map[string]string { return s.w.Attributes }
func (s *storedRecord) ContentClaim() *flowfile.ContentClaim {
	if s.w.ClaimID == "" {
		return nil
	}
	return &flowfile.ContentClaim{ResourceClaimID: s.w.ClaimID, Offset: s.w.ClaimOffset}
}

var _ flowfile.Record = (*storedRecord)(nil)

// SwapOut RPUSHes the batch's msgpack-encoded records into a fresh list
// keyed by an INCR'd sequence number, then records that location's name
// on the queue's ordering list.
func (s *Store) SwapOut(ctx context.Context, batch []flowfile.Record, queueID string) (queue.SwapLocation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	seq, err := s.client.Incr(ctx, s.counterKey(queueID)).Result()
	if err != nil {
		return "", &storeError{op: "swap_out", err: err}
	}
	loc := queue.SwapLocation(queueID + "/" + strconv.FormatInt(seq, 10))

	if len(batch) > 0 {
		payloads := make([]any, 0, len(batch))
		for _, r := range batch {
			payload, err := msgpack.Marshal(toWire(r))
			if err != nil {
				return "", &storeError{op: "swap_out", location: string(loc), err: err}
			}
			payloads = append(payloads, payload)
		}
		if err := s.client.RPush(ctx, s.batchKey(loc), payloads...).Err(); err != nil {
			return "", &storeError{op: "swap_out", location: string(loc), err: err}
		}
	}

	if err := s.client.RPush(ctx, s.locationsKey(queueID), string(loc)).Err(); err != nil {
		return "", &storeError{op: "swap_out", location: string(loc), err: err}
	}

	return loc, nil
}

// SwapIn reads and deletes the list at location, and removes it from the
// queue's ordering list.
func (s *Store) SwapIn(ctx context.Context, location queue.SwapLocation, queueID string) ([]flowfile.Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	exists, err := s.client.Exists(ctx, s.batchKey(location)).Result()
	if err != nil {
		return nil, &storeError{op: "swap_in", location: string(location), err: err}
	}

	records, err := s.readBatch(ctx, location)
	if err != nil {
		if errors.Is(err, queue.ErrLocationGone) {
			return nil, err
		}
		return nil, &storeError{op: "swap_in", location: string(location), err: err}
	}
	if exists == 0 && len(records) == 0 {
		// Redis keeps no empty lists, so a missing key is reported as
		// "gone"; this includes a location written from an empty batch,
		// for which SwapOut stores no list.
		if err := s.client.LRem(ctx, s.locationsKey(queueID), 1, string(location)).Err(); err != nil {
			return nil, &storeError{op: "swap_in", location: string(location), err: err}
		}
		return nil, queue.ErrLocationGone
	}

	if err := s.client.Del(ctx, s.batchKey(location)).Err(); err != nil {
		return nil, &storeError{op: "swap_in", location: string(location), err: err}
	}
	if err := s.client.LRem(ctx, s.locationsKey(queueID), 1, string(location)).Err(); err != nil {
		return nil, &storeError{op: "swap_in", location: string(location), err: err}
	}

	return records, nil
}

func (s *Store) readBatch(ctx context.Context, location queue.SwapLocation) ([]flowfile.Record, error) {
	raw, err := s.client.LRange(ctx, s.batchKey(location), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]flowfile.Record, 0, len(raw))
	for _, payload := range raw {
		var w wireRecord
		if err := msgpack.Unmarshal([]byte(payload), &w); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, &storedRecord{w: w})
	}
	return out, nil
}

// GetSwapSize reads location without removing it.
func (s *Store) GetSwapSize(ctx context.Context, location queue.SwapLocation) (int64, int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	exists, err := s.client.Exists(ctx, s.batchKey(location)).Result()
	if err != nil {
		return 0, 0, &storeError{op: "get_swap_size", location: string(location), err: err}
	}
	if exists == 0 {
		return 0, 0, queue.ErrLocationGone
	}

	records, err := s.readBatch(ctx, location)
	if err != nil {
		return 0, 0, &storeError{op: "get_swap_size", location: string(location), err: err}
	}
	var bytes int64
	for _, r := range records {
		bytes += int64(r.Size())
	}
	return int64(len(records)), bytes, nil
}

// GetMaxRecordID returns the greatest id stored at location.
func (s *Store) GetMaxRecordID(ctx context.Context, location queue.SwapLocation) (uint64, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	records, err := s.readBatch(ctx, location)
	if err != nil {
		return 0, false, &storeError{op: "get_max_record_id", location: string(location), err: err}
	}
	if len(records) == 0 {
		return 0, false, nil
	}
	var max uint64
	for _, r := range records {
		if r.ID() > max {
			max = r.ID()
		}
	}
	return max, true, nil
}

// RecoverSwapLocations returns the queue's ordering list verbatim.
func (s *Store) RecoverSwapLocations(ctx context.Context, queueID string) ([]queue.SwapLocation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	raw, err := s.client.LRange(ctx, s.locationsKey(queueID), 0, -1).Result()
	if err != nil {
		return nil, &storeError{op: "recover_swap_locations", err: err}
	}
	out := make([]queue.SwapLocation, len(raw))
	for i, loc := range raw {
		out[i] = queue.SwapLocation(loc)
	}
	return out, nil
}

// Purge deletes every key under this store's prefix. Administrative
// only; never called on the hot path.
func (s *Store) Purge(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	iter := s.client.Scan(ctx, 0, s.prefix+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return &storeError{op: "purge", err: err}
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return &storeError{op: "purge", err: err}
	}
	return nil
}

type storeError struct {
	op       string
	location string
	err      error
}

func (e *storeError) Error() string {
	if e.location != "" {
		return fmt.Sprintf("redisstore %s %s: %v", e.op, e.location, e.err)
	}
	return fmt.Sprintf("redisstore %s: %v", e.op, e.err)
}

func (e *storeError) Unwrap() error { return e.err }

var _ queue.SwapManager = (*Store)(nil)
