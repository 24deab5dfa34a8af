// Package s3store implements queue.SwapManager against S3-compatible
// object storage. Each swap batch becomes one object (msgpack-encoded,
// length-prefixed records concatenated, mirroring filestore's on-disk
// framing); ListObjectsV2 on a queue's prefix doubles as the location
// ledger, keyed so lexicographic listing order matches swap-out order.
package s3store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/flowcore/flowqueue/flowfile"
	"github.com/flowcore/flowqueue/iox"
	"github.com/flowcore/flowqueue/queue"
)

const lengthPrefixSize = 4

// Client is the subset of *s3.Client this store calls, narrowed so tests
// can supply an in-memory fake instead of a real S3 endpoint.
type Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config configures a Store.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom endpoint URL for S3-compatible providers
	// (MinIO, R2, ...). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing, required by most
	// S3-compatible providers.
	UsePathStyle bool
}

func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("s3store: Config.Bucket is required")
	}
	return nil
}

// Store persists swap batches as S3 objects. It satisfies
// queue.SwapManager.
type Store struct {
	client  Client
	bucket  string
	prefix  string
	counter uint64
}

// New loads AWS config via the default credential chain and constructs a
// Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3store: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = &endpoint })
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	return NewFromClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket, cfg.Prefix), nil
}

// NewFromClient wraps an already-constructed Client, the seam tests use
// to point a Store at an in-memory fake.
func NewFromClient(client Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *Store) objectKey(location queue.SwapLocation) string {
	if s.prefix == "" {
		return string(location)
	}
	return s.prefix + "/" + string(location)
}

func (s *Store) queuePrefix(queueID string) string {
	if s.prefix == "" {
		return queueID + "/"
	}
	return s.prefix + "/" + queueID + "/"
}

func (s *Store) nextLocation(queueID string) queue.SwapLocation {
	// Zero-padded so lexicographic S3 listing order matches numeric swap
	// order up to 10^12 batches per queue, comfortably beyond any real
	// queue's lifetime swap-out count.
	n := atomic.AddUint64(&s.counter, 1)
	return queue.SwapLocation(fmt.Sprintf("%s/%012d.swap", queueID, n))
}

// SwapOut writes batch as one object under queueID's prefix.
func (s *Store) SwapOut(ctx context.Context, batch []flowfile.Record, queueID string) (queue.SwapLocation, error) {
	loc := s.nextLocation(queueID)

	var buf bytes.Buffer
	for _, r := range batch {
		if err := writeRecord(&buf, r); err != nil {
			return "", &storeError{op: "swap_out", location: string(loc), err: err}
		}
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(loc)),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return "", &storeError{op: "swap_out", location: string(loc), err: err}
	}
	return loc, nil
}

// SwapIn reads and deletes the object at location.
func (s *Store) SwapIn(ctx context.Context, location queue.SwapLocation, _ string) ([]flowfile.Record, error) {
	records, err := s.readObject(ctx, location)
	if err != nil {
		if errors.Is(err, queue.ErrLocationGone) {
			return nil, err
		}
		return nil, &storeError{op: "swap_in", location: string(location), err: err}
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(location)),
	})
	if err != nil {
		return nil, &storeError{op: "swap_in", location: string(location), err: err}
	}
	return records, nil
}

// GetSwapSize reads the object without deleting it.
func (s *Store) GetSwapSize(ctx context.Context, location queue.SwapLocation) (int64, int64, error) {
	records, err := s.readObject(ctx, location)
	if err != nil {
		if errors.Is(err, queue.ErrLocationGone) {
			return 0, 0, err
		}
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
	records, err := s.readObject(ctx, location)
	if err != nil {
		if errors.Is(err, queue.ErrLocationGone) {
			return 0, false, nil
		}
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

// RecoverSwapLocations lists objects under queueID's prefix; the
// zero-padded sequence in each key name makes lexicographic listing
// order match swap-out order.
func (s *Store) RecoverSwapLocations(ctx context.Context, queueID string) ([]queue.SwapLocation, error) {
	prefix := s.queuePrefix(queueID)

	var keys []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, &storeError{op: "recover_swap_locations", err: err}
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}

	sort.Strings(keys)

	base := s.prefix
	if base != "" {
		base += "/"
	}
	out := make([]queue.SwapLocation, 0, len(keys))
	for _, k := range keys {
		out = append(out, queue.SwapLocation(strings.TrimPrefix(k, base)))
	}
	return out, nil
}

// Purge deletes every object under this store's prefix. Administrative
// only; never called on the hot path.
func (s *Store) Purge(ctx context.Context) error {
	var token *string
	for {
		listPrefix := s.prefix
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(listPrefix),
			ContinuationToken: token,
		})
		if err != nil {
			return &storeError{op: "purge", err: err}
		}
		for _, obj := range out.Contents {
			if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			}); err != nil {
				return &storeError{op: "purge", err: err}
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	return nil
}

func (s *Store) readObject(ctx context.Context, location queue.SwapLocation) ([]flowfile.Record, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(location)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, queue.ErrLocationGone
		}
		return nil, err
	}
	defer iox.DiscardClose(out.Body)

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object body: %w", err)
	}
	return decodeRecords(body)
}

// wireRecord mirrors filestore's type; each swap backend owns its own
// wire format rather than sharing one across storage technologies.
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

func writeRecord(w io.Writer, r flowfile.Record) error {
	payload, err := msgpack.Marshal(toWire(r))
	if err != nil {
		return fmt.Errorf("encode record %d: %w", r.ID(), err)
	}
	var prefix [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func decodeRecords(body []byte) ([]flowfile.Record, error) {
	r := bytes.NewReader(body)
	var out []flowfile.Record
	for {
		var prefix [lengthPrefixSize]byte
		_, err := io.ReadFull(r, prefix[:])
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read length prefix: %w", err)
		}
		size := binary.BigEndian.Uint32(prefix[:])
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		var w wireRecord
		if err := msgpack.Unmarshal(payload, &w); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, &storedRecord{w: w})
	}
	return out, nil
}

type storeError struct {
	op       string
	location string
	err      error
}

func (e *storeError) Error() string {
	if e.location != "" {
		return fmt.Sprintf("s3store %s %s: %v", e.op, e.location, e.err)
	}
	return fmt.Sprintf("s3store %s: %v", e.op, e.err)
}

func (e *storeError) Unwrap() error { return e.err }

var _ queue.SwapManager = (*Store)(nil)
