// Package filestore implements queue.SwapManager on local disk: one
// length-prefixed msgpack file per swap location, framed the way
// ipc.FrameDecoder/EncodeFrame frame IPC messages.
package filestore

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/flowcore/flowqueue/flowfile"
	"github.com/flowcore/flowqueue/iox"
	"github.com/flowcore/flowqueue/queue"
)

// lengthPrefixSize mirrors ipc.LengthPrefixSize: each record in a swap
// file is a 4-byte big-endian length prefix followed by its msgpack
// payload, so a batch can be streamed record-by-record instead of
// decoded whole.
const lengthPrefixSize = 4

// maxRecordSize bounds a single record's encoded size, the filestore
// counterpart of ipc.MaxPayloadSize.
const maxRecordSize = 64 * 1024 * 1024

// wireRecord is the on-disk shape of a flowfile.Record. Every accessor on
// the interface has a field here; decoding produces a *storedRecord that
// implements flowfile.Record by reading straight out of this struct.
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

// storedRecord implements flowfile.Record over a decoded wireRecord.
type storedRecord struct{ w wireRecord }

func (s *storedRecord) ID() uint64             { return s.w.ID }
func (s *storedRecord) Size() uint64           { return s.w.Size }
func (s *storedRecord) EntryDateMs() int64     { return s.w.EntryDateMs }
func (s *storedRecord) LineageStartMs() int64  { return s.w.LineageStartMs }
func (s *storedRecord) IsPenalized() bool      { return s.w.IsPenalized }
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

// Store persists swap batches as files under BaseDir/<queueID>/. It
// satisfies queue.SwapManager.
type Store struct {
	BaseDir string

	mu      sync.Mutex
	counter uint64
}

// New creates a Store rooted at baseDir, creating it if necessary.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create base dir: %w", err)
	}
	return &Store{BaseDir: baseDir}, nil
}

func (s *Store) queueDir(queueID string) string {
	return filepath.Join(s.BaseDir, queueID)
}

func (s *Store) nextLocation(queueID string) queue.SwapLocation {
	n := atomic.AddUint64(&s.counter, 1)
	return queue.SwapLocation(filepath.Join(queueID, strconv.FormatUint(n, 10)+".swap"))
}

func (s *Store) pathFor(location queue.SwapLocation) string {
	return filepath.Join(s.BaseDir, string(location))
}

// SwapOut writes batch to a new file under queueID's directory.
func (s *Store) SwapOut(_ context.Context, batch []flowfile.Record, queueID string) (queue.SwapLocation, error) {
	if err := os.MkdirAll(s.queueDir(queueID), 0o755); err != nil {
		return "", &storeError{op: "swap_out", err: err}
	}

	loc := s.nextLocation(queueID)
	path := s.pathFor(loc)
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", &storeError{op: "swap_out", location: string(loc), err: err}
	}

	bw := bufio.NewWriter(f)
	for _, r := range batch {
		if err := writeRecord(bw, r); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return "", &storeError{op: "swap_out", location: string(loc), err: err}
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", &storeError{op: "swap_out", location: string(loc), err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", &storeError{op: "swap_out", location: string(loc), err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", &storeError{op: "swap_out", location: string(loc), err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", &storeError{op: "swap_out", location: string(loc), err: err}
	}

	return loc, nil
}

// SwapIn reads and deletes the file at location.
func (s *Store) SwapIn(_ context.Context, location queue.SwapLocation, _ string) ([]flowfile.Record, error) {
	path := s.pathFor(location)
	records, err := readAll(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, queue.ErrLocationGone
		}
		return nil, &storeError{op: "swap_in", location: string(location), err: err}
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, &storeError{op: "swap_in", location: string(location), err: err}
	}
	return records, nil
}

// GetSwapSize reads the file without deleting it, summing count and bytes.
func (s *Store) GetSwapSize(_ context.Context, location queue.SwapLocation) (int64, int64, error) {
	path := s.pathFor(location)
	records, err := readAll(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, 0, queue.ErrLocationGone
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
func (s *Store) GetMaxRecordID(_ context.Context, location queue.SwapLocation) (uint64, bool, error) {
	path := s.pathFor(location)
	records, err := readAll(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
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

// RecoverSwapLocations lists every .swap file under queueID's directory,
// sorted by the numeric sequence embedded in its name so replay order
// matches the order SwapOut originally produced.
func (s *Store) RecoverSwapLocations(_ context.Context, queueID string) ([]queue.SwapLocation, error) {
	dir := s.queueDir(queueID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &storeError{op: "recover_swap_locations", err: err}
	}

	type numbered struct {
		n    uint64
		name string
	}
	var nums []numbered
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".swap" {
			continue
		}
		base := e.Name()[:len(e.Name())-len(".swap")]
		n, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		nums = append(nums, numbered{n: n, name: e.Name()})
	}
	for i := 1; i < len(nums); i++ {
		for j := i; j > 0 && nums[j-1].n > nums[j].n; j-- {
			nums[j-1], nums[j] = nums[j], nums[j-1]
		}
	}

	out := make([]queue.SwapLocation, 0, len(nums))
	for _, n := range nums {
		out = append(out, queue.SwapLocation(filepath.Join(queueID, n.name)))
	}
	return out, nil
}

// Purge removes the entire base directory's contents. Administrative
// only; never called on the hot path.
func (s *Store) Purge(_ context.Context) error {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return &storeError{op: "purge", err: err}
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.BaseDir, e.Name())); err != nil {
			return &storeError{op: "purge", err: err}
		}
	}
	return nil
}

func writeRecord(w io.Writer, r flowfile.Record) error {
	payload, err := msgpack.Marshal(toWire(r))
	if err != nil {
		return fmt.Errorf("encode record %d: %w", r.ID(), err)
	}
	if len(payload) > maxRecordSize {
		return fmt.Errorf("record %d encodes to %d bytes, exceeds %d", r.ID(), len(payload), maxRecordSize)
	}
	var prefix [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func readAll(path string) ([]flowfile.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer iox.DiscardClose(f)

	br := bufio.NewReader(f)
	var out []flowfile.Record
	for {
		var prefix [lengthPrefixSize]byte
		_, err := io.ReadFull(br, prefix[:])
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read length prefix: %w", err)
		}
		size := binary.BigEndian.Uint32(prefix[:])
		if size > maxRecordSize {
			return nil, fmt.Errorf("record size %d exceeds %d", size, maxRecordSize)
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(br, payload); err != nil {
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

// storeError classifies a filestore I/O failure with the operation and
// location that produced it.
type storeError struct {
	op       string
	location string
	err      error
}

func (e *storeError) Error() string {
	if e.location != "" {
		return fmt.Sprintf("filestore %s %s: %v", e.op, e.location, e.err)
	}
	return fmt.Sprintf("filestore %s: %v", e.op, e.err)
}

func (e *storeError) Unwrap() error { return e.err }

var _ queue.SwapManager = (*Store)(nil)
