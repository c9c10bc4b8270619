// ============================================================================
// litewal Metadata I/O - .meta / .changecounter / .consistent sentinels
// ============================================================================
//
// Package: internal/metaio
// File: metaio.go
// Purpose: spec.md §4.7 / §6 — write and read the three small
// per-generation sentinel objects: the WAL meta record written once
// before the first frame batch, the database change-counter sidecar
// written alongside a snapshot, and the consistent marker written at
// commit finalize.
//
// Design Goals (adapted from the teacher's snapshot manager):
//   1. Fast Recovery - reading these objects is the cheapest way to
//      learn a generation's state without downloading its WAL batches.
//   2. Data Safety - each object is a small, complete byte string; a
//      failed Put never leaves a partially-written object visible,
//      because object-store PUTs are whole-body operations.
//   3. Absent-means-zero - a missing `.consistent` means
//      last_consistent_frame=0 (spec.md §8 scenario 5: interrupted
//      commit), mirroring the teacher's Load()-returns-empty-state
//      behavior for a missing snapshot file.
// ============================================================================

package metaio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/chuliyu/litewal/internal/objectstore"
	"github.com/chuliyu/litewal/pkg/frame"
)

const (
	metaKey          = ".meta"
	changeCounterKey = ".changecounter"
	consistentKey    = ".consistent"
)

// ErrCorrupted indicates a sentinel object's byte length or contents
// didn't match its fixed layout.
var ErrCorrupted = errors.New("metaio: corrupted sentinel object")

// WriteMeta uploads the 12-byte ".meta" object for prefix (a
// generation's key prefix, e.g. "mydb-<generation>/").
func WriteMeta(ctx context.Context, store objectstore.Store, prefix string, rec frame.MetaRecord) error {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], rec.PageSize)
	binary.BigEndian.PutUint64(buf[4:12], rec.WALHeaderChecksum)
	return store.Put(ctx, prefix+metaKey, buf)
}

// ReadMeta downloads and decodes the ".meta" object. Returns
// (frame.MetaRecord{}, objectstore.ErrNotFound) if absent.
func ReadMeta(ctx context.Context, store objectstore.Store, prefix string) (frame.MetaRecord, error) {
	buf, err := readExact(ctx, store, prefix+metaKey, 12)
	if err != nil {
		return frame.MetaRecord{}, err
	}
	return frame.MetaRecord{
		PageSize:          binary.BigEndian.Uint32(buf[0:4]),
		WALHeaderChecksum: binary.BigEndian.Uint64(buf[4:12]),
	}, nil
}

// WriteChangeCounter uploads the 4-byte ".changecounter" sidecar,
// the raw bytes at offset 24 of the main database file's header.
func WriteChangeCounter(ctx context.Context, store objectstore.Store, prefix string, counter [4]byte) error {
	return store.Put(ctx, prefix+changeCounterKey, counter[:])
}

// ReadChangeCounter downloads the ".changecounter" sidecar.
func ReadChangeCounter(ctx context.Context, store objectstore.Store, prefix string) ([4]byte, error) {
	var out [4]byte
	buf, err := readExact(ctx, store, prefix+changeCounterKey, 4)
	if err != nil {
		return out, err
	}
	copy(out[:], buf)
	return out, nil
}

// WriteConsistent uploads the 16-byte ".consistent" marker at commit
// finalize (spec.md §4.4 finalize_commit).
func WriteConsistent(ctx context.Context, store objectstore.Store, prefix string, marker frame.ConsistentMarker) error {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[0:4], marker.PageSize)
	binary.BigEndian.PutUint32(buf[4:8], marker.LastFrame)
	binary.BigEndian.PutUint64(buf[8:16], marker.Checksum)
	return store.Put(ctx, prefix+consistentKey, buf)
}

// ReadConsistent downloads and decodes the ".consistent" marker. When
// absent it returns a zero-value marker and objectstore.ErrNotFound —
// callers implementing spec.md §8 scenario 5 should treat that as
// last_consistent_frame=0, not as a fatal error.
func ReadConsistent(ctx context.Context, store objectstore.Store, prefix string) (frame.ConsistentMarker, error) {
	buf, err := readExact(ctx, store, prefix+consistentKey, 16)
	if err != nil {
		return frame.ConsistentMarker{}, err
	}
	return frame.ConsistentMarker{
		PageSize:  binary.BigEndian.Uint32(buf[0:4]),
		LastFrame: binary.BigEndian.Uint32(buf[4:8]),
		Checksum:  binary.BigEndian.Uint64(buf[8:16]),
	}, nil
}

func readExact(ctx context.Context, store objectstore.Store, key string, size int) ([]byte, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	buf := make([]byte, size)
	if _, err := io.ReadFull(rc, buf); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupted, key, err)
	}
	return buf, nil
}

// IsSentinelKey reports whether key (relative to a generation prefix)
// names one of the non-batch objects the restore planner's listing
// must skip (spec.md §4.6 step 6).
func IsSentinelKey(suffix string) bool {
	switch suffix {
	case metaKey, changeCounterKey, consistentKey, "db.db", "db.gz":
		return true
	}
	return false
}
