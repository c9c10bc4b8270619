// ============================================================================
// litewal Replicator - Restore Planner
// ============================================================================
//
// Package: internal/replicator
// File: restore.go
// Purpose: spec.md §4.6 — resolve a target generation (explicit,
// point-in-time, or latest), decide whether the local database can
// reuse it in place or needs a snapshot-plus-WAL-replay restore, and
// perform that restore.
// ============================================================================

package replicator

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chuliyu/litewal/internal/generation"
	"github.com/chuliyu/litewal/internal/metaio"
	"github.com/chuliyu/litewal/internal/objectstore"
	"github.com/chuliyu/litewal/internal/wal"
	"github.com/chuliyu/litewal/pkg/frame"
)

// ErrNoGenerationFound is returned when no generation exists in the
// object store at all (a brand-new database replicating for the first
// time).
var ErrNoGenerationFound = errors.New("replicator: no generation found in object store")

// Options parameterizes a Restore call.
type Options struct {
	DBName string // bucket-relative database name, db_id composed in
	DBPath string // local main database file path
	WALPath string

	// Generation pins the restore to an explicit generation id. Leave
	// zero to resolve one of the other two ways.
	Generation generation.ID

	// PointInTime, if non-zero, resolves the newest generation created
	// at or before this instant (spec.md §4.6 step 1). Ignored when
	// Generation is set.
	PointInTime time.Time

	// VerifyCRC controls whether replayed WAL batches have their CRC
	// chain checked (spec.md §6 verify_crc, default true).
	VerifyCRC bool
}

// Result reports what the restore planner decided and did.
type Result struct {
	Generation           generation.ID
	Action                frame.RestoreAction
	LastConsistentFrame  uint32

	// NextFrameNo is the frame number a resumed replicator should set
	// its next_frame_no watermark to (spec.md §4.6 step 3: reset
	// next_frame_no to the local WAL's frame count on ReuseGeneration
	// and when the local state is kept because it is ahead of the remote;
	// equal to LastConsistentFrame after a snapshot-plus-replay restore).
	NextFrameNo uint32
}

// Restore resolves the target generation and brings the local
// database file up to its last consistent frame, downloading a
// snapshot and replaying WAL batches only when the remote state is
// ahead of the local one. When no generation exists it returns
// ActionSnapshotMainDbFile without touching the local file.
func Restore(ctx context.Context, store objectstore.Store, opts Options) (Result, error) {
	gen, err := resolveGeneration(ctx, store, opts)
	if errors.Is(err, ErrNoGenerationFound) {
		return Result{Action: frame.ActionSnapshotMainDbFile}, nil
	}
	if err != nil {
		return Result{}, err
	}
	prefix := generation.Prefix(opts.DBName, gen)

	consistent, err := metaio.ReadConsistent(ctx, store, prefix)
	if err != nil && !errors.Is(err, objectstore.ErrNotFound) {
		return Result{}, fmt.Errorf("restore: read consistent marker: %w", err)
	}
	// Absent ".consistent" means last_consistent_frame=0 (spec.md §8
	// scenario 5: interrupted commit before any frame was finalized).

	remoteCounter, err := metaio.ReadChangeCounter(ctx, store, prefix)
	remoteCounterExists := err == nil
	if err != nil && !errors.Is(err, objectstore.ErrNotFound) {
		return Result{}, fmt.Errorf("restore: read change counter: %w", err)
	}

	localCounter, localExists, err := readLocalChangeCounter(opts.DBPath)
	if err != nil {
		return Result{}, fmt.Errorf("restore: read local change counter: %w", err)
	}

	localFrames, err := localWALFrameCount(opts.WALPath)
	if err != nil {
		return Result{}, fmt.Errorf("restore: inspect local wal: %w", err)
	}

	canReuse := localExists && remoteCounterExists &&
		localCounter == remoteCounter &&
		localFrames == consistent.LastFrame

	if canReuse {
		log.Info("replicator: reusing local generation", "generation", gen, "last_consistent_frame", consistent.LastFrame)
		return Result{Generation: gen, Action: frame.ActionReuseGeneration, LastConsistentFrame: consistent.LastFrame, NextFrameNo: localFrames}, nil
	}

	// Change counters are a heuristic (WAL-mode writes need not bump
	// them); a local state ahead of the remote is kept, not overwritten.
	if localExists && remoteCounterExists {
		local, remote := binary.BigEndian.Uint32(localCounter[:]), binary.BigEndian.Uint32(remoteCounter[:])
		if local > remote || (local == remote && localFrames > consistent.LastFrame) {
			return Result{Generation: gen, Action: frame.ActionSnapshotMainDbFile, LastConsistentFrame: consistent.LastFrame, NextFrameNo: localFrames}, nil
		}
	}

	if err := downloadAndApply(ctx, store, prefix, opts, consistent); err != nil {
		return Result{}, err
	}

	log.Info("replicator: restored from snapshot and wal replay", "generation", gen, "last_consistent_frame", consistent.LastFrame)
	return Result{Generation: gen, Action: frame.ActionSnapshotMainDbFile, LastConsistentFrame: consistent.LastFrame, NextFrameNo: consistent.LastFrame}, nil
}

// resolveGeneration implements spec.md §4.6 step 1's three resolution
// modes.
func resolveGeneration(ctx context.Context, store objectstore.Store, opts Options) (generation.ID, error) {
	if opts.Generation != "" {
		return opts.Generation, nil
	}
	if !opts.PointInTime.IsZero() {
		return resolveGenerationAt(ctx, store, opts.DBName, opts.PointInTime)
	}
	return latestGeneration(ctx, store, opts.DBName)
}

// LatestGeneration exposes the newest-generation lookup to callers
// outside this package (the CLI's replicate command, to resume an
// existing generation instead of minting a new one on every restart).
func LatestGeneration(ctx context.Context, store objectstore.Store, dbName string) (generation.ID, error) {
	return latestGeneration(ctx, store, dbName)
}

// latestGeneration relies on the generation clock's defining property
// (spec.md §4.3, §9): lexically ascending key order is descending
// chronological order, so the first key under the database's prefix
// names the newest generation.
func latestGeneration(ctx context.Context, store objectstore.Store, dbName string) (generation.ID, error) {
	page, err := store.List(ctx, dbName+"-", "", 1)
	if err != nil {
		return "", fmt.Errorf("restore: list generations: %w", err)
	}
	if len(page.Objects) == 0 {
		return "", ErrNoGenerationFound
	}
	return generationFromKey(dbName, page.Objects[0].Key)
}

// resolveGenerationAt pages through every generation's keys and
// returns the newest one created at or before target. Since keys sort
// newest-first, this is the first generation encountered whose
// embedded timestamp is <= target.
func resolveGenerationAt(ctx context.Context, store objectstore.Store, dbName string, target time.Time) (generation.ID, error) {
	marker := ""
	seen := make(map[generation.ID]bool)
	for {
		page, err := store.List(ctx, dbName+"-", marker, 256)
		if err != nil {
			return "", fmt.Errorf("restore: list generations: %w", err)
		}
		for _, obj := range page.Objects {
			gen, err := generationFromKey(dbName, obj.Key)
			if err != nil {
				continue
			}
			if seen[gen] {
				continue
			}
			seen[gen] = true

			ts, err := gen.Timestamp()
			if err != nil {
				continue
			}
			if !ts.After(target) {
				return gen, nil
			}
		}
		if !page.IsTruncated {
			break
		}
		marker = page.NextMarker
	}
	return "", ErrNoGenerationFound
}

func generationFromKey(dbName, key string) (generation.ID, error) {
	rest := strings.TrimPrefix(key, dbName+"-")
	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return "", fmt.Errorf("restore: malformed generation key %q", key)
	}
	return generation.ID(rest[:idx]), nil
}

func localWALFrameCount(path string) (uint32, error) {
	r, err := wal.Open(path)
	if err != nil {
		return 0, err
	}
	if r == nil {
		return 0, nil
	}
	defer r.Close()
	return r.FrameCount(), nil
}

// downloadAndApply replaces the local database file with the
// generation's snapshot, then replays WAL batches up to
// consistent.LastFrame, accumulating pages by page number and
// flushing them to disk only when a commit frame closes a transaction
// (spec.md §4.6 step 6 / §9's named accumulation shape).
func downloadAndApply(ctx context.Context, store objectstore.Store, prefix string, opts Options, consistent frame.ConsistentMarker) error {
	meta, err := metaio.ReadMeta(ctx, store, prefix)
	if err != nil {
		return fmt.Errorf("restore: read meta: %w", err)
	}

	if err := backupExisting(opts.DBPath); err != nil {
		return fmt.Errorf("restore: back up existing db file: %w", err)
	}

	body, err := downloadSnapshot(ctx, store, prefix)
	if err != nil {
		return fmt.Errorf("restore: download snapshot: %w", err)
	}
	if err := os.WriteFile(opts.DBPath, body, 0o644); err != nil {
		return fmt.Errorf("restore: write db file: %w", err)
	}

	f, err := os.OpenFile(opts.DBPath, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("restore: reopen db file: %w", err)
	}
	defer f.Close()

	return replayBatches(ctx, store, prefix, meta, consistent, f, opts.VerifyCRC)
}

func backupExisting(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.Rename(path, path+".bak")
}

func downloadSnapshot(ctx context.Context, store objectstore.Store, prefix string) ([]byte, error) {
	if rc, err := store.Get(ctx, prefix+"db.gz"); err == nil {
		defer rc.Close()
		body, err := io.ReadAll(rc)
		if err != nil {
			return nil, err
		}
		return gunzipBytes(body)
	}

	rc, err := store.Get(ctx, prefix+"db.db")
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// pageAccumulator buffers pages keyed by page number until a commit
// frame says it is safe to flush them to the target file.
type pageAccumulator struct {
	pages    map[uint32][]byte
	pageSize uint32
	dst      io.WriterAt
}

func (a *pageAccumulator) add(pgno uint32, page []byte) {
	if a.pages == nil {
		a.pages = make(map[uint32][]byte)
	}
	cp := make([]byte, len(page))
	copy(cp, page)
	a.pages[pgno] = cp
}

func (a *pageAccumulator) flush() error {
	for pgno, page := range a.pages {
		offset := int64(pgno-1) * int64(a.pageSize)
		if _, err := a.dst.WriteAt(page, offset); err != nil {
			return fmt.Errorf("restore: write page %d: %w", pgno, err)
		}
	}
	a.pages = make(map[uint32][]byte)
	return nil
}

// replayBatches lists and decodes every batch object under prefix in
// ascending frame order, stopping once consistent.LastFrame has been
// applied.
func replayBatches(ctx context.Context, store objectstore.Store, prefix string, meta frame.MetaRecord, consistent frame.ConsistentMarker, dst io.WriterAt, verifyCRC bool) error {
	if consistent.LastFrame == 0 {
		return nil
	}

	acc := &pageAccumulator{pageSize: meta.PageSize, dst: dst}

	marker := ""
	var prevCRC uint64
	applied := uint32(0)

	for applied < consistent.LastFrame {
		page, err := store.List(ctx, prefix, marker, 256)
		if err != nil {
			return fmt.Errorf("restore: list batches: %w", err)
		}
		if len(page.Objects) == 0 {
			break
		}

		for _, obj := range page.Objects {
			suffix := strings.TrimPrefix(obj.Key, prefix)
			if metaio.IsSentinelKey(suffix) {
				continue
			}

			body, err := getObject(ctx, store, obj.Key)
			if err != nil {
				return fmt.Errorf("restore: download batch %s: %w", obj.Key, err)
			}

			startFrame := applied + 1
			dec, err := wal.NewDecoder(body, startFrame, meta.PageSize, true, looksGzip(body), verifyCRC, prevCRC)
			if err != nil {
				return fmt.Errorf("restore: decode batch %s: %w", obj.Key, err)
			}

			for applied < consistent.LastFrame {
				f, err := dec.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					dec.Close()
					return fmt.Errorf("restore: replay batch %s: %w", obj.Key, err)
				}

				acc.add(f.Header.Pgno, f.Page)
				prevCRC = f.Header.CRC()
				applied = f.FrameNo

				if f.Header.IsCommitted() {
					if err := acc.flush(); err != nil {
						dec.Close()
						return err
					}
				}
			}
			dec.Close()
		}

		if !page.IsTruncated {
			break
		}
		marker = page.NextMarker
	}

	return nil
}

func getObject(ctx context.Context, store objectstore.Store, key string) ([]byte, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// looksGzip sniffs the gzip magic number so replay can decode batches
// uploaded under either compression setting without needing it
// recorded out of band.
func looksGzip(body []byte) bool {
	return len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b
}
