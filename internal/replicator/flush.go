// ============================================================================
// litewal Replicator - Flush Pipeline
// ============================================================================
//
// Package: internal/replicator
// File: flush.go
// Purpose: spec.md §4.5 — the single background task that turns
// "frames exist locally" into "frames exist in the object store":
// wakes on a trigger edge or a ticker, computes the pending range,
// uploads it in sub-range batches in ascending order, and publishes
// the new commit watermark.
//
// Grounded on the shape of the teacher's batch_writer.go flush loop
// (trigger-edge + ticker + stop-channel select over one goroutine),
// generalized from an event buffer to a WAL frame range.
// ============================================================================

package replicator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chuliyu/litewal/internal/generation"
	"github.com/chuliyu/litewal/internal/metaio"
	"github.com/chuliyu/litewal/internal/wal"
	"github.com/chuliyu/litewal/pkg/frame"
)

func (f *Facade) runFlushLoop(ctx context.Context) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.cfg.MaxBatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			if err := f.doFlush(ctx); err != nil {
				log.Error("replicator: final drain flush failed", "db", f.dbName, "error", err)
				f.committed.publish(0, err)
			}
			return
		case <-f.flushTrigger:
			if err := f.doFlush(ctx); err != nil {
				log.Error("replicator: flush failed", "db", f.dbName, "error", err)
				f.committed.publish(0, err)
			}
		case <-ticker.C:
			if err := f.doFlush(ctx); err != nil {
				log.Error("replicator: flush failed", "db", f.dbName, "error", err)
				f.committed.publish(0, err)
			}
		}
	}
}

// doFlush uploads every frame in the pending range, one sub-range
// batch at a time, in ascending frame-number order (spec.md §4.5
// ordering guarantee). It reopens the WAL reader on every invocation:
// the file may have grown (or been replaced by a checkpoint + new
// generation) since the previous flush.
func (f *Facade) doFlush(ctx context.Context) error {
	f.mu.Lock()
	gen, ok := f.generation, f.hasGeneration
	pending := f.pendingRangeLocked()
	commits := f.commitsInGeneration
	m := f.metrics
	f.mu.Unlock()

	if !ok || pending.Empty() {
		return nil
	}

	r, err := wal.Open(f.walPath)
	if err != nil {
		return fmt.Errorf("flush: open wal: %w", err)
	}
	if r == nil {
		// WAL checkpointed out from under us between SubmitFrames and
		// this flush; nothing to upload this round.
		return nil
	}
	defer r.Close()

	if r.FrameCount() < pending.End-1 {
		pending.End = r.FrameCount() + 1
	}
	if pending.Empty() {
		return nil
	}

	prefix := generation.Prefix(f.dbName, gen)
	if pending.Start == 1 {
		meta := frame.MetaRecord{PageSize: r.PageSize(), WALHeaderChecksum: r.Checksum()}
		if err := metaio.WriteMeta(ctx, f.store, prefix, meta); err != nil {
			return fmt.Errorf("flush: write meta: %w", err)
		}
	}

	batchSize := f.cfg.MaxFramesPerBatch
	if batchSize == 0 {
		batchSize = 64
	}

	lastUploaded := pending.Start - 1
	var lastCommittedInRound uint32

	for start := pending.Start; start < pending.End; start += batchSize {
		end := start + batchSize
		if end > pending.End {
			end = pending.End
		}
		sub := frame.Range{Start: start, End: end}

		uploadStart := time.Now()
		committedInBatch, err := f.uploadBatch(ctx, r, prefix, sub)
		if err != nil {
			return fmt.Errorf("flush: upload batch %s: %w", sub, err)
		}
		if m != nil {
			m.RecordBatchUpload(int(sub.Len()), time.Since(uploadStart).Seconds())
		}
		lastUploaded = end - 1
		if committedInBatch > 0 {
			lastCommittedInRound = committedInBatch
			commits++
		}
	}

	f.mu.Lock()
	f.lastSentFrameNo = lastUploaded
	f.commitsInGeneration = commits
	f.mu.Unlock()

	if lastCommittedInRound > 0 {
		f.committed.publish(lastCommittedInRound, nil)
	}
	return nil
}

// uploadBatch encodes and uploads one sub-range, returning the frame
// number of the last committed frame it contains (0 if none).
func (f *Facade) uploadBatch(ctx context.Context, r *wal.Reader, prefix string, sub frame.Range) (uint32, error) {
	body, err := wal.Encode(r, sub, f.cfg.UseCompression)
	if err != nil {
		return 0, err
	}

	key := prefix + sub.String()
	if err := f.store.Put(ctx, key, body); err != nil {
		return 0, err
	}

	lastCommitted, err := lastCommittedFrameIn(r, sub)
	if err != nil {
		return 0, err
	}
	return lastCommitted, nil
}

// lastCommittedFrameIn scans sub's frame headers (already read once by
// Encode's CopyFrames, so this re-seeks — cheap relative to the
// network round trip the upload just paid) to find the highest
// committed frame in range, needed to know what to publish as durable.
func lastCommittedFrameIn(r *wal.Reader, sub frame.Range) (uint32, error) {
	var last uint32
	for n := sub.Start; n < sub.End; n++ {
		if err := r.SeekFrame(n); err != nil {
			if errors.Is(err, wal.ErrFrameOutOfRange) {
				break
			}
			return 0, err
		}
		h, err := r.ReadFrameHeader()
		if err != nil {
			return 0, err
		}
		if h.IsCommitted() {
			last = n
		}
	}
	return last, nil
}
