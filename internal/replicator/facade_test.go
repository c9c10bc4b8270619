package replicator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chuliyu/litewal/internal/config"
	"github.com/chuliyu/litewal/internal/objectstore"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.MaxFramesPerBatch = 2
	cfg.MaxBatchInterval = 20 * time.Millisecond
	return cfg
}

// buildLiveWAL writes a minimal real WAL file to disk (reusing the
// wal package's own test builder via its public Open/Encode surface
// would require an exported helper; here we hand-assemble the same
// fixed-size frames the wal package tests use).
func buildLiveWAL(t *testing.T, path string, pageSize uint32, commits []bool) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	header := make([]byte, 32)
	putBE32(header[0:4], 0x377f0682)
	putBE32(header[8:12], pageSize)

	_, err = f.Write(header)
	require.NoError(t, err)

	for i, committed := range commits {
		frameHeader := make([]byte, 24)
		putBE32(frameHeader[0:4], uint32(i+1))
		if committed {
			putBE32(frameHeader[4:8], uint32(i+1))
		}
		_, err = f.Write(frameHeader)
		require.NoError(t, err)

		page := make([]byte, pageSize)
		page[0] = byte(i + 1)
		_, err = f.Write(page)
		require.NoError(t, err)
	}
}

func putBE32(buf []byte, v uint32) {
	buf[0] = byte(v >> 24)
	buf[1] = byte(v >> 16)
	buf[2] = byte(v >> 8)
	buf[3] = byte(v)
}

func TestFacade_SubmitFramesRequiresGeneration(t *testing.T) {
	dir := t.TempDir()
	store := objectstore.NewMemStore()
	f := New(testConfig(), store, "mydb", filepath.Join(dir, "mydb-wal"))

	require.ErrorIs(t, f.SubmitFrames(3), ErrNoGeneration)
}

func TestFacade_FlushUploadsAndPublishesCommit(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "mydb-wal")
	buildLiveWAL(t, walPath, 512, []bool{false, false, true})

	store := objectstore.NewMemStore()
	f := New(testConfig(), store, "mydb", walPath)
	f.SetPageSize(512)
	f.NewGeneration()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f.Start(ctx)
	defer f.Close()

	require.NoError(t, f.SubmitFrames(3))
	require.NoError(t, f.WaitUntilCommitted(ctx, 3))
}

func TestFacade_RollbackToFrameClampsPending(t *testing.T) {
	dir := t.TempDir()
	store := objectstore.NewMemStore()
	f := New(testConfig(), store, "mydb", filepath.Join(dir, "mydb-wal"))
	f.NewGeneration()

	require.NoError(t, f.SubmitFrames(10))
	f.RollbackToFrame(4)

	f.mu.Lock()
	next := f.nextFrameNo
	f.mu.Unlock()
	require.Equal(t, uint32(4), next)
}

func TestFacade_SubmitFramesAccumulatesAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	store := objectstore.NewMemStore()
	f := New(testConfig(), store, "mydb", filepath.Join(dir, "mydb-wal"))
	f.NewGeneration()

	// Two successive bursts of newly-written frames must add up, not
	// overwrite one another (spec.md §4.4: submit_frames atomically
	// adds n to next_frame_no).
	require.NoError(t, f.SubmitFrames(5))
	require.NoError(t, f.SubmitFrames(3))

	f.mu.Lock()
	next := f.nextFrameNo
	f.mu.Unlock()
	require.Equal(t, uint32(8), next)
}

func TestFacade_RegisterLastValidFrameAdoptsEngineView(t *testing.T) {
	dir := t.TempDir()
	store := objectstore.NewMemStore()
	f := New(testConfig(), store, "mydb", filepath.Join(dir, "mydb-wal"))
	f.NewGeneration()

	require.NoError(t, f.SubmitFrames(10))
	require.Equal(t, uint32(10), f.PeekLastValidFrame())

	// The engine reports a lower valid frame than the façade's own
	// watermark (e.g. an aborted transaction truncated the tail); the
	// façade must adopt it via reset_frames rather than ignore it.
	f.RegisterLastValidFrame(6)
	require.Equal(t, uint32(6), f.PeekLastValidFrame())

	f.mu.Lock()
	lastSent := f.lastSentFrameNo
	f.mu.Unlock()
	require.Equal(t, uint32(0), lastSent)
}
