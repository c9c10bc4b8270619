package replicator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/chuliyu/litewal/internal/generation"
	"github.com/chuliyu/litewal/internal/metaio"
	"github.com/chuliyu/litewal/internal/objectstore"
	"github.com/chuliyu/litewal/pkg/frame"
	"github.com/stretchr/testify/require"
)

func TestRestore_NoGenerationFound(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemStore()

	res, err := Restore(ctx, store, Options{DBName: "mydb", DBPath: t.TempDir() + "/db.sqlite", WALPath: "/nonexistent"})
	require.NoError(t, err)
	require.Equal(t, frame.ActionSnapshotMainDbFile, res.Action)
}

func TestRestore_ReusesWhenCountersMatchAndLocalWALEqualsConsistent(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemStore()

	gen := generation.New()
	prefix := generation.Prefix("mydb", gen)
	require.NoError(t, metaio.WriteChangeCounter(ctx, store, prefix, [4]byte{0, 0, 0, 5}))
	require.NoError(t, metaio.WriteConsistent(ctx, store, prefix, frame.ConsistentMarker{PageSize: 512, LastFrame: 2}))
	require.NoError(t, metaio.WriteMeta(ctx, store, prefix, frame.MetaRecord{PageSize: 512}))

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "db.sqlite")
	dbFile := make([]byte, 32)
	dbFile[24], dbFile[25], dbFile[26], dbFile[27] = 0, 0, 0, 5
	require.NoError(t, os.WriteFile(dbPath, dbFile, 0o644))

	walPath := filepath.Join(dir, "db.sqlite-wal")
	buildLiveWAL(t, walPath, 512, []bool{false, true})

	res, err := Restore(ctx, store, Options{DBName: "mydb", DBPath: dbPath, WALPath: walPath, Generation: gen})
	require.NoError(t, err)
	require.Equal(t, frame.ActionReuseGeneration, res.Action)
}

func TestRestore_SnapshotsWhenLocalWALAheadOfConsistent(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemStore()

	gen := generation.New()
	prefix := generation.Prefix("mydb", gen)
	require.NoError(t, metaio.WriteChangeCounter(ctx, store, prefix, [4]byte{0, 0, 0, 5}))
	require.NoError(t, metaio.WriteConsistent(ctx, store, prefix, frame.ConsistentMarker{PageSize: 512, LastFrame: 2}))
	require.NoError(t, metaio.WriteMeta(ctx, store, prefix, frame.MetaRecord{PageSize: 512}))
	require.NoError(t, store.Put(ctx, prefix+"db.db", make([]byte, 1024)))

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "db.sqlite")
	dbFile := make([]byte, 32)
	dbFile[24], dbFile[25], dbFile[26], dbFile[27] = 0, 0, 0, 5
	require.NoError(t, os.WriteFile(dbPath, dbFile, 0o644))

	// Local WAL has 3 frames, one more than the remote's last consistent
	// frame (2): the local replica is ahead of the durable boundary, so
	// it is neither reused nor overwritten; the planner asks for a fresh
	// snapshot of the local file instead (spec.md §4.6 step 3, "equal,
	// greater -> SnapshotMainDbFile").
	walPath := filepath.Join(dir, "db.sqlite-wal")
	buildLiveWAL(t, walPath, 512, []bool{false, false, true})

	res, err := Restore(ctx, store, Options{DBName: "mydb", DBPath: dbPath, WALPath: walPath, Generation: gen})
	require.NoError(t, err)
	require.Equal(t, frame.ActionSnapshotMainDbFile, res.Action)
}

func TestRestore_DownloadsSnapshotWhenCountersDiffer(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemStore()

	gen := generation.New()
	prefix := generation.Prefix("mydb", gen)
	require.NoError(t, metaio.WriteChangeCounter(ctx, store, prefix, [4]byte{0, 0, 0, 9}))
	require.NoError(t, metaio.WriteMeta(ctx, store, prefix, frame.MetaRecord{PageSize: 512}))
	require.NoError(t, metaio.WriteConsistent(ctx, store, prefix, frame.ConsistentMarker{PageSize: 512, LastFrame: 0}))

	snapshot := make([]byte, 1024)
	require.NoError(t, store.Put(ctx, prefix+"db.db", snapshot))

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "db.sqlite")
	require.NoError(t, os.WriteFile(dbPath, make([]byte, 32), 0o644))

	res, err := Restore(ctx, store, Options{DBName: "mydb", DBPath: dbPath, WALPath: filepath.Join(dir, "missing-wal"), Generation: gen})
	require.NoError(t, err)
	require.Equal(t, frame.ActionSnapshotMainDbFile, res.Action)

	restored, err := os.ReadFile(dbPath)
	require.NoError(t, err)
	require.Len(t, restored, 1024)

	_, err = os.Stat(dbPath + ".bak")
	require.NoError(t, err)
}

func TestGenerationFromKey(t *testing.T) {
	gen := generation.New()
	key := generation.Prefix("mydb", gen) + "000000000001"

	got, err := generationFromKey("mydb", key)
	require.NoError(t, err)
	require.Equal(t, gen, got)
}
