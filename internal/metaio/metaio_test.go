package metaio

import (
	"context"
	"testing"

	"github.com/chuliyu/litewal/internal/objectstore"
	"github.com/chuliyu/litewal/pkg/frame"
	"github.com/stretchr/testify/require"
)

func TestMetaRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemStore()

	in := frame.MetaRecord{PageSize: 4096, WALHeaderChecksum: 0xDEADBEEFCAFEBABE}
	require.NoError(t, WriteMeta(ctx, store, "db-gen1/", in))

	out, err := ReadMeta(ctx, store, "db-gen1/")
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestConsistentMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemStore()

	_, err := ReadConsistent(ctx, store, "db-gen1/")
	require.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestConsistentRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemStore()

	in := frame.ConsistentMarker{PageSize: 4096, LastFrame: 64, Checksum: 0x1234}
	require.NoError(t, WriteConsistent(ctx, store, "db-gen1/", in))

	out, err := ReadConsistent(ctx, store, "db-gen1/")
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestIsSentinelKey(t *testing.T) {
	require.True(t, IsSentinelKey(".meta"))
	require.True(t, IsSentinelKey("db.db"))
	require.False(t, IsSentinelKey("000000000001"))
}
