package wal

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildWAL writes a synthetic WAL file to a temp path with the given
// page size and commit markers, returning the path and the CRC chain
// of each frame (1-indexed, chain[0] is the pre-frame-1 seed of 0).
func buildWAL(t *testing.T, pageSize int, commits []bool) (string, []uint64) {
	t.Helper()

	path := t.TempDir() + "/test.wal"
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	header := make([]byte, fileHeaderSize)
	binary.BigEndian.PutUint32(header[0:4], walMagicBigEndian)
	binary.BigEndian.PutUint32(header[4:8], 3007000)
	binary.BigEndian.PutUint32(header[8:12], uint32(pageSize))
	binary.BigEndian.PutUint32(header[12:16], 1)
	binary.BigEndian.PutUint32(header[16:20], 0x1111)
	binary.BigEndian.PutUint32(header[20:24], 0x2222)
	binary.BigEndian.PutUint32(header[24:28], 0xAAAA)
	binary.BigEndian.PutUint32(header[28:32], 0xBBBB)
	_, err = f.Write(header)
	require.NoError(t, err)

	chain := []uint64{0}
	prev := uint64(0)
	for i, committed := range commits {
		page := make([]byte, pageSize)
		for j := range page {
			page[j] = byte(i + j)
		}

		headerPrefix := make([]byte, 16)
		binary.BigEndian.PutUint32(headerPrefix[0:4], uint32(i+1))
		var commitSize uint32
		if committed {
			commitSize = uint32(i + 1)
		}
		binary.BigEndian.PutUint32(headerPrefix[4:8], commitSize)
		binary.BigEndian.PutUint32(headerPrefix[8:12], 0x1111)
		binary.BigEndian.PutUint32(headerPrefix[12:16], 0x2222)

		crc := crcChain(prev, headerPrefix, page, pageSize, true)
		prev = crc
		chain = append(chain, crc)

		frameHdr := make([]byte, frameHeaderSize)
		copy(frameHdr, headerPrefix)
		binary.BigEndian.PutUint32(frameHdr[16:20], uint32(crc>>32))
		binary.BigEndian.PutUint32(frameHdr[20:24], uint32(crc))

		_, err = f.Write(frameHdr)
		require.NoError(t, err)
		_, err = f.Write(page)
		require.NoError(t, err)
	}

	return path, chain
}
