package wal

import (
	"io"
	"testing"

	"github.com/chuliyu/litewal/pkg/frame"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		path, chain := buildWAL(t, 512, []bool{false, false, true})
		r, err := Open(path)
		require.NoError(t, err)
		defer r.Close()

		body, err := Encode(r, frame.Range{Start: 1, End: 4}, compress)
		require.NoError(t, err)

		dec, err := NewDecoder(body, 1, 512, true, compress, true, chain[0])
		require.NoError(t, err)
		defer dec.Close()

		var got []DecodedFrame
		for {
			f, err := dec.Next()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			got = append(got, f)
		}

		require.Len(t, got, 3)
		require.True(t, got[2].Header.IsCommitted())
		require.Equal(t, chain[3], got[2].Header.CRC())
	}
}

func TestDecode_CrcMismatchStopsAtOffendingFrame(t *testing.T) {
	path, chain := buildWAL(t, 512, []bool{false, false, true})
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	body, err := Encode(r, frame.Range{Start: 1, End: 4}, false)
	require.NoError(t, err)

	// Corrupt one byte inside frame 2's page payload.
	offset := frameHeaderSize + (frameHeaderSize + 512) + 10
	body[offset] ^= 0xFF

	dec, err := NewDecoder(body, 1, 512, true, false, true, chain[0])
	require.NoError(t, err)

	_, err = dec.Next()
	require.NoError(t, err) // frame 1 unaffected

	_, err = dec.Next()
	var checksumErr *ChecksumError
	require.ErrorAs(t, err, &checksumErr)
	require.Equal(t, uint32(2), checksumErr.FrameNo)
}

func TestEncode_SeekPastEndFails(t *testing.T) {
	path, _ := buildWAL(t, 512, []bool{true})
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = Encode(r, frame.Range{Start: 5, End: 6}, false)
	require.ErrorIs(t, err, ErrFrameOutOfRange)
}
