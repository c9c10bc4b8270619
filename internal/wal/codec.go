// ============================================================================
// litewal Batch Codec - pack/unpack a contiguous frame range
// ============================================================================
//
// Package: internal/wal
// File: codec.go
// Purpose: spec.md §4.2 — encode a half-open frame range [start,end)
// into a single upload body (optionally gzip-compressed), and decode
// it back into successive (header, page) pairs, verifying the CRC
// chain when a previous checksum is supplied.
// ============================================================================

package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/chuliyu/litewal/pkg/frame"
	"github.com/klauspost/compress/gzip"
)

// Encode seeks the reader to range.Start, copies range.Len() frames,
// and optionally gzip-wraps the result.
func Encode(r *Reader, rng frame.Range, compress bool) ([]byte, error) {
	if err := r.SeekFrame(rng.Start); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	var dst io.Writer = &buf
	var gw *gzip.Writer
	if compress {
		gw = gzip.NewWriter(&buf)
		dst = gw
	}

	if err := r.CopyFrames(dst, rng.Len()); err != nil {
		return nil, err
	}
	if gw != nil {
		if err := gw.Close(); err != nil {
			return nil, fmt.Errorf("wal: gzip close: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// DecodedFrame is one frame yielded by a Decoder.
type DecodedFrame struct {
	FrameNo uint32
	Header  FrameHeader
	Page    []byte
}

// Decoder yields successive (header, page) pairs from a batch body
// produced by Encode, verifying the CRC chain against expectedPrevCRC
// when verify is true.
type Decoder struct {
	src        io.Reader
	gzr        *gzip.Reader
	startFrame uint32
	pageSize   uint32
	bigEndian  bool
	verify     bool
	prevCRC    uint64
	next       uint32
}

// NewDecoder wraps body (as produced by Encode) for sequential
// decoding starting at startFrame. expectedPrevCRC is the checksum of
// the frame immediately before startFrame (zero if startFrame==1);
// pass verify=false to skip the CRC chain check entirely (spec.md §6
// verify_crc option).
func NewDecoder(body []byte, startFrame uint32, pageSize uint32, bigEndian bool, compressed bool, verify bool, expectedPrevCRC uint64) (*Decoder, error) {
	d := &Decoder{
		startFrame: startFrame,
		pageSize:   pageSize,
		bigEndian:  bigEndian,
		verify:     verify,
		prevCRC:    expectedPrevCRC,
		next:       startFrame,
	}

	r := io.Reader(bytes.NewReader(body))
	if compressed {
		gzr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", ErrWalMalformed, err)
		}
		d.gzr = gzr
		r = gzr
	}
	d.src = r
	return d, nil
}

// Close releases any gzip reader held by the decoder.
func (d *Decoder) Close() error {
	if d.gzr != nil {
		return d.gzr.Close()
	}
	return nil
}

// Next decodes the next frame, or returns io.EOF once the body is
// exhausted.
func (d *Decoder) Next() (DecodedFrame, error) {
	headerBuf := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(d.src, headerBuf); err != nil {
		if err == io.ErrUnexpectedEOF {
			return DecodedFrame{}, fmt.Errorf("%w: truncated frame header", ErrWalMalformed)
		}
		return DecodedFrame{}, err
	}

	get := binary.BigEndian.Uint32
	header := FrameHeader{
		Pgno:       get(headerBuf[0:4]),
		CommitSize: get(headerBuf[4:8]),
		Salt1:      get(headerBuf[8:12]),
		Salt2:      get(headerBuf[12:16]),
		Checksum1:  get(headerBuf[16:20]),
		Checksum2:  get(headerBuf[20:24]),
	}

	page := make([]byte, d.pageSize)
	if _, err := io.ReadFull(d.src, page); err != nil {
		return DecodedFrame{}, fmt.Errorf("%w: truncated page body", ErrWalMalformed)
	}

	frameNo := d.next
	if d.verify {
		if err := verifyChain(frameNo, d.prevCRC, header, headerBuf[:16], page, int(d.pageSize), d.bigEndian); err != nil {
			return DecodedFrame{}, err
		}
	}
	d.prevCRC = header.CRC()
	d.next++

	return DecodedFrame{FrameNo: frameNo, Header: header, Page: page}, nil
}
