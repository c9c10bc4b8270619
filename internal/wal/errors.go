package wal

// ============================================================================
// WAL Error Definitions
// Purpose: Define all WAL-related error types
// ============================================================================

import (
	"errors"
	"fmt"
)

// Predefined errors, one per disposition in spec.md §7's error table.
var (
	// ErrWalMalformed indicates the file header or a frame header
	// could not be decoded (bad magic, truncated record).
	ErrWalMalformed = errors.New("wal: malformed")

	// ErrCrcMismatch indicates the frame CRC chain broke during a
	// verified read (spec.md §3 "CRC of frame k is computable from...").
	ErrCrcMismatch = errors.New("wal: crc mismatch")

	// ErrFrameOutOfRange indicates a seek past the end of the WAL.
	ErrFrameOutOfRange = errors.New("wal: frame number out of range")

	// ErrWalClosed indicates the reader is closed and unusable.
	ErrWalClosed = errors.New("wal: already closed")
)

// ChecksumError carries the detail spec.md §7's CrcMismatch
// disposition needs to report exactly where the chain broke.
type ChecksumError struct {
	FrameNo  uint32
	Expected uint64
	Actual   uint64
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("wal: checksum mismatch at frame %d (expected=%#016x, got=%#016x)",
		e.FrameNo, e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error {
	return ErrCrcMismatch
}

// CorruptionError reports a structurally invalid header at a known
// byte offset, wrapping whatever low-level decode error triggered it.
type CorruptionError struct {
	Offset int64
	Cause  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("wal: corrupt record at offset %d: %v", e.Offset, e.Cause)
}

func (e *CorruptionError) Unwrap() error {
	return e.Cause
}
