// ============================================================================
// litewal Replicator - main database file helpers
// ============================================================================
//
// Package: internal/replicator
// File: dbfile.go
// Purpose: read the SQLite main database file's header change counter
// (offset 24, big-endian uint32 — a field SQLite bumps when it changes
// the main file; in WAL mode it is not necessarily bumped on every
// transaction) and gzip-wrap/unwrap snapshot bodies.
// ============================================================================

package replicator

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

const dbHeaderChangeCounterOffset = 24

// readMainDbFile reads the whole database file and extracts its
// change-counter header field.
func readMainDbFile(path string) ([]byte, [4]byte, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, [4]byte{}, err
	}
	var counter [4]byte
	if len(body) >= dbHeaderChangeCounterOffset+4 {
		copy(counter[:], body[dbHeaderChangeCounterOffset:dbHeaderChangeCounterOffset+4])
	}
	return body, counter, nil
}

// readLocalChangeCounter reads just the change counter, without
// loading the whole file, returning (counter, exists).
func readLocalChangeCounter(path string) ([4]byte, bool, error) {
	var counter [4]byte
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return counter, false, nil
		}
		return counter, false, err
	}
	defer f.Close()

	buf := make([]byte, 4)
	if _, err := f.ReadAt(buf, dbHeaderChangeCounterOffset); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return counter, true, nil
		}
		return counter, false, err
	}
	copy(counter[:], buf)
	return counter, true, nil
}

func gzipBytes(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(body); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(body []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("replicator: gzip: %w", err)
	}
	defer gr.Close()
	return io.ReadAll(gr)
}
