// Package objectstore defines the opaque capability the replicator
// core consumes (spec.md §6) and a concrete implementation against
// any S3-compatible endpoint. The core never imports the AWS SDK
// directly; it only depends on the Store interface below, so a test
// double can stand in without touching the network.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get and HeadBucket when the key or
// bucket does not exist.
var ErrNotFound = errors.New("objectstore: not found")

// Object is a single listed key.
type Object struct {
	Key string
}

// ListPage is one page of a List call.
type ListPage struct {
	Objects     []Object
	IsTruncated bool
	NextMarker  string
}

// Store is the ObjectStore capability spec.md §6 names: put, get,
// list, head_bucket, create_bucket. Implementations must be safe for
// concurrent use by multiple goroutines (spec.md §5 "Shared resources").
type Store interface {
	Put(ctx context.Context, key string, body []byte) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix, marker string, maxKeys int) (ListPage, error)
	HeadBucket(ctx context.Context) error
	CreateBucket(ctx context.Context) error
}

// PutReader is a convenience wrapper for callers holding an
// io.Reader instead of a []byte (e.g. a gzip pipe).
func PutReader(ctx context.Context, s Store, key string, r io.Reader) error {
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(r); err != nil {
		return err
	}
	return s.Put(ctx, key, buf.Bytes())
}
