package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrNotFound is returned when no blob is stored under a key.
	ErrNotFound = errors.New("blob not found")

	// ErrSinkClosed is returned when writing to a sink that was already
	// published or aborted.
	ErrSinkClosed = errors.New("sink already closed")
)

// Sink receives the bytes of a single blob. Nothing written is visible to
// readers until Close returns nil; Abort discards everything.
type Sink interface {
	io.Writer
	// Close publishes the blob atomically.
	Close() error
	// Abort discards the written bytes. Calling Abort after Close is a no-op.
	Abort() error
}

// Storage is the byte-source/byte-sink abstraction the data store is built
// on. Implementations must allow concurrent writers for distinct keys and
// concurrent readers of published keys.
type Storage interface {
	// Put opens a sink for key. The context is also used when the sink publishes.
	Put(ctx context.Context, key string) (Sink, error)
	// Get opens a published blob, returning ErrNotFound when absent.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Remove deletes a blob. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Clear deletes every blob held by the backend.
	Clear(ctx context.Context) error
	Close() error
}

// validateKey rejects keys that could escape a namespace on path-based backends.
func validateKey(key string) error {
	if key == "" {
		return errors.New("storage key is required")
	}
	if strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return fmt.Errorf("invalid storage key %q", key)
	}
	return nil
}
