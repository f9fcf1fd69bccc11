package datastore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/seantiz/depotjobs/internal/model"
	"github.com/seantiz/depotjobs/internal/storage"
)

// ErrClosed is returned when using a writer after Close or Abort.
var ErrClosed = errors.New("data writer closed")

// Writer streams bytes into a new blob. Close publishes; any write error
// turns Close into an abort so partial data is never published.
type Writer struct {
	ctx       context.Context
	store     *Store
	sink      storage.Sink
	onPublish func(model.JobData) error

	mu     sync.Mutex
	data   model.JobData
	err    error
	closed bool
}

// Data returns the blob's metadata. The GUID is valid immediately; Size
// and CreatedAt are final after Close.
func (w *Writer) Data() model.JobData {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.data
}

// GUID is shorthand for Data().GUID.
func (w *Writer) GUID() string {
	return w.data.GUID
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}
	if w.err != nil {
		return 0, w.err
	}
	n, err := w.sink.Write(p)
	w.data.Size += int64(n)
	if err != nil {
		w.err = fmt.Errorf("write data %s: %w", w.data.GUID, err)
		return n, w.err
	}
	return n, nil
}

// Close publishes the blob. It returns the first write error, if any, in
// which case nothing is published.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.closed = true
	if w.err != nil {
		err := w.err
		w.mu.Unlock()
		if abortErr := w.sink.Abort(); abortErr != nil {
			w.store.logger.Warn("failed to abort job data", "data_guid", w.data.GUID, "error", abortErr)
		}
		return err
	}
	if err := w.sink.Close(); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("publish data %s: %w", w.data.GUID, err)
	}
	w.data.CreatedAt = w.store.now()
	data := w.data
	w.mu.Unlock()

	w.store.register(data)
	if w.onPublish != nil {
		if err := w.onPublish(data); err != nil {
			if evictErr := w.store.Evict(context.WithoutCancel(w.ctx), data.GUID); evictErr != nil {
				w.store.logger.Error("evict unattached data", "data_guid", data.GUID, "error", evictErr)
			}
			return fmt.Errorf("attach data %s: %w", data.GUID, err)
		}
	}
	w.store.logger.Debug("did store job data",
		"data_guid", data.GUID,
		"name", data.Name,
		"type", data.Type,
		"size", data.Size,
	)
	return nil
}

// Abort discards the blob. Abort after Close is a no-op.
func (w *Writer) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.sink.Abort()
}

// Closed reports whether Close or Abort has been called.
func (w *Writer) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}
