package datastore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/depotjobs/internal/model"
	"github.com/seantiz/depotjobs/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return New(storage.NewMemory(), logger)
}

func readAll(t *testing.T, r io.ReadCloser) string {
	t.Helper()
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

func TestPutAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d, err := s.Put(ctx, "input", "text/csv", model.EncodingNone, model.DataSupplied, strings.NewReader("a,b\n1,2\n"))
	require.NoError(t, err)
	assert.True(t, model.ValidID(d.GUID))
	assert.Equal(t, int64(8), d.Size)
	assert.False(t, d.CreatedAt.IsZero())

	obj, ok, err := s.Get(ctx, d.GUID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "input", obj.Data.Name)
	assert.Equal(t, "text/csv", obj.Data.MediaType)
	assert.Equal(t, model.EncodingNone, obj.Data.Encoding)
	assert.Equal(t, model.DataSupplied, obj.Data.Type)
	assert.Equal(t, "a,b\n1,2\n", readAll(t, obj))
}

func TestGetUnknown(t *testing.T) {
	s := newTestStore(t)
	obj, ok, err := s.Get(context.Background(), model.NewID())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, obj)
}

func TestCreateDefaults(t *testing.T) {
	s := newTestStore(t)
	w, err := s.Create(context.Background(), "out", "", "", model.DataGenerated, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	d, ok := s.Lookup(w.GUID())
	require.True(t, ok)
	assert.Equal(t, model.MediaTypeOctet, d.MediaType)
	assert.Equal(t, model.EncodingNone, d.Encoding)
}

func TestWriterNotResolvableUntilClose(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w, err := s.Create(ctx, "report", model.MediaTypeCSV, model.EncodingNone, model.DataGenerated, nil)
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)

	_, ok, err := s.Get(ctx, w.GUID())
	require.NoError(t, err)
	assert.False(t, ok, "data must not be visible before Close")

	require.NoError(t, w.Close())
	obj, ok, err := s.Get(ctx, w.GUID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "partial", readAll(t, obj))

	_, err = w.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, w.Close(), ErrClosed)
}

func TestAbortNeverPublishes(t *testing.T) {
	s := newTestStore(t)
	w, err := s.Create(context.Background(), "x", "", model.EncodingNone, model.DataGenerated, nil)
	require.NoError(t, err)
	w.Write([]byte("junk"))
	require.NoError(t, w.Abort())
	assert.True(t, w.Closed())

	_, ok := s.Lookup(w.GUID())
	assert.False(t, ok)
}

// failingStorage accepts writes up to a limit and then fails.
type failingStorage struct {
	*storage.Memory
	limit    int
	abortErr error
}

func (f *failingStorage) Put(ctx context.Context, key string) (storage.Sink, error) {
	sink, err := f.Memory.Put(ctx, key)
	if err != nil {
		return nil, err
	}
	return &failingSink{Sink: sink, remaining: f.limit, abortErr: f.abortErr}, nil
}

type failingSink struct {
	storage.Sink
	remaining int
	abortErr  error
}

func (f *failingSink) Abort() error {
	if err := f.Sink.Abort(); err != nil {
		return err
	}
	return f.abortErr
}

func (f *failingSink) Write(p []byte) (int, error) {
	if len(p) > f.remaining {
		return 0, errors.New("disk full")
	}
	f.remaining -= len(p)
	return f.Sink.Write(p)
}

func TestWriteErrorPreventsPublish(t *testing.T) {
	backend := &failingStorage{Memory: storage.NewMemory(), limit: 4}
	s := New(backend, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	_, err := s.Put(context.Background(), "big", "", model.EncodingNone, model.DataSupplied, strings.NewReader("too many bytes"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, backend.Len())
	assert.Empty(t, s.List())
}

func TestOnPublishFailureEvicts(t *testing.T) {
	s := newTestStore(t)
	w, err := s.Create(context.Background(), "x", "", model.EncodingNone, model.DataGenerated, func(model.JobData) error {
		return errors.New("job vanished")
	})
	require.NoError(t, err)
	w.Write([]byte("data"))

	err = w.Close()
	require.Error(t, err)
	_, ok := s.Lookup(w.GUID())
	assert.False(t, ok)
}

func TestOnPublishSeesRegisteredData(t *testing.T) {
	s := newTestStore(t)
	var seen bool
	w, err := s.Create(context.Background(), "x", "", model.EncodingNone, model.DataGenerated, func(d model.JobData) error {
		_, seen = s.Lookup(d.GUID)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.True(t, seen, "data should be resolvable by the time the publish hook runs")
}

func TestDecodedGzip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte("hello depot"))
	require.NoError(t, zw.Close())
	raw := buf.Bytes()

	d, err := s.Put(ctx, "dump", model.MediaTypeJSON, model.EncodingGzip, model.DataGenerated, bytes.NewReader(raw))
	require.NoError(t, err)

	obj, ok, err := s.Get(ctx, d.GUID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, string(raw), readAll(t, obj), "raw access returns encoded bytes")

	obj, _, err = s.Get(ctx, d.GUID)
	require.NoError(t, err)
	dec, err := obj.Decoded()
	require.NoError(t, err)
	assert.Equal(t, "hello depot", readAll(t, dec))
}

func TestDecodedPlainPassThrough(t *testing.T) {
	s := newTestStore(t)
	d, err := s.Put(context.Background(), "p", "", model.EncodingNone, model.DataSupplied, strings.NewReader("plain"))
	require.NoError(t, err)
	obj, _, err := s.Get(context.Background(), d.GUID)
	require.NoError(t, err)
	dec, err := obj.Decoded()
	require.NoError(t, err)
	assert.Equal(t, "plain", readAll(t, dec))
}

func TestEvict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d, err := s.Put(ctx, "x", "", model.EncodingNone, model.DataSupplied, strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, s.Evict(ctx, d.GUID))
	_, ok, err := s.Get(ctx, d.GUID)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, s.Evict(ctx, d.GUID), "evicting twice is a no-op")
}

func TestEvictOrphans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	old, err := s.Put(ctx, "old", "", model.EncodingNone, model.DataSupplied, strings.NewReader("1"))
	require.NoError(t, err)
	used, err := s.Put(ctx, "used", "", model.EncodingNone, model.DataSupplied, strings.NewReader("2"))
	require.NoError(t, err)

	s.now = func() time.Time { return base.Add(30 * time.Minute) }
	fresh, err := s.Put(ctx, "fresh", "", model.EncodingNone, model.DataSupplied, strings.NewReader("3"))
	require.NoError(t, err)

	s.now = func() time.Time { return base.Add(2*time.Hour + time.Minute) }
	n, err := s.EvictOrphans(ctx, 2*time.Hour, func(guid string) bool { return guid == used.GUID })
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := s.Lookup(old.GUID)
	assert.False(t, ok, "expired orphan should be evicted")
	_, ok = s.Lookup(used.GUID)
	assert.True(t, ok, "in-use data must be kept")
	_, ok = s.Lookup(fresh.GUID)
	assert.True(t, ok, "fresh data must be kept")
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Put(ctx, "x", "", model.EncodingNone, model.DataSupplied, strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, s.Clear(ctx))
	assert.Empty(t, s.List())
}

func TestAbortFailureIsLogged(t *testing.T) {
	var logs bytes.Buffer
	backend := &failingStorage{Memory: storage.NewMemory(), limit: 2, abortErr: errors.New("unlink failed")}
	s := New(backend, slog.New(slog.NewJSONHandler(&logs, nil)))

	_, err := s.Put(context.Background(), "big", "", model.EncodingNone, model.DataSupplied, strings.NewReader("too many bytes"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full", "the write error is returned, not the abort error")
	assert.Contains(t, logs.String(), `"level":"WARN"`)
	assert.Contains(t, logs.String(), "unlink failed")
}

func TestCloseAfterWriteErrorLogsAbortFailure(t *testing.T) {
	var logs bytes.Buffer
	backend := &failingStorage{Memory: storage.NewMemory(), limit: 2, abortErr: errors.New("unlink failed")}
	s := New(backend, slog.New(slog.NewJSONHandler(&logs, nil)))

	w, err := s.Create(context.Background(), "x", "", model.EncodingNone, model.DataGenerated, nil)
	require.NoError(t, err)
	_, err = w.Write([]byte("too long"))
	require.Error(t, err)

	require.Error(t, w.Close())
	assert.Contains(t, logs.String(), "unlink failed")
}

func TestDetachHidesDataUntilEvict(t *testing.T) {
	backend := storage.NewMemory()
	s := New(backend, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	ctx := context.Background()

	d, err := s.Put(ctx, "x", "", model.EncodingNone, model.DataSupplied, strings.NewReader("x"))
	require.NoError(t, err)

	assert.True(t, s.Detach(d.GUID))
	_, ok := s.Lookup(d.GUID)
	assert.False(t, ok)
	assert.Equal(t, 1, backend.Len(), "bytes stay until evicted")
	assert.False(t, s.Detach(d.GUID))

	require.NoError(t, s.Evict(ctx, d.GUID))
	assert.Equal(t, 0, backend.Len())
}

func TestOrphansSelectsOldUnusedData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	old, err := s.Put(ctx, "old", "", model.EncodingNone, model.DataSupplied, strings.NewReader("1"))
	require.NoError(t, err)
	used, err := s.Put(ctx, "used", "", model.EncodingNone, model.DataSupplied, strings.NewReader("2"))
	require.NoError(t, err)

	s.now = func() time.Time { return base.Add(3 * time.Hour) }
	orphans := s.Orphans(2*time.Hour, func(guid string) bool { return guid == used.GUID })
	require.Len(t, orphans, 1)
	assert.Equal(t, old.GUID, orphans[0].GUID)

	_, ok := s.Lookup(old.GUID)
	assert.True(t, ok, "Orphans only selects")
}
