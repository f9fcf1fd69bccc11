package datastore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/seantiz/depotjobs/internal/model"
	"github.com/seantiz/depotjobs/internal/storage"
)

// Store maps data GUIDs to metadata and delegates bytes to a backend.
// It is safe for concurrent use.
type Store struct {
	backend storage.Storage
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	datas map[string]model.JobData
}

// New creates a data store over backend.
func New(backend storage.Storage, logger *slog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		datas:   make(map[string]model.JobData),
	}
}

// Put copies src into a new blob and returns its metadata once published.
func (s *Store) Put(ctx context.Context, name, mediaType string, enc model.Encoding, typ model.DataType, src io.Reader) (model.JobData, error) {
	if src == nil {
		return model.JobData{}, errors.New("a data source is required")
	}
	w, err := s.Create(ctx, name, mediaType, enc, typ, nil)
	if err != nil {
		return model.JobData{}, err
	}
	if _, err := io.Copy(w, src); err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			s.logger.Warn("failed to abort job data", "data_guid", w.GUID(), "error", abortErr)
		}
		return model.JobData{}, fmt.Errorf("copy data: %w", err)
	}
	if err := w.Close(); err != nil {
		return model.JobData{}, err
	}
	return w.Data(), nil
}

// Create opens a writer for a new blob. The GUID is assigned immediately
// but is not resolvable until Close succeeds. onPublish, if non-nil, runs
// after the blob is registered; if it fails the blob is evicted again.
func (s *Store) Create(ctx context.Context, name, mediaType string, enc model.Encoding, typ model.DataType, onPublish func(model.JobData) error) (*Writer, error) {
	if enc == "" {
		enc = model.EncodingNone
	}
	if mediaType == "" {
		mediaType = model.MediaTypeOctet
	}
	data := model.JobData{
		GUID:      model.NewID(),
		Name:      name,
		MediaType: mediaType,
		Encoding:  enc,
		Type:      typ,
	}
	sink, err := s.backend.Put(ctx, data.GUID)
	if err != nil {
		return nil, fmt.Errorf("open data sink: %w", err)
	}
	return &Writer{
		ctx:       ctx,
		store:     s,
		sink:      sink,
		data:      data,
		onPublish: onPublish,
	}, nil
}

// Lookup returns the metadata for guid.
func (s *Store) Lookup(guid string) (model.JobData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.datas[guid]
	return d, ok
}

// Get opens the blob for guid. An unknown GUID yields (nil, false, nil).
func (s *Store) Get(ctx context.Context, guid string) (*Object, bool, error) {
	data, ok := s.Lookup(guid)
	if !ok {
		return nil, false, nil
	}
	body, err := s.backend.Get(ctx, guid)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("job data metadata without stored bytes", "data_guid", guid)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open data %s: %w", guid, err)
	}
	return &Object{Data: data, body: body}, true, nil
}

// Evict removes the blob and its metadata. Evicting an unknown GUID is a no-op.
func (s *Store) Evict(ctx context.Context, guid string) error {
	if err := s.backend.Remove(ctx, guid); err != nil {
		return fmt.Errorf("evict data %s: %w", guid, err)
	}
	s.mu.Lock()
	_, existed := s.datas[guid]
	delete(s.datas, guid)
	s.mu.Unlock()
	if existed {
		s.logger.Info("did evict job data", "data_guid", guid)
	}
	return nil
}

// List returns all known metadata ordered by creation time.
func (s *Store) List() []model.JobData {
	s.mu.RLock()
	out := make([]model.JobData, 0, len(s.datas))
	for _, d := range s.datas {
		out = append(out, d)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Orphans returns the metadata created more than ttl ago for which inUse
// reports false, oldest first.
func (s *Store) Orphans(ttl time.Duration, inUse func(guid string) bool) []model.JobData {
	cutoff := s.now().Add(-ttl)
	var out []model.JobData
	for _, d := range s.List() {
		if d.CreatedAt.Before(cutoff) && !inUse(d.GUID) {
			out = append(out, d)
		}
	}
	return out
}

// Detach forgets the metadata for guid so that it no longer resolves. The
// stored bytes stay until Evict.
func (s *Store) Detach(guid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.datas[guid]
	delete(s.datas, guid)
	return ok
}

// EvictOrphans evicts data created more than ttl ago for which inUse
// reports false. It returns the number of evicted blobs.
func (s *Store) EvictOrphans(ctx context.Context, ttl time.Duration, inUse func(guid string) bool) (int, error) {
	var (
		evicted int
		errs    []error
	)
	for _, d := range s.Orphans(ttl, inUse) {
		if err := s.Evict(ctx, d.GUID); err != nil {
			s.logger.Error("was not able to evict expired job data; data will remain in situ", "data_guid", d.GUID, "error", err)
			errs = append(errs, err)
			continue
		}
		evicted++
	}
	return evicted, errors.Join(errs...)
}

// Clear removes every blob from the backend and forgets all metadata.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Clear(ctx); err != nil {
		return fmt.Errorf("clear data storage: %w", err)
	}
	s.mu.Lock()
	s.datas = make(map[string]model.JobData)
	s.mu.Unlock()
	return nil
}

func (s *Store) register(d model.JobData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datas[d.GUID] = d
}
