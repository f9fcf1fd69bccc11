package storage

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// Compile-time interface satisfaction check.
var _ Storage = (*Memory)(nil)

// Memory keeps blobs in process memory. Published byte slices are never
// mutated, so readers can share them without copying.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, key string) (Sink, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return &memorySink{m: m, key: key}, nil
}

func (m *Memory) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs = make(map[string][]byte)
	return nil
}

// Len returns the number of published blobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

func (m *Memory) Close() error { return nil }

type memorySink struct {
	mu   sync.Mutex
	m    *Memory
	key  string
	buf  bytes.Buffer
	done bool
}

func (s *memorySink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return 0, ErrSinkClosed
	}
	return s.buf.Write(p)
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return ErrSinkClosed
	}
	s.done = true

	s.m.mu.Lock()
	s.m.blobs[s.key] = s.buf.Bytes()
	s.m.mu.Unlock()
	return nil
}

func (s *memorySink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	s.buf.Reset()
	return nil
}
