package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	blobSuffix    = ".dat"
	partialSuffix = ".tmp"
)

// Compile-time interface satisfaction check.
var _ Storage = (*Filesystem)(nil)

// Filesystem stores each blob as a file under a single directory. Writes go
// to a temporary sibling file which is renamed into place on Close.
type Filesystem struct {
	dir string
}

// NewFilesystem creates the directory if needed and returns a backend rooted there.
func NewFilesystem(dir string) (*Filesystem, error) {
	if dir == "" {
		return nil, errors.New("storage directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &Filesystem{dir: dir}, nil
}

// Dir returns the root directory.
func (s *Filesystem) Dir() string {
	return s.dir
}

func (s *Filesystem) path(key string) string {
	return filepath.Join(s.dir, key+blobSuffix)
}

func (s *Filesystem) Put(_ context.Context, key string) (Sink, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(s.dir, key+".*"+partialSuffix)
	if err != nil {
		return nil, fmt.Errorf("create partial file: %w", err)
	}
	return &fileSink{f: f, target: s.path(key)}, nil
}

func (s *Filesystem) Get(_ context.Context, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

func (s *Filesystem) Remove(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

// Clear removes published and partial blob files. Other files in the
// directory are left alone.
func (s *Filesystem) Clear(_ context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read storage directory: %w", err)
	}
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, blobSuffix) || strings.HasSuffix(name, partialSuffix)) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Filesystem) Close() error { return nil }

type fileSink struct {
	mu     sync.Mutex
	f      *os.File
	target string
	done   bool
}

func (s *fileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return 0, ErrSinkClosed
	}
	return s.f.Write(p)
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return ErrSinkClosed
	}
	s.done = true

	partial := s.f.Name()
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		os.Remove(partial)
		return fmt.Errorf("sync partial file: %w", err)
	}
	if err := s.f.Close(); err != nil {
		os.Remove(partial)
		return fmt.Errorf("close partial file: %w", err)
	}
	if err := os.Rename(partial, s.target); err != nil {
		os.Remove(partial)
		return fmt.Errorf("publish blob: %w", err)
	}
	return nil
}

func (s *fileSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	s.f.Close()
	if err := os.Remove(s.f.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove partial file: %w", err)
	}
	return nil
}
