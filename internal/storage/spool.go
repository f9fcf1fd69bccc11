package storage

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// spoolSink buffers writes to a temporary file and hands the complete file
// to publish on Close. Database and object-store backends use it so a blob
// is only inserted once fully written.
type spoolSink struct {
	mu      sync.Mutex
	f       *os.File
	size    int64
	done    bool
	publish func(r io.Reader, size int64) error
}

func newSpoolSink(publish func(r io.Reader, size int64) error) (*spoolSink, error) {
	f, err := os.CreateTemp("", "depotjobs-spool-*")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	return &spoolSink{f: f, publish: publish}, nil
}

func (s *spoolSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return 0, ErrSinkClosed
	}
	n, err := s.f.Write(p)
	s.size += int64(n)
	return n, err
}

func (s *spoolSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return ErrSinkClosed
	}
	s.done = true
	defer s.cleanup()

	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind spool file: %w", err)
	}
	return s.publish(s.f, s.size)
}

func (s *spoolSink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	s.cleanup()
	return nil
}

func (s *spoolSink) cleanup() {
	name := s.f.Name()
	s.f.Close()
	os.Remove(name)
}
