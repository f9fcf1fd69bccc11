package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	_ "modernc.org/sqlite"
)

const createBlobsTable = `
CREATE TABLE IF NOT EXISTS job_data_blobs (
    key        TEXT PRIMARY KEY,
    data       BLOB NOT NULL,
    size       INTEGER NOT NULL,
    created_at DATETIME NOT NULL
)`

// Compile-time interface satisfaction check.
var _ Storage = (*SQLite)(nil)

// SQLite stores blobs as rows in an embedded SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens the SQLite database at dbPath and creates the blob table.
func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A ":memory:" database exists per connection, so pin the pool to one.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createBlobsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create blobs table: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Put(ctx context.Context, key string) (Sink, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return newSpoolSink(func(r io.Reader, size int64) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read spool: %w", err)
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO job_data_blobs (key, data, size, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET data = excluded.data, size = excluded.size, created_at = excluded.created_at`,
			key, data, size, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert blob: %w", err)
		}
		return nil
	})
}

// Get reads the whole blob so the connection is released before the caller
// starts consuming it.
func (s *SQLite) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM job_data_blobs WHERE key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *SQLite) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM job_data_blobs WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM job_data_blobs"); err != nil {
		return fmt.Errorf("clear blobs: %w", err)
	}
	return nil
}
