package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	createPostgresBlobTable = `
CREATE TABLE IF NOT EXISTS job_data_blob (
    key        TEXT PRIMARY KEY,
    size       BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
)`
	createPostgresPartTable = `
CREATE TABLE IF NOT EXISTS job_data_blob_part (
    key     TEXT NOT NULL REFERENCES job_data_blob (key) ON DELETE CASCADE,
    ordinal INTEGER NOT NULL,
    data    BYTEA NOT NULL,
    PRIMARY KEY (key, ordinal)
)`

	// DefaultPartSize bounds each stored row so large blobs never need a
	// single huge bytea value.
	DefaultPartSize = 4 << 20

	defaultPingTimeout = 2 * time.Second
)

// Compile-time interface satisfaction check.
var _ Storage = (*Postgres)(nil)

// Postgres stores blobs in PostgreSQL split into ordered parts. The header
// row and all parts are written in one transaction, so a blob becomes
// visible only once complete.
type Postgres struct {
	pool     *pgxpool.Pool
	partSize int
}

// NewPostgres connects to url, verifies the connection and creates the tables.
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	if url == "" {
		return nil, errors.New("postgres url is required")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	for _, stmt := range []string{createPostgresBlobTable, createPostgresPartTable} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("create blob tables: %w", err)
		}
	}

	return &Postgres{pool: pool, partSize: DefaultPartSize}, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func (s *Postgres) Put(ctx context.Context, key string) (Sink, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return newSpoolSink(func(r io.Reader, size int64) error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, "DELETE FROM job_data_blob WHERE key = $1", key); err != nil {
				return fmt.Errorf("replace blob: %w", err)
			}
			if _, err := tx.Exec(ctx,
				"INSERT INTO job_data_blob (key, size, created_at) VALUES ($1, $2, $3)",
				key, size, time.Now().UTC(),
			); err != nil {
				return fmt.Errorf("insert blob header: %w", err)
			}
			return writeParts(ctx, tx, key, r, s.partSize)
		})
	})
}

func writeParts(ctx context.Context, tx pgx.Tx, key string, r io.Reader, partSize int) error {
	buf := make([]byte, partSize)
	for ordinal := 0; ; ordinal++ {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if _, execErr := tx.Exec(ctx,
				"INSERT INTO job_data_blob_part (key, ordinal, data) VALUES ($1, $2, $3)",
				key, ordinal, buf[:n],
			); execErr != nil {
				return fmt.Errorf("insert blob part %d: %w", ordinal, execErr)
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read spool: %w", err)
		}
	}
}

// Get returns a reader that fetches parts lazily, one row at a time.
func (s *Postgres) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var parts int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(p.ordinal) FROM job_data_blob b
		LEFT JOIN job_data_blob_part p ON p.key = b.key
		WHERE b.key = $1 GROUP BY b.key`, key,
	).Scan(&parts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", err)
	}
	return &partReader{ctx: ctx, pool: s.pool, key: key, parts: parts}, nil
}

func (s *Postgres) Remove(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM job_data_blob WHERE key = $1", key); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (s *Postgres) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM job_data_blob"); err != nil {
		return fmt.Errorf("clear blobs: %w", err)
	}
	return nil
}

type partReader struct {
	ctx   context.Context
	pool  *pgxpool.Pool
	key   string
	parts int
	next  int
	cur   []byte
}

func (r *partReader) Read(p []byte) (int, error) {
	for len(r.cur) == 0 {
		if r.next >= r.parts {
			return 0, io.EOF
		}
		err := r.pool.QueryRow(r.ctx,
			"SELECT data FROM job_data_blob_part WHERE key = $1 AND ordinal = $2",
			r.key, r.next,
		).Scan(&r.cur)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("blob %s part %d: %w", r.key, r.next, ErrNotFound)
		}
		if err != nil {
			return 0, fmt.Errorf("read blob part: %w", err)
		}
		r.next++
	}
	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}

func (r *partReader) Close() error { return nil }
