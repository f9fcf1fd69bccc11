package config

import (
	"context"
	"fmt"

	"github.com/seantiz/depotjobs/internal/storage"
)

// Open connects the configured storage backend.
func (s StorageConfig) Open(ctx context.Context) (storage.Storage, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	var (
		st  storage.Storage
		err error
	)
	switch s.Backend {
	case StorageMemory:
		st = storage.NewMemory()
	case StorageFilesystem:
		st, err = storage.NewFilesystem(s.Dir)
	case StorageSQLite:
		st, err = storage.NewSQLite(s.SQLitePath)
	case StoragePostgres:
		st, err = storage.NewPostgres(ctx, s.PostgresURL)
	case StorageMinio:
		st, err = storage.NewMinio(ctx, s.Minio)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", s.Backend, err)
	}
	return st, nil
}
