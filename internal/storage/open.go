package storage

import (
	"context"
	"errors"
	"fmt"

	"dfsportal/internal/config"
	"dfsportal/internal/db"
)

// Backend names accepted by STORAGE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Open builds the backend selected by cfg. pg is only consulted for the
// postgres backend. The returned close function releases backend resources
// and is never nil.
func Open(ctx context.Context, cfg config.StorageConfig, pg db.DBTX) (KV, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(cfg.QuotaBytes).Origin(cfg.Origin), noop, nil

	case BackendSQLite:
		sqlDB, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return NewSQLiteKV(sqlDB, cfg.Origin, cfg.QuotaBytes), sqlDB.Close, nil

	case BackendPostgres:
		if pg == nil {
			return nil, noop, errors.New("storage: postgres backend requires a database connection")
		}
		kv := NewPostgresKV(pg, cfg.Origin, cfg.QuotaBytes)
		if cfg.AutoMigrate {
			if err := kv.EnsureSchema(ctx); err != nil {
				return nil, noop, err
			}
		}
		return kv, noop, nil

	default:
		return nil, noop, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}
