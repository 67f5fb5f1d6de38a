package core

import (
	"context"
	"fmt"
	"io"
	"strings"

	"commandcore/internal/config"
	"commandcore/internal/infra/persistence/memory"
	"commandcore/internal/infra/persistence/postgres"
	"commandcore/internal/infra/persistence/sqlite"
	"commandcore/pkg/domain"
)

// StorageDriver identifies a concrete repository implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = config.StorageMemory   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = config.StorageSQLite   // embedded sqlite file
	StoragePostgres StorageDriver = config.StoragePostgres // PostgreSQL server
)

// PersistentRepository is the repository returned by OpenRepository. Every
// backend keeps its working set in memory and can export or replace it as a
// snapshot.
type PersistentRepository interface {
	domain.TransactionalRepository
	Registry() *domain.TypeRegistry
	ExportState() (memory.Snapshot, error)
	ImportState(snapshot memory.Snapshot) error
}

var (
	_ PersistentRepository = (*memory.TransactionalStore)(nil)
	_ PersistentRepository = (*sqlite.Store)(nil)
	_ PersistentRepository = (*postgres.Store)(nil)
)

// OpenRepository selects a backend from cfg.Driver.
func OpenRepository(ctx context.Context, cfg config.Storage, opts ...memory.Option) (PersistentRepository, error) {
	driver := StorageDriver(strings.ToLower(strings.TrimSpace(cfg.Driver)))
	if driver == "" {
		driver = StorageMemory
	}
	switch driver {
	case StorageMemory:
		return memory.NewTransactionalStore(opts...), nil
	case StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		dsn := cfg.PostgresDSN
		if dsn == "" {
			dsn = postgres.DefaultDSN
		}
		store, err := postgres.NewStore(ctx, dsn, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

// CloseRepository releases backend resources when repo holds any.
func CloseRepository(repo domain.Repository) error {
	if c, ok := repo.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
