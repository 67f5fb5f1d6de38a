// Package postgres persists repository state to a Postgres JSONB table while
// serving reads and transactions from memory.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"commandcore/internal/infra/persistence/memory"
	"commandcore/internal/infra/persistence/sqlstate"
	"commandcore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

var _ domain.TransactionalRepository = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when NewStore receives an empty DSN.
	DefaultDSN = "postgres://localhost/commandcore?sslmode=disable"
)

// Dialect is the Postgres flavour of the state table statements.
var Dialect = sqlstate.Dialect{
	Name: "postgres",
	CreateTable: `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		counter BIGINT NOT NULL DEFAULT 0,
		payload JSONB NOT NULL
	)`,
	SelectState: `SELECT bucket, counter, payload FROM state`,
	ClearState:  `DELETE FROM state`,
	UpsertState: `INSERT INTO state(bucket,counter,payload) VALUES($1,$2,$3) ON CONFLICT(bucket) DO UPDATE SET counter=EXCLUDED.counter, payload=EXCLUDED.payload`,
}

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store is a snapshotting Postgres-backed transactional repository.
type Store struct {
	*sqlstate.Store
}

// NewStore connects using dsn, ensures the state table exists, and hydrates
// the in-memory state from it.
func NewStore(ctx context.Context, dsn string, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	inner, err := sqlstate.Open(ctx, db, Dialect, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner}, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
