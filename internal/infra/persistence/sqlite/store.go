// Package sqlite persists repository state to a SQLite file using the pure Go
// modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"commandcore/internal/infra/persistence/memory"
	"commandcore/internal/infra/persistence/sqlstate"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// DefaultPath is used when NewStore receives an empty path.
const DefaultPath = "commandcore.db"

// Dialect is the SQLite flavour of the state table statements.
var Dialect = sqlstate.Dialect{
	Name: "sqlite",
	CreateTable: `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		counter INTEGER NOT NULL DEFAULT 0,
		payload BLOB NOT NULL
	)`,
	SelectState: `SELECT bucket, counter, payload FROM state`,
	ClearState:  `DELETE FROM state`,
	UpsertState: `INSERT INTO state(bucket,counter,payload) VALUES(?,?,?) ON CONFLICT(bucket) DO UPDATE SET counter=excluded.counter, payload=excluded.payload`,
}

// Store is a snapshotting SQLite-backed transactional repository.
type Store struct {
	*sqlstate.Store
	path string
}

// NewStore opens (creating if needed) the database at path and loads any
// state persisted by a previous process.
func NewStore(path string, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// :memory: databases exist per connection.
	db.SetMaxOpenConns(1)
	inner, err := sqlstate.Open(context.Background(), db, Dialect, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner, path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
