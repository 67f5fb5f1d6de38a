// Package sqlstate persists a memory.TransactionalStore to a single SQL table
// holding one JSON payload per entity type. The SQLite and Postgres backends
// differ only in their Dialect.
package sqlstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"commandcore/internal/infra/persistence/memory"
	"commandcore/pkg/domain"
)

var _ domain.TransactionalRepository = (*Store)(nil)

// Dialect holds the statements a backend uses against the state table.
// UpsertState takes bucket, counter and payload in that order.
type Dialect struct {
	Name        string
	CreateTable string
	SelectState string
	ClearState  string
	UpsertState string
}

// Store serves reads and writes from memory and writes the full state to the
// database after every committed transaction and every mutation made outside
// one. A failed write rolls the in-memory change back.
type Store struct {
	*memory.TransactionalStore
	db      *sql.DB
	dialect Dialect
	mu      sync.Mutex
}

// Open ensures the state table exists and hydrates a fresh store from it.
func Open(ctx context.Context, db *sql.DB, dialect Dialect, opts ...memory.Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlstate: database handle is required")
	}
	if _, err := db.ExecContext(ctx, dialect.CreateTable); err != nil {
		return nil, fmt.Errorf("ensure state table: %w", err)
	}
	s := &Store{
		TransactionalStore: memory.NewTransactionalStore(opts...),
		db:                 db,
		dialect:            dialect,
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for integration tests.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the statements in use.
func (s *Store) Dialect() Dialect { return s.dialect }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Save stores e, writing through to the database when no transaction is active.
func (s *Store) Save(e domain.Entity) (domain.Entity, error) {
	var saved domain.Entity
	err := s.autocommit(func() error {
		var err error
		saved, err = s.TransactionalStore.Save(e)
		return err
	})
	return saved, err
}

// Delete removes e, writing through to the database when no transaction is active.
func (s *Store) Delete(e domain.Entity) (bool, error) {
	var removed bool
	err := s.autocommit(func() error {
		var err error
		removed, err = s.TransactionalStore.Delete(e)
		return err
	})
	return removed, err
}

// Commit writes the state to the database and then discards the undo log.
// When the write fails the transaction is rolled back instead.
func (s *Store) Commit() error {
	if !s.InTransaction() {
		return domain.ErrNoTransaction
	}
	if err := s.Flush(context.Background()); err != nil {
		if rbErr := s.TransactionalStore.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return s.TransactionalStore.Commit()
}

// RunInTransaction commits, and therefore persists, when fn succeeds.
func (s *Store) RunInTransaction(ctx context.Context, fn func() error) error {
	return domain.WithinTransaction(ctx, s, fn)
}

// autocommit wraps a single mutation in its own transaction unless the
// caller already holds one.
func (s *Store) autocommit(fn func() error) error {
	if err := s.TransactionalStore.Begin(); err != nil {
		if errors.Is(err, domain.ErrTransactionActive) {
			return fn()
		}
		return err
	}
	if err := fn(); err != nil {
		_ = s.TransactionalStore.Rollback()
		return err
	}
	return s.Commit()
}

// ReplaceState swaps the whole store for snapshot and rewrites the state
// table to match. On a failed write the previous state is restored.
func (s *Store) ReplaceState(ctx context.Context, snapshot memory.Snapshot) error {
	if s.InTransaction() {
		return domain.ErrTransactionActive
	}
	previous, err := s.ExportState()
	if err != nil {
		return err
	}
	if err := s.ImportState(snapshot); err != nil {
		return err
	}
	if err := s.write(ctx, true); err != nil {
		if restoreErr := s.ImportState(previous); restoreErr != nil {
			return errors.Join(err, restoreErr)
		}
		return err
	}
	return nil
}

// Flush writes every bucket to the state table in one database transaction.
func (s *Store) Flush(ctx context.Context) error {
	return s.write(ctx, false)
}

func (s *Store) write(ctx context.Context, clear bool) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, err := s.ExportState()
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s tx: %w", s.dialect.Name, err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if clear {
		if _, err := tx.ExecContext(ctx, s.dialect.ClearState); err != nil {
			return fmt.Errorf("clear state: %w", err)
		}
	}
	for _, t := range snapshot.Types() {
		bs := snapshot.Buckets[t]
		payload, err := json.Marshal(bs.Records)
		if err != nil {
			return fmt.Errorf("encode %s: %w", t, err)
		}
		if _, err := tx.ExecContext(ctx, s.dialect.UpsertState, string(t), bs.Counter, string(payload)); err != nil {
			return fmt.Errorf("upsert %s: %w", t, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s tx: %w", s.dialect.Name, err)
	}
	return nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, s.dialect.SelectState)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := memory.Snapshot{Buckets: make(map[domain.EntityType]memory.BucketSnapshot)}
	for rows.Next() {
		var (
			bucket  string
			counter int64
			payload []byte
		)
		if err := rows.Scan(&bucket, &counter, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		bs := memory.BucketSnapshot{Counter: counter}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &bs.Records); err != nil {
				return fmt.Errorf("decode %s: %w", bucket, err)
			}
		}
		snapshot.Buckets[domain.EntityType(bucket)] = bs
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if len(snapshot.Buckets) == 0 {
		return nil
	}
	return s.ImportState(snapshot)
}
