package memory

import (
	"context"

	"commandcore/pkg/domain"
)

type undoAction string

const (
	actionSave   undoAction = "save"
	actionDelete undoAction = "delete"
)

// undoRecord captures what a single Save or Delete overwrote. previous is
// nil when the key was absent; counter is the type's counter before the
// mutation.
type undoRecord struct {
	action     undoAction
	entityType domain.EntityType
	key        any
	previous   domain.Entity
	counter    int64
}

// logLocked appends rec to the undo log when a transaction is active.
// Callers hold s.mu.
func (s *Store) logLocked(rec undoRecord) {
	if s.inTx {
		s.undo = append(s.undo, rec)
	}
}

// TransactionalStore adds single-level transactions to Store. Mutations made
// inside a transaction apply directly, so reads observe them immediately;
// Rollback replays the undo log in reverse to restore records and counters.
//
// The transaction is store-wide: while one is active, mutations from every
// caller are logged into it.
//
// Rollback restores the store only. An entity saved inside the transaction
// keeps its assigned key and stays marked persisted, and in-memory field
// changes are not reverted; re-load entities from the store after a
// rollback instead of reusing the values passed to Save.
type TransactionalStore struct {
	*Store
}

// NewTransactionalStore constructs an empty transactional store.
func NewTransactionalStore(opts ...Option) *TransactionalStore {
	return &TransactionalStore{Store: NewStore(opts...)}
}

// Begin starts a transaction. Nested transactions are not supported.
func (s *TransactionalStore) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inTx {
		return domain.ErrTransactionActive
	}
	s.inTx = true
	s.undo = []undoRecord{}
	return nil
}

// Commit discards the undo log.
func (s *TransactionalStore) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inTx {
		return domain.ErrNoTransaction
	}
	s.inTx = false
	s.undo = nil
	return nil
}

// Rollback restores every record and counter touched since Begin.
func (s *TransactionalStore) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inTx {
		return domain.ErrNoTransaction
	}
	for i := len(s.undo) - 1; i >= 0; i-- {
		rec := s.undo[i]
		b := s.bucket(rec.entityType)
		if rec.previous == nil {
			delete(b.records, rec.key)
		} else {
			b.records[rec.key] = rec.previous
		}
		b.counter = rec.counter
	}
	s.inTx = false
	s.undo = nil
	return nil
}

// InTransaction reports whether a transaction is active.
func (s *TransactionalStore) InTransaction() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inTx
}

// PendingChanges returns the number of mutations logged in the active transaction.
func (s *TransactionalStore) PendingChanges() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.undo)
}

// RunInTransaction commits when fn succeeds and rolls back otherwise.
func (s *TransactionalStore) RunInTransaction(ctx context.Context, fn func() error) error {
	return domain.WithinTransaction(ctx, s, fn)
}
