package domain

import (
	"context"
	"errors"
	"reflect"
)

// Repository errors.
var (
	ErrTransactionActive = errors.New("transaction already active")
	ErrNoTransaction     = errors.New("no active transaction")
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrNoRepository      = errors.New("no repository bound for entity type")
)

// Repository is the storage contract consumed by commands, the entity loader,
// and the association resolver. Reads return copies owned by the caller.
type Repository interface {
	Find(t EntityType, key any) (Entity, bool)
	FindAll(t EntityType) []Entity
	FindBy(t EntityType, criteria Criteria) []Entity
	// Save inserts or updates e, assigning a key when e has none, and returns
	// the stored entity. e itself is updated with the assigned key and marked
	// persisted.
	Save(e Entity) (Entity, error)
	// Delete removes e and reports whether a record existed.
	Delete(e Entity) (bool, error)
	Exists(t EntityType, key any) bool
	Count(t EntityType) int
}

// TransactionalRepository adds a single level of transactions. Begin fails
// with ErrTransactionActive when a transaction is already open; Commit and
// Rollback fail with ErrNoTransaction when none is.
type TransactionalRepository interface {
	Repository
	Begin() error
	Commit() error
	Rollback() error
	InTransaction() bool
	// RunInTransaction commits when fn returns nil and rolls back when it
	// returns an error or panics. A panic is re-raised after rollback.
	RunInTransaction(ctx context.Context, fn func() error) error
}

// TxControl is the subset of TransactionalRepository driven by WithinTransaction.
type TxControl interface {
	Begin() error
	Commit() error
	Rollback() error
}

// WithinTransaction begins a transaction on tx, runs fn, and commits when fn
// returns nil. It rolls back when fn returns an error or panics; panics are
// re-raised once the rollback has run.
func WithinTransaction(ctx context.Context, tx TxControl, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tx.Begin(); err != nil {
		return err
	}
	done := false
	defer func() {
		if done {
			return
		}
		if rec := recover(); rec != nil {
			_ = tx.Rollback()
			panic(rec)
		}
	}()
	if fnErr := fn(); fnErr != nil {
		done = true
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(fnErr, rbErr)
		}
		return fnErr
	}
	done = true
	return tx.Commit()
}

// BatchFinder is implemented by repositories that can fetch every record
// whose field matches one of several values in a single query.
type BatchFinder interface {
	FindIn(t EntityType, field string, values []any) []Entity
}

// FindIn fetches the records of type t whose field equals any of values,
// using the repository's BatchFinder when available. Either way it issues a
// single repository call.
func FindIn(repo Repository, t EntityType, field string, values []any) []Entity {
	if bf, ok := repo.(BatchFinder); ok {
		return bf.FindIn(t, field, values)
	}
	return FilterIn(repo.FindAll(t), field, values)
}

// FilterIn keeps the entities whose field equals any of values.
func FilterIn(entities []Entity, field string, values []any) []Entity {
	want := make([]any, 0, len(values))
	for _, v := range values {
		want = append(want, NormalizeValue(v))
	}
	var out []Entity
	for _, e := range entities {
		got, ok := FieldValue(e, field)
		if !ok {
			continue
		}
		got = NormalizeValue(got)
		for _, w := range want {
			if reflect.DeepEqual(got, w) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// FilterBy keeps the entities matching criteria.
func FilterBy(entities []Entity, criteria Criteria) []Entity {
	var out []Entity
	for _, e := range entities {
		if criteria.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// EntityTypeOf returns the entity type declared by T, which must be a pointer
// to a struct implementing Entity.
func EntityTypeOf[T Entity]() EntityType {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	if rt.Kind() != reflect.Pointer {
		var zero T
		return zero.EntityType()
	}
	return reflect.New(rt.Elem()).Interface().(T).EntityType()
}

// FindAs looks up a record and asserts it to T.
func FindAs[T Entity](repo Repository, key any) (T, bool) {
	var zero T
	e, ok := repo.Find(EntityTypeOf[T](), key)
	if !ok {
		return zero, false
	}
	typed, ok := e.(T)
	return typed, ok
}

// All asserts every entity to T, skipping those of other types.
func All[T Entity](entities []Entity) []T {
	out := make([]T, 0, len(entities))
	for _, e := range entities {
		if typed, ok := e.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}
