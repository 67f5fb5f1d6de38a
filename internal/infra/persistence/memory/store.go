// Package memory provides the in-memory repository used for tests, ephemeral
// environments, and as the working set behind the SQL-backed repositories.
package memory

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"commandcore/pkg/domain"
)

// Compile-time contract assertions.
var (
	_ domain.Repository              = (*Store)(nil)
	_ domain.BatchFinder             = (*Store)(nil)
	_ domain.TransactionalRepository = (*TransactionalStore)(nil)
)

type bucket struct {
	records map[any]domain.Entity
	counter int64
}

func newBucket() *bucket {
	return &bucket{records: make(map[any]domain.Entity)}
}

// Store keeps entities in per-type buckets guarded by a single lock. Stored
// entities are private copies; every read hands out a fresh clone.
type Store struct {
	mu       sync.RWMutex
	buckets  map[domain.EntityType]*bucket
	registry *domain.TypeRegistry
	nowFn    func() time.Time

	// undo collects mutations while inTx is set.
	undo []undoRecord
	inTx bool
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp entities.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithTypeRegistry sets the registry used to decode imported snapshots.
func WithTypeRegistry(registry *domain.TypeRegistry) Option {
	return func(s *Store) {
		if registry != nil {
			s.registry = registry
		}
	}
}

// NewStore constructs an empty, non-transactional store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		buckets:  make(map[domain.EntityType]*bucket),
		registry: domain.DefaultRegistry(),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the type registry used for snapshot decoding.
func (s *Store) Registry() *domain.TypeRegistry { return s.registry }

// NowFunc returns the time provider used by the store.
func (s *Store) NowFunc() func() time.Time { return s.nowFn }

func (s *Store) bucket(t domain.EntityType) *bucket {
	b, ok := s.buckets[t]
	if !ok {
		b = newBucket()
		s.buckets[t] = b
	}
	return b
}

// Find returns a copy of the record stored under key.
func (s *Store) Find(t domain.EntityType, key any) (domain.Entity, bool) {
	k, err := domain.NormalizeKey(key)
	if err != nil || k == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[t]
	if !ok {
		return nil, false
	}
	e, ok := b.records[k]
	if !ok {
		return nil, false
	}
	return domain.CloneEntity(e), true
}

// FindAll returns copies of every record of type t ordered by key.
func (s *Store) FindAll(t domain.EntityType) []domain.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(t)
}

func (s *Store) listLocked(t domain.EntityType) []domain.Entity {
	b, ok := s.buckets[t]
	if !ok {
		return []domain.Entity{}
	}
	out := make([]domain.Entity, 0, len(b.records))
	for _, e := range b.records {
		out = append(out, domain.CloneEntity(e))
	}
	domain.SortByKey(out)
	return out
}

// FindBy returns the records of type t matching criteria, ordered by key.
func (s *Store) FindBy(t domain.EntityType, criteria domain.Criteria) []domain.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return matchAll(s.listLocked(t), func(e domain.Entity) bool { return criteria.Matches(e) })
}

// FindIn returns the records of type t whose field holds any of values.
func (s *Store) FindIn(t domain.EntityType, field string, values []any) []domain.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := domain.FilterIn(s.listLocked(t), field, values)
	if out == nil {
		out = []domain.Entity{}
	}
	return out
}

// Exists reports whether a record is stored under key.
func (s *Store) Exists(t domain.EntityType, key any) bool {
	k, err := domain.NormalizeKey(key)
	if err != nil || k == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[t]
	if !ok {
		return false
	}
	_, ok = b.records[k]
	return ok
}

// Count returns the number of records of type t.
func (s *Store) Count(t domain.EntityType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[t]
	if !ok {
		return 0
	}
	return len(b.records)
}

// Save inserts or replaces e. Entities without a key receive the next value
// of their type's counter; explicit integer keys advance the counter so later
// assignments never collide. e is stamped, marked persisted, and returned.
func (s *Store) Save(e domain.Entity) (domain.Entity, error) {
	if isNil(e) {
		return nil, domain.ErrNilEntity
	}
	key, err := domain.KeyOf(e)
	if err != nil {
		return nil, err
	}
	t := e.EntityType()

	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(t)
	prevCounter := b.counter
	if key == nil {
		next := b.counter
		for {
			next++
			if err := e.SetPrimaryKey(next); err != nil {
				return nil, fmt.Errorf("assign %s key: %w", t, err)
			}
			if key, err = domain.KeyOf(e); err != nil {
				return nil, err
			}
			if _, taken := b.records[key]; !taken {
				break
			}
		}
		b.counter = next
	} else if n, ok := key.(int64); ok && n > b.counter {
		b.counter = n
	}
	if stamper, ok := e.(domain.Stamper); ok {
		stamper.Stamp(s.nowFn())
	}
	prev := b.records[key]
	s.logLocked(undoRecord{action: actionSave, entityType: t, key: key, previous: prev, counter: prevCounter})
	domain.MarkPersisted(e)
	b.records[key] = domain.CloneEntity(e)
	return e, nil
}

// Delete removes the record stored under e's key and reports whether one existed.
func (s *Store) Delete(e domain.Entity) (bool, error) {
	if isNil(e) {
		return false, domain.ErrNilEntity
	}
	key, err := domain.KeyOf(e)
	if err != nil {
		return false, err
	}
	if key == nil {
		return false, nil
	}
	t := e.EntityType()

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[t]
	if !ok {
		return false, nil
	}
	prev, ok := b.records[key]
	if !ok {
		return false, nil
	}
	s.logLocked(undoRecord{action: actionDelete, entityType: t, key: key, previous: prev, counter: b.counter})
	delete(b.records, key)
	domain.MarkDeleted(e)
	return true, nil
}

func matchAll(entities []domain.Entity, keep func(domain.Entity) bool) []domain.Entity {
	out := make([]domain.Entity, 0, len(entities))
	for _, e := range entities {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func isNil(e domain.Entity) bool {
	if e == nil {
		return true
	}
	v := reflect.ValueOf(e)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
