// Package domain defines the persistent entity contract, the error model, and
// the repository abstractions shared by commands and storage backends.
package domain

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"time"
)

// EntityType identifies a registered kind of entity and names its storage bucket.
type EntityType string

// Entity is implemented by every persistable record. Embedding Base or
// StringBase satisfies all methods except EntityType.
//
// Entities must be pointer types so repositories can assign keys and
// bookkeeping in place.
type Entity interface {
	EntityType() EntityType
	PrimaryKey() any
	SetPrimaryKey(key any) error
	Meta() *Record
}

// Stamper is implemented by entities that track creation and update times.
// Repositories call Stamp on every successful Save.
type Stamper interface {
	Stamp(now time.Time)
}

// Cloner lets entities holding slices or maps provide a deep copy. Entities
// without it are copied field by field.
type Cloner interface {
	CloneEntity() Entity
}

// Sentinel errors shared by entity helpers and repository implementations.
var (
	ErrNilEntity  = errors.New("entity is nil")
	ErrInvalidKey = errors.New("invalid primary key")
)

// Record carries repository bookkeeping for one entity instance: whether it
// has been persisted, the field values observed at the last persist, and the
// association cache slots populated by the association resolver.
type Record struct {
	persisted    bool
	original     map[string]any
	associations map[string]any
}

// Meta exposes the bookkeeping record; embedding Record promotes it.
func (r *Record) Meta() *Record { return r }

// Persisted reports whether the entity has been saved and not deleted since.
func (r *Record) Persisted() bool { return r.persisted }

// CachedAssociation returns the cached value for an association. A cached
// absent value reports (nil, true).
func (r *Record) CachedAssociation(name string) (any, bool) {
	if r.associations == nil {
		return nil, false
	}
	v, ok := r.associations[name]
	return v, ok
}

// CacheAssociation stores value in the association slot name.
func (r *Record) CacheAssociation(name string, value any) {
	if r.associations == nil {
		r.associations = make(map[string]any)
	}
	r.associations[name] = value
}

// ForgetAssociation clears a single association slot.
func (r *Record) ForgetAssociation(name string) {
	delete(r.associations, name)
}

// ForgetAssociations clears every association slot.
func (r *Record) ForgetAssociations() {
	r.associations = nil
}

func (r *Record) clone() Record {
	cp := Record{persisted: r.persisted}
	if r.original != nil {
		cp.original = make(map[string]any, len(r.original))
		for k, v := range r.original {
			cp.original[k] = copyValue(v)
		}
	}
	return cp
}

// Base is the default embedded entity header with an integer primary key.
type Base struct {
	Record    `json:"-"`
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PrimaryKey returns the ID, or nil while unassigned.
func (b *Base) PrimaryKey() any {
	if b.ID == 0 {
		return nil
	}
	return b.ID
}

// SetPrimaryKey assigns an integer key; numeric strings are accepted.
func (b *Base) SetPrimaryKey(key any) error {
	normalized, err := NormalizeKey(key)
	if err != nil {
		return err
	}
	switch k := normalized.(type) {
	case nil:
		b.ID = 0
	case int64:
		b.ID = k
	case string:
		n, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not an integer", ErrInvalidKey, k)
		}
		b.ID = n
	}
	return nil
}

// Stamp records creation and update times.
func (b *Base) Stamp(now time.Time) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

// StringBase is an embedded entity header with a string primary key.
type StringBase struct {
	Record    `json:"-"`
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PrimaryKey returns the ID, or nil while unassigned.
func (b *StringBase) PrimaryKey() any {
	if b.ID == "" {
		return nil
	}
	return b.ID
}

// SetPrimaryKey assigns a string key; counter values are formatted in base 10.
func (b *StringBase) SetPrimaryKey(key any) error {
	normalized, err := NormalizeKey(key)
	if err != nil {
		return err
	}
	switch k := normalized.(type) {
	case nil:
		b.ID = ""
	case int64:
		b.ID = strconv.FormatInt(k, 10)
	case string:
		b.ID = k
	}
	return nil
}

// Stamp records creation and update times.
func (b *StringBase) Stamp(now time.Time) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

// NormalizeKey maps any integer kind to int64 and keeps strings, so keys
// compare equal regardless of the integer width callers used. Empty strings
// and zero integers are treated as "no key" and normalize to nil.
func NormalizeKey(key any) (any, error) {
	if key == nil {
		return nil, nil
	}
	v := reflect.ValueOf(key)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v.Int() == 0 {
			return nil, nil
		}
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := v.Uint()
		if u == 0 {
			return nil, nil
		}
		if u > 1<<63-1 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrInvalidKey, u)
		}
		return int64(u), nil
	case reflect.String:
		if v.String() == "" {
			return nil, nil
		}
		return v.String(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrInvalidKey, key)
	}
}

// KeyOf returns the normalized primary key of e.
func KeyOf(e Entity) (any, error) {
	if e == nil {
		return nil, ErrNilEntity
	}
	return NormalizeKey(e.PrimaryKey())
}

// CompareKeys orders normalized keys: integers numerically, strings
// lexically, integers before strings.
func CompareKeys(a, b any) int {
	switch x := a.(type) {
	case int64:
		y, ok := b.(int64)
		if !ok {
			return -1
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case string:
		y, ok := b.(string)
		if !ok {
			return 1
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	return 0
}

// SortByKey orders entities by primary key in place.
func SortByKey(entities []Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		a, _ := KeyOf(entities[i])
		b, _ := KeyOf(entities[j])
		return CompareKeys(a, b) < 0
	})
}

// CloneEntity returns an independent copy of e with its own bookkeeping
// record. Association caches are not copied.
func CloneEntity(e Entity) Entity {
	if e == nil {
		return nil
	}
	var cp Entity
	if c, ok := e.(Cloner); ok {
		cp = c.CloneEntity()
	} else {
		cp = shallowCopy(e)
	}
	*cp.Meta() = e.Meta().clone()
	return cp
}

func shallowCopy(e Entity) Entity {
	v := reflect.ValueOf(e)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return e
	}
	cp := reflect.New(v.Elem().Type())
	cp.Elem().Set(v.Elem())
	if out, ok := cp.Interface().(Entity); ok {
		return out
	}
	return e
}

// MarkPersisted flags e as persisted and snapshots its current field values
// so later changes show up as dirty.
func MarkPersisted(e Entity) {
	m := e.Meta()
	m.persisted = true
	m.original = snapshotValues(e)
}

// MarkDeleted clears the persisted flag and stops dirty tracking.
func MarkDeleted(e Entity) {
	m := e.Meta()
	m.persisted = false
	m.original = nil
}

// DirtyFields lists the fields changed since the last persist, sorted by
// name. Entities that were never persisted have no dirty fields.
func DirtyFields(e Entity) []string {
	m := e.Meta()
	if !m.persisted {
		return nil
	}
	var dirty []string
	for name, current := range FieldValues(e) {
		if !ValuesEqual(current, m.original[name]) {
			dirty = append(dirty, name)
		}
	}
	sort.Strings(dirty)
	return dirty
}

// IsDirty reports whether any field changed since the last persist.
func IsDirty(e Entity) bool {
	return len(DirtyFields(e)) > 0
}

// OriginalValues returns the persisted values of the dirty fields.
func OriginalValues(e Entity) map[string]any {
	dirty := DirtyFields(e)
	if len(dirty) == 0 {
		return nil
	}
	out := make(map[string]any, len(dirty))
	for _, name := range dirty {
		out[name] = copyValue(e.Meta().original[name])
	}
	return out
}

func snapshotValues(e Entity) map[string]any {
	values := FieldValues(e)
	for k, v := range values {
		values[k] = copyValue(v)
	}
	return values
}
