package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrEntityTypeRegistered is returned when an entity type is registered twice.
var ErrEntityTypeRegistered = errors.New("entity type already registered")

// AssociationKind enumerates supported relationships.
type AssociationKind string

// Association kinds.
const (
	HasMany   AssociationKind = "has_many"
	BelongsTo AssociationKind = "belongs_to"
	HasOne    AssociationKind = "has_one"
)

// Association declares a named relationship from the owning entity type to
// Related. Related is referenced by name and resolved when first used, so
// types may reference each other before both are registered.
//
// For HasMany and HasOne the ForeignKey field lives on the related type and
// holds the owner's key. For BelongsTo it lives on the owner and holds the
// related key.
type Association struct {
	Name       string          `json:"name"`
	Kind       AssociationKind `json:"kind"`
	Related    EntityType      `json:"related"`
	ForeignKey string          `json:"foreign_key"`
}

// Descriptor registers an entity type.
type Descriptor struct {
	Type         EntityType
	New          func() Entity
	KeyField     string
	Associations []Association
}

// Association looks up a declared association by name.
func (d Descriptor) Association(name string) (Association, bool) {
	for _, a := range d.Associations {
		if a.Name == name {
			return a, true
		}
	}
	return Association{}, false
}

func (d Descriptor) validate() error {
	if d.Type == "" {
		return errors.New("entity type name required")
	}
	if d.New == nil {
		return fmt.Errorf("entity type %s: constructor required", d.Type)
	}
	if got := d.New().EntityType(); got != d.Type {
		return fmt.Errorf("entity type %s: constructor builds %s", d.Type, got)
	}
	names := make(map[string]bool, len(d.Associations))
	for _, a := range d.Associations {
		if a.Name == "" || a.Related == "" || a.ForeignKey == "" {
			return fmt.Errorf("entity type %s: association requires name, related type, and foreign key", d.Type)
		}
		switch a.Kind {
		case HasMany, BelongsTo, HasOne:
		default:
			return fmt.Errorf("entity type %s: association %s has unknown kind %q", d.Type, a.Name, a.Kind)
		}
		if names[a.Name] {
			return fmt.Errorf("entity type %s: duplicate association %s", d.Type, a.Name)
		}
		names[a.Name] = true
	}
	return nil
}

// TypeRegistry maps entity type names to descriptors and to the repository
// bound for each type. It is safe for concurrent use.
type TypeRegistry struct {
	mu       sync.RWMutex
	types    map[EntityType]Descriptor
	repos    map[EntityType]Repository
	fallback Repository
}

// NewTypeRegistry returns an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		types: make(map[EntityType]Descriptor),
		repos: make(map[EntityType]Repository),
	}
}

// Register adds d, defaulting KeyField to "id".
func (r *TypeRegistry) Register(d Descriptor) error {
	if err := d.validate(); err != nil {
		return err
	}
	if d.KeyField == "" {
		d.KeyField = "id"
	}
	d.Associations = append([]Association(nil), d.Associations...)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[d.Type]; exists {
		return fmt.Errorf("%w: %s", ErrEntityTypeRegistered, d.Type)
	}
	r.types[d.Type] = d
	return nil
}

// Lookup returns the descriptor for t.
func (r *TypeRegistry) Lookup(t EntityType) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.types[t]
	return d, ok
}

// Association returns the association name declared on t.
func (r *TypeRegistry) Association(t EntityType, name string) (Association, bool) {
	d, ok := r.Lookup(t)
	if !ok {
		return Association{}, false
	}
	return d.Association(name)
}

// Types lists registered type names in sorted order.
func (r *TypeRegistry) Types() []EntityType {
	r.mu.RLock()
	out := make([]EntityType, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// New instantiates an empty entity of type t.
func (r *TypeRegistry) New(t EntityType) (Entity, error) {
	d, ok := r.Lookup(t)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, t)
	}
	return d.New(), nil
}

// Decode unmarshals a JSON document into a new entity of type t.
func (r *TypeRegistry) Decode(t EntityType, data []byte) (Entity, error) {
	e, err := r.New(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return e, nil
}

// BindRepository routes lookups for t to repo.
func (r *TypeRegistry) BindRepository(t EntityType, repo Repository) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repos[t] = repo
}

// SetDefaultRepository sets the repository used for types without a binding.
func (r *TypeRegistry) SetDefaultRepository(repo Repository) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = repo
}

// RepositoryFor returns the repository bound for t, falling back to the default.
func (r *TypeRegistry) RepositoryFor(t EntityType) (Repository, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if repo, ok := r.repos[t]; ok {
		return repo, true
	}
	return r.fallback, r.fallback != nil
}

var defaultRegistry = NewTypeRegistry()

// DefaultRegistry returns the process-wide registry used when callers do not
// supply their own.
func DefaultRegistry() *TypeRegistry { return defaultRegistry }

// RegisterEntityType registers d with the process-wide registry.
func RegisterEntityType(d Descriptor) error { return defaultRegistry.Register(d) }

// LookupEntityType consults the process-wide registry.
func LookupEntityType(t EntityType) (Descriptor, bool) { return defaultRegistry.Lookup(t) }

// BindRepository binds repo for t in the process-wide registry.
func BindRepository(t EntityType, repo Repository) { defaultRegistry.BindRepository(t, repo) }

// SetDefaultRepository sets the process-wide fallback repository.
func SetDefaultRepository(repo Repository) { defaultRegistry.SetDefaultRepository(repo) }

// RepositoryFor resolves the repository for t from the process-wide registry.
func RepositoryFor(t EntityType) (Repository, bool) { return defaultRegistry.RepositoryFor(t) }
