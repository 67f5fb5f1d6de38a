// Package association resolves the named relationships declared on entity
// types and caches the results on each owning instance.
package association

import (
	"errors"
	"fmt"
	"sync"

	"commandcore/pkg/domain"
)

// Resolver errors.
var (
	ErrUnknownAssociation = errors.New("unknown association")
	ErrKindMismatch       = errors.New("association kind mismatch")
	ErrAmbiguousHasOne    = errors.New("has_one association matched more than one record")
	ErrMixedOwners        = errors.New("owners must share one entity type")
)

type resolvedKey struct {
	owner domain.EntityType
	name  string
}

type resolved struct {
	assoc   domain.Association
	related domain.Descriptor
}

// Resolver loads associated entities through a repository. Related types are
// looked up in the registry the first time an association is used and the
// result is memoised for later calls.
type Resolver struct {
	repo     domain.Repository
	registry *domain.TypeRegistry

	mu       sync.RWMutex
	resolved map[resolvedKey]resolved
}

// NewResolver builds a resolver. A nil repo defers to the registry's
// repository bindings; a nil registry selects the process-wide one.
func NewResolver(repo domain.Repository, registry *domain.TypeRegistry) *Resolver {
	if registry == nil {
		registry = domain.DefaultRegistry()
	}
	return &Resolver{repo: repo, registry: registry, resolved: make(map[resolvedKey]resolved)}
}

func (r *Resolver) resolve(owner domain.EntityType, name string) (resolved, error) {
	key := resolvedKey{owner: owner, name: name}
	r.mu.RLock()
	res, ok := r.resolved[key]
	r.mu.RUnlock()
	if ok {
		return res, nil
	}
	assoc, ok := r.registry.Association(owner, name)
	if !ok {
		return resolved{}, fmt.Errorf("%w: %s.%s", ErrUnknownAssociation, owner, name)
	}
	related, ok := r.registry.Lookup(assoc.Related)
	if !ok {
		return resolved{}, fmt.Errorf("association %s.%s: %w: %s", owner, name, domain.ErrUnknownEntityType, assoc.Related)
	}
	res = resolved{assoc: assoc, related: related}
	r.mu.Lock()
	r.resolved[key] = res
	r.mu.Unlock()
	return res, nil
}

func (r *Resolver) repository(t domain.EntityType) (domain.Repository, error) {
	if r.repo != nil {
		return r.repo, nil
	}
	if repo, ok := r.registry.RepositoryFor(t); ok {
		return repo, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrNoRepository, t)
}

func (r *Resolver) lookup(owner domain.Entity, name string, kinds ...domain.AssociationKind) (resolved, domain.Repository, error) {
	if owner == nil {
		return resolved{}, nil, domain.ErrNilEntity
	}
	res, err := r.resolve(owner.EntityType(), name)
	if err != nil {
		return resolved{}, nil, err
	}
	if !kindIn(res.assoc.Kind, kinds) {
		return resolved{}, nil, fmt.Errorf("%w: %s.%s is %s", ErrKindMismatch, owner.EntityType(), name, res.assoc.Kind)
	}
	repo, err := r.repository(res.assoc.Related)
	if err != nil {
		return resolved{}, nil, err
	}
	return res, repo, nil
}

// Many returns the records of a has_many association, querying on first
// access and serving the cached slice afterwards.
func (r *Resolver) Many(owner domain.Entity, name string) ([]domain.Entity, error) {
	res, repo, err := r.lookup(owner, name, domain.HasMany)
	if err != nil {
		return nil, err
	}
	if cached, ok := owner.Meta().CachedAssociation(name); ok {
		return cached.([]domain.Entity), nil
	}
	key, err := domain.KeyOf(owner)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return []domain.Entity{}, nil
	}
	children := repo.FindBy(res.assoc.Related, domain.Criteria{res.assoc.ForeignKey: key})
	if children == nil {
		children = []domain.Entity{}
	}
	owner.Meta().CacheAssociation(name, children)
	return children, nil
}

// One returns the record of a belongs_to or has_one association. The boolean
// is false when no related record exists.
func (r *Resolver) One(owner domain.Entity, name string) (domain.Entity, bool, error) {
	res, repo, err := r.lookup(owner, name, domain.BelongsTo, domain.HasOne)
	if err != nil {
		return nil, false, err
	}
	if cached, ok := owner.Meta().CachedAssociation(name); ok {
		if cached == nil {
			return nil, false, nil
		}
		return cached.(domain.Entity), true, nil
	}

	var found domain.Entity
	switch res.assoc.Kind {
	case domain.BelongsTo:
		fk, _ := domain.FieldValue(owner, res.assoc.ForeignKey)
		if e, ok := repo.Find(res.assoc.Related, fk); ok {
			found = e
		}
	case domain.HasOne:
		key, err := domain.KeyOf(owner)
		if err != nil {
			return nil, false, err
		}
		if key == nil {
			return nil, false, nil
		}
		matches := repo.FindBy(res.assoc.Related, domain.Criteria{res.assoc.ForeignKey: key})
		if len(matches) > 1 {
			return nil, false, fmt.Errorf("%w: %s.%s", ErrAmbiguousHasOne, owner.EntityType(), name)
		}
		if len(matches) == 1 {
			found = matches[0]
		}
	}
	owner.Meta().CacheAssociation(name, found)
	return found, found != nil, nil
}

// Assign seeds the cache for name. Assigning a belongs_to value also copies
// the related key into the owner's foreign key field; nil clears it.
func (r *Resolver) Assign(owner domain.Entity, name string, value any) error {
	res, _, err := r.lookup(owner, name, domain.HasMany, domain.BelongsTo, domain.HasOne)
	if err != nil {
		return err
	}
	switch res.assoc.Kind {
	case domain.HasMany:
		var children []domain.Entity
		switch v := value.(type) {
		case nil:
			children = []domain.Entity{}
		case []domain.Entity:
			children = v
		default:
			return fmt.Errorf("assign %s.%s: want []domain.Entity, got %T", owner.EntityType(), name, value)
		}
		owner.Meta().CacheAssociation(name, children)
		return nil
	default:
		var related domain.Entity
		if value != nil {
			e, ok := value.(domain.Entity)
			if !ok {
				return fmt.Errorf("assign %s.%s: want domain.Entity, got %T", owner.EntityType(), name, value)
			}
			if e.EntityType() != res.assoc.Related {
				return fmt.Errorf("assign %s.%s: want %s, got %s", owner.EntityType(), name, res.assoc.Related, e.EntityType())
			}
			related = e
		}
		if res.assoc.Kind == domain.BelongsTo {
			var fk any
			if related != nil {
				fk = related.PrimaryKey()
			}
			if err := domain.SetFieldValue(owner, res.assoc.ForeignKey, fk); err != nil {
				return err
			}
		}
		owner.Meta().CacheAssociation(name, related)
		return nil
	}
}

// Reset drops the cached value of name so the next access queries again.
func (r *Resolver) Reset(owner domain.Entity, name string) {
	owner.Meta().ForgetAssociation(name)
}

func kindIn(k domain.AssociationKind, kinds []domain.AssociationKind) bool {
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// Many is the typed form of Resolver.Many.
func Many[T domain.Entity](r *Resolver, owner domain.Entity, name string) ([]T, error) {
	children, err := r.Many(owner, name)
	if err != nil {
		return nil, err
	}
	return domain.All[T](children), nil
}

// One is the typed form of Resolver.One.
func One[T domain.Entity](r *Resolver, owner domain.Entity, name string) (T, bool, error) {
	var zero T
	e, ok, err := r.One(owner, name)
	if err != nil || !ok {
		return zero, false, err
	}
	typed, ok := e.(T)
	if !ok {
		return zero, false, fmt.Errorf("%w: %s.%s holds %T", ErrKindMismatch, owner.EntityType(), name, e)
	}
	return typed, true, nil
}
