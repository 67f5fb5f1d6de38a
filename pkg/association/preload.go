package association

import (
	"fmt"

	"commandcore/pkg/domain"
)

// Preload resolves association name for every owner with a single repository
// query and seeds each owner's cache, so later Many/One calls are served
// without further queries. Results match what per-owner lazy loading returns.
func (r *Resolver) Preload(owners []domain.Entity, name string) error {
	if len(owners) == 0 {
		return nil
	}
	ownerType := owners[0].EntityType()
	for _, o := range owners {
		if o == nil {
			return domain.ErrNilEntity
		}
		if o.EntityType() != ownerType {
			return fmt.Errorf("%w: %s and %s", ErrMixedOwners, ownerType, o.EntityType())
		}
	}
	res, repo, err := r.lookup(owners[0], name, domain.HasMany, domain.HasOne, domain.BelongsTo)
	if err != nil {
		return err
	}
	if res.assoc.Kind == domain.BelongsTo {
		return r.preloadParents(owners, res, repo)
	}
	return r.preloadChildren(owners, res, repo)
}

// preloadChildren batches has_many and has_one associations: one query for
// every related record whose foreign key points at one of the owners.
func (r *Resolver) preloadChildren(owners []domain.Entity, res resolved, repo domain.Repository) error {
	keys := make([]any, 0, len(owners))
	seen := make(map[any]bool, len(owners))
	for _, o := range owners {
		k, err := domain.KeyOf(o)
		if err != nil {
			return err
		}
		if k != nil && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	grouped := make(map[any][]domain.Entity, len(keys))
	if len(keys) > 0 {
		for _, child := range domain.FindIn(repo, res.assoc.Related, res.assoc.ForeignKey, keys) {
			fk, _ := domain.FieldValue(child, res.assoc.ForeignKey)
			k, err := domain.NormalizeKey(fk)
			if err != nil || k == nil {
				continue
			}
			grouped[k] = append(grouped[k], child)
		}
	}

	if res.assoc.Kind != domain.HasMany {
		for _, o := range owners {
			k, _ := domain.KeyOf(o)
			if k != nil && len(grouped[k]) > 1 {
				return fmt.Errorf("%w: %s.%s", ErrAmbiguousHasOne, o.EntityType(), res.assoc.Name)
			}
		}
	}

	for _, o := range owners {
		k, _ := domain.KeyOf(o)
		children := cloneAll(grouped[k])
		if res.assoc.Kind == domain.HasMany {
			if k == nil {
				continue
			}
			o.Meta().CacheAssociation(res.assoc.Name, children)
			continue
		}
		if k == nil {
			continue
		}
		if len(children) == 0 {
			o.Meta().CacheAssociation(res.assoc.Name, nil)
			continue
		}
		o.Meta().CacheAssociation(res.assoc.Name, children[0])
	}
	return nil
}

// preloadParents batches belongs_to associations: one query for every
// related record referenced by an owner's foreign key.
func (r *Resolver) preloadParents(owners []domain.Entity, res resolved, repo domain.Repository) error {
	fks := make([]any, 0, len(owners))
	seen := make(map[any]bool, len(owners))
	for _, o := range owners {
		raw, _ := domain.FieldValue(o, res.assoc.ForeignKey)
		k, err := domain.NormalizeKey(raw)
		if err != nil {
			return err
		}
		if k != nil && !seen[k] {
			seen[k] = true
			fks = append(fks, k)
		}
	}

	byKey := make(map[any]domain.Entity, len(fks))
	if len(fks) > 0 {
		for _, parent := range domain.FindIn(repo, res.assoc.Related, res.related.KeyField, fks) {
			k, err := domain.KeyOf(parent)
			if err != nil || k == nil {
				continue
			}
			byKey[k] = parent
		}
	}

	for _, o := range owners {
		raw, _ := domain.FieldValue(o, res.assoc.ForeignKey)
		k, _ := domain.NormalizeKey(raw)
		var parent domain.Entity
		if p, ok := byKey[k]; ok {
			parent = domain.CloneEntity(p)
		}
		o.Meta().CacheAssociation(res.assoc.Name, parent)
	}
	return nil
}

func cloneAll(entities []domain.Entity) []domain.Entity {
	out := make([]domain.Entity, 0, len(entities))
	for _, e := range entities {
		out = append(out, domain.CloneEntity(e))
	}
	return out
}
