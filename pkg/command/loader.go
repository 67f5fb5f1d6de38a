package command

import (
	"fmt"

	"commandcore/pkg/domain"
)

// LoadSpec declares an entity to fetch before execute: the value of
// InputField is used as the primary key of EntityType and the result is bound
// under Target, which defaults to InputField.
//
// A Required load fails with not_found when the key is missing or names no
// stored record. An optional load is left unbound in both cases and adds no
// error.
type LoadSpec struct {
	EntityType domain.EntityType `json:"entity_type"`
	InputField string            `json:"input_field"`
	Target     string            `json:"target"`
	Required   bool              `json:"required"`
}

// Require declares a required load.
func Require(t domain.EntityType, inputField, target string) LoadSpec {
	return LoadSpec{EntityType: t, InputField: inputField, Target: target, Required: true}
}

// Optional declares an optional load.
func Optional(t domain.EntityType, inputField, target string) LoadSpec {
	return LoadSpec{EntityType: t, InputField: inputField, Target: target}
}

// EntityLoader resolves LoadSpecs against repositories. It only reads.
type EntityLoader struct {
	Repositories func(domain.EntityType) (domain.Repository, error)
}

// Load fetches every spec from inputs. Required misses are reported as
// not_found records and every spec is tried; the returned error is reserved for declarations that cannot be
// evaluated at all, such as an input field that does not exist.
func (l EntityLoader) Load(inputs any, specs []LoadSpec) (map[string]domain.Entity, []domain.ErrorRecord, error) {
	bound := make(map[string]domain.Entity, len(specs))
	var records []domain.ErrorRecord
	for _, spec := range specs {
		target := spec.Target
		if target == "" {
			target = spec.InputField
		}
		raw, ok := domain.FieldValue(inputs, spec.InputField)
		if !ok {
			return bound, records, fmt.Errorf("%w: %T has no field %q", ErrLoadConfig, inputs, spec.InputField)
		}
		key, err := domain.NormalizeKey(raw)
		if err != nil {
			return bound, records, fmt.Errorf("%w: field %q: %v", ErrLoadConfig, spec.InputField, err)
		}
		if key == nil {
			if spec.Required {
				records = append(records, notFound(spec, nil, fmt.Sprintf("%s is required", spec.InputField)))
			}
			continue
		}
		if l.Repositories == nil {
			return bound, records, fmt.Errorf("%w: %s", domain.ErrNoRepository, spec.EntityType)
		}
		repo, err := l.Repositories(spec.EntityType)
		if err != nil {
			return bound, records, err
		}
		e, found := repo.Find(spec.EntityType, key)
		if !found {
			if !spec.Required {
				continue
			}
			records = append(records, notFound(spec, key, fmt.Sprintf("%s not found for %s=%v", spec.EntityType, spec.InputField, key)))
			continue
		}
		bound[target] = e
	}
	return bound, records, nil
}

func notFound(spec LoadSpec, key any, message string) domain.ErrorRecord {
	return domain.NotFoundError([]string{spec.InputField}, message, map[string]any{
		"entity_type": string(spec.EntityType),
		"key":         key,
		"target":      spec.Target,
	})
}
