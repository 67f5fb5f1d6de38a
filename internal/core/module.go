package core

import (
	"errors"
	"fmt"
	"sort"

	"commandcore/pkg/command"
	"commandcore/pkg/domain"
)

// ErrModuleRegistered is returned when a module name is installed twice.
var ErrModuleRegistered = errors.New("module already registered")

// Module contributes entity types and commands to a Service at startup.
type Module interface {
	Name() string
	Version() string
	Register(registry *ModuleRegistry) error
}

// ModuleRegistry accumulates module contributions during registration.
// Nothing is applied to the service until Register returns without error.
type ModuleRegistry struct {
	entities []domain.Descriptor
	commands []command.Runner
}

// NewModuleRegistry constructs an empty module registry.
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{}
}

// RegisterEntityType adds an entity type descriptor.
func (r *ModuleRegistry) RegisterEntityType(d domain.Descriptor) {
	r.entities = append(r.entities, d)
}

// RegisterCommand adds a command definition.
func (r *ModuleRegistry) RegisterCommand(def command.Runner) {
	if def == nil {
		return
	}
	r.commands = append(r.commands, def)
}

// EntityTypes returns the registered entity type names.
func (r *ModuleRegistry) EntityTypes() []domain.EntityType {
	out := make([]domain.EntityType, 0, len(r.entities))
	for _, d := range r.entities {
		out = append(out, d.Type)
	}
	return out
}

// Commands returns the registered command names.
func (r *ModuleRegistry) Commands() []string {
	out := make([]string, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c.Name())
	}
	return out
}

// ModuleMetadata describes an installed module.
type ModuleMetadata struct {
	Name        string              `json:"name"`
	Version     string              `json:"version"`
	EntityTypes []domain.EntityType `json:"entity_types"`
	Commands    []string            `json:"commands"`
}

func (m ModuleMetadata) clone() ModuleMetadata {
	m.EntityTypes = append([]domain.EntityType(nil), m.EntityTypes...)
	m.Commands = append([]string(nil), m.Commands...)
	return m
}

// InstallModule registers module's entity types and commands. A module whose
// contributions collide with already installed ones is rejected as a whole.
func (s *Service) InstallModule(module Module) (ModuleMetadata, error) {
	if module == nil {
		return ModuleMetadata{}, fmt.Errorf("module cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.modules[module.Name()]; ok {
		return ModuleMetadata{}, fmt.Errorf("%w: %s", ErrModuleRegistered, module.Name())
	}

	registry := NewModuleRegistry()
	if err := module.Register(registry); err != nil {
		return ModuleMetadata{}, fmt.Errorf("register module %s: %w", module.Name(), err)
	}
	scratchTypes, scratchCommands := domain.NewTypeRegistry(), command.NewRegistry()
	for _, d := range registry.entities {
		if err := scratchTypes.Register(d); err != nil {
			return ModuleMetadata{}, fmt.Errorf("module %s: %w", module.Name(), err)
		}
		if _, exists := s.registry.Lookup(d.Type); exists {
			return ModuleMetadata{}, fmt.Errorf("module %s: %w: %s", module.Name(), domain.ErrEntityTypeRegistered, d.Type)
		}
	}
	for _, c := range registry.commands {
		if err := scratchCommands.Register(c); err != nil {
			return ModuleMetadata{}, fmt.Errorf("module %s: %w", module.Name(), err)
		}
		if _, exists := s.commands.Lookup(c.Name()); exists {
			return ModuleMetadata{}, fmt.Errorf("module %s: %w: %s", module.Name(), command.ErrCommandRegistered, c.Name())
		}
	}

	for _, d := range registry.entities {
		if err := s.registry.Register(d); err != nil {
			return ModuleMetadata{}, fmt.Errorf("module %s: %w", module.Name(), err)
		}
	}
	for _, c := range registry.commands {
		if err := s.commands.Register(c); err != nil {
			return ModuleMetadata{}, fmt.Errorf("module %s: %w", module.Name(), err)
		}
	}

	meta := ModuleMetadata{
		Name:        module.Name(),
		Version:     module.Version(),
		EntityTypes: registry.EntityTypes(),
		Commands:    registry.Commands(),
	}
	sort.Strings(meta.Commands)
	s.modules[meta.Name] = meta
	s.opts.logger.Info("module installed",
		"module", meta.Name,
		"version", meta.Version,
		"entity_types", len(meta.EntityTypes),
		"commands", len(meta.Commands),
	)
	return meta.clone(), nil
}
