package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Runner is the type-erased view of a Definition held by a Registry.
type Runner interface {
	Name() string
	Descriptor() Descriptor
	RunJSON(data []byte, opts ...RunOption) Report
}

var _ Runner = (*Definition[struct{}, struct{}])(nil)

// Registry stores command definitions by name. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]Runner
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[string]Runner)}
}

// Register adds def, rejecting empty and duplicate names.
func (r *Registry) Register(def Runner) error {
	if r == nil {
		return errors.New("registry is required")
	}
	if def == nil {
		return errors.New("command definition is required")
	}
	name := strings.TrimSpace(def.Name())
	if name == "" {
		return ErrNameRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.definitions[name]; exists {
		return fmt.Errorf("%w: %s", ErrCommandRegistered, name)
	}
	r.definitions[name] = def
	return nil
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[name]
	return def, ok
}

// Descriptors lists every registered command sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.definitions))
	for _, def := range r.definitions {
		out = append(out, def.Descriptor())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunJSON runs the command registered under name with JSON inputs.
func (r *Registry) RunJSON(name string, data []byte, opts ...RunOption) (Report, error) {
	def, ok := r.Lookup(name)
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", ErrCommandUnknown, name)
	}
	return def.RunJSON(data, opts...), nil
}

// Lookup returns the typed definition registered under name.
func Lookup[I, R any](r *Registry, name string) (*Definition[I, R], bool) {
	def, ok := r.Lookup(name)
	if !ok {
		return nil, false
	}
	typed, ok := def.(*Definition[I, R])
	return typed, ok
}
