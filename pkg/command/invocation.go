package command

import (
	"context"
	"fmt"

	"commandcore/pkg/domain"
)

// InputValidator is implemented by input types that check themselves. Its
// records are added before any registered validator runs; records without a
// category are treated as fatal data errors.
type InputValidator interface {
	ValidateInputs() []domain.ErrorRecord
}

// Transition is delivered to run observers on every state change.
type Transition struct {
	Command      string
	InvocationID string
	RuntimePath  []string
	From         State
	To           State
}

// Observer receives transitions from every invocation it is attached to,
// including subcommands.
type Observer func(Transition)

// RunOption configures a single Run.
type RunOption func(*runConfig)

type runConfig struct {
	ctx       context.Context
	repo      domain.Repository
	registry  *domain.TypeRegistry
	id        string
	path      []string
	observers []Observer
}

// WithContext attaches ctx to the invocation; execute functions read it via
// Invocation.Context.
func WithContext(ctx context.Context) RunOption {
	return func(c *runConfig) {
		if ctx != nil {
			c.ctx = ctx
		}
	}
}

// UsingRepository sets the repository for this run.
func UsingRepository(repo domain.Repository) RunOption {
	return func(c *runConfig) { c.repo = repo }
}

// UsingRegistry sets the type registry for this run.
func UsingRegistry(registry *domain.TypeRegistry) RunOption {
	return func(c *runConfig) { c.registry = registry }
}

// WithInvocationID tags the run with an identifier for logs and traces.
func WithInvocationID(id string) RunOption {
	return func(c *runConfig) { c.id = id }
}

// ObserveTransitions attaches an observer. Observer panics are discarded.
func ObserveTransitions(o Observer) RunOption {
	return func(c *runConfig) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// Invocation is one execution of a Definition. It is owned by the goroutine
// that called Run and must not be shared.
type Invocation[I, R any] struct {
	def     *Definition[I, R]
	cfg     runConfig
	inputs  I
	state   State
	history []State
	errors  *domain.ErrorCollection
	loaded  map[string]domain.Entity
	result  R
	halted  bool
}

func (d *Definition[I, R]) newInvocation(inputs I, opts []RunOption) *Invocation[I, R] {
	cfg := runConfig{ctx: context.Background()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.repo == nil {
		cfg.repo = d.repo
	}
	if cfg.registry == nil {
		cfg.registry = d.registry
	}
	if cfg.registry == nil {
		cfg.registry = domain.DefaultRegistry()
	}
	return &Invocation[I, R]{
		def:     d,
		cfg:     cfg,
		inputs:  inputs,
		state:   StateInitialized,
		history: []State{StateInitialized},
		errors:  &domain.ErrorCollection{},
		loaded:  make(map[string]domain.Entity),
	}
}

// Name returns the command name.
func (inv *Invocation[I, R]) Name() string { return inv.def.name }

// ID returns the invocation identifier, empty unless one was supplied.
func (inv *Invocation[I, R]) ID() string { return inv.cfg.id }

// Context returns the context passed with WithContext, or context.Background.
func (inv *Invocation[I, R]) Context() context.Context { return inv.cfg.ctx }

// Inputs returns the invocation inputs.
func (inv *Invocation[I, R]) Inputs() I { return inv.inputs }

// State returns the current lifecycle state.
func (inv *Invocation[I, R]) State() State { return inv.state }

// History lists every state entered so far, in order.
func (inv *Invocation[I, R]) History() []State {
	return append([]State(nil), inv.history...)
}

// RuntimePath lists the names of the commands that started this one,
// outermost first. It is empty for top-level invocations.
func (inv *Invocation[I, R]) RuntimePath() []string {
	return append([]string(nil), inv.cfg.path...)
}

// Errors returns a copy of the errors recorded so far.
func (inv *Invocation[I, R]) Errors() *domain.ErrorCollection { return inv.errors.Clone() }

// HasErrors reports whether any error was recorded.
func (inv *Invocation[I, R]) HasErrors() bool { return inv.errors.HasErrors() }

// Halted reports whether the invocation was told to stop.
func (inv *Invocation[I, R]) Halted() bool { return inv.halted }

// Registry returns the type registry in effect.
func (inv *Invocation[I, R]) Registry() *domain.TypeRegistry { return inv.cfg.registry }

// Repository returns the repository supplied to the run, or the registry's
// default repository. It is nil when neither exists.
func (inv *Invocation[I, R]) Repository() domain.Repository {
	if inv.cfg.repo != nil {
		return inv.cfg.repo
	}
	repo, _ := inv.cfg.registry.RepositoryFor("")
	return repo
}

// RepositoryFor resolves the repository serving entity type t.
func (inv *Invocation[I, R]) RepositoryFor(t domain.EntityType) (domain.Repository, error) {
	if inv.cfg.repo != nil {
		return inv.cfg.repo, nil
	}
	if repo, ok := inv.cfg.registry.RepositoryFor(t); ok {
		return repo, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrNoRepository, t)
}

// Loaded returns the entity bound to target by the load phase.
func (inv *Invocation[I, R]) Loaded(target string) (domain.Entity, bool) {
	e, ok := inv.loaded[target]
	return e, ok
}

// Bind makes e available under target, as if it had been loaded.
func (inv *Invocation[I, R]) Bind(target string, e domain.Entity) {
	inv.loaded[target] = e
}

// AddError records rec. Records added after the invocation finished are discarded.
func (inv *Invocation[I, R]) AddError(rec domain.ErrorRecord) {
	if inv.state.Terminal() {
		return
	}
	inv.errors.Add(rec)
}

// AddInputError records a fatal data error for the input at path, a
// dot-separated field chain such as "user.email".
func (inv *Invocation[I, R]) AddInputError(path, symbol, message string, opts ...ErrorOption) {
	rec := domain.DataError(splitPath(path), symbol, message)
	for _, opt := range opts {
		opt(&rec)
	}
	inv.AddError(rec)
}

// AddRuntimeError records a runtime error without stopping the invocation.
// The invocation still fails once it finishes.
func (inv *Invocation[I, R]) AddRuntimeError(symbol, message string, opts ...ErrorOption) {
	rec := domain.RuntimeError(symbol, message)
	for _, opt := range opts {
		opt(&rec)
	}
	inv.AddError(rec)
}

// HaltWithRuntimeError records a fatal runtime error and stops the
// invocation. Return the result from the calling hook or execute function.
func (inv *Invocation[I, R]) HaltWithRuntimeError(symbol, message string, opts ...ErrorOption) error {
	inv.AddRuntimeError(symbol, message, append(opts, AsFatal())...)
	inv.halted = true
	return halt(symbol)
}

// Halt stops the invocation without recording an error of its own.
func (inv *Invocation[I, R]) Halt() error {
	inv.halted = true
	return halt("")
}

// MergeErrors copies errs into this invocation, prefixing each runtime path
// with this command's name.
func (inv *Invocation[I, R]) MergeErrors(errs *domain.ErrorCollection) {
	if inv.state.Terminal() {
		return
	}
	inv.errors.Merge(errs, inv.def.name)
}

// childConfig derives the run configuration for a subcommand.
func (inv *Invocation[I, R]) childConfig() []RunOption {
	path := append(append([]string(nil), inv.cfg.path...), inv.def.name)
	return []RunOption{func(c *runConfig) {
		c.ctx = inv.cfg.ctx
		c.repo = inv.cfg.repo
		c.registry = inv.cfg.registry
		c.id = inv.cfg.id
		c.path = path
		c.observers = append([]Observer(nil), inv.cfg.observers...)
	}}
}

// Loader is satisfied by every Invocation; it lets Loaded accept any of them.
type Loader interface {
	Loaded(target string) (domain.Entity, bool)
}

// Loaded returns the entity bound to target asserted to T.
func Loaded[T domain.Entity](inv Loader, target string) (T, bool) {
	var zero T
	e, ok := inv.Loaded(target)
	if !ok {
		return zero, false
	}
	typed, ok := e.(T)
	return typed, ok
}
