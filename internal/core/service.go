// Package core runs commands against a repository with invocation IDs,
// logging, tracing, metrics, audit and optional transaction scope. It also
// installs modules, selects storage from configuration and archives
// repository snapshots to blob storage.
package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"commandcore/internal/infra/persistence/memory"
	"commandcore/pkg/command"
	"commandcore/pkg/domain"
)

// ErrNotTransactional is reported when RunInTransaction is used with a
// repository that has no transaction control.
var ErrNotTransactional = errors.New("repository does not support transactions")

// Clock supplies timestamps for audit entries and run durations.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function into a Clock.
type ClockFunc func() time.Time

// Now returns the function's time, or the current UTC time when f is nil.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f()
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	clock    Clock
	logger   Logger
	metrics  MetricsRecorder
	tracer   Tracer
	audit    AuditRecorder
	registry *domain.TypeRegistry
	newID    func() string
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:  noopLogger{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		audit:   noopAuditRecorder{},
		newID:   uuid.NewString,
	}
}

// WithClock overrides the service clock.
func WithClock(clock Clock) Option {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger Logger) Option {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) Option {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithTypeRegistry sets the registry modules install entity types into.
// By default the repository's own registry is used when it exposes one.
func WithTypeRegistry(registry *domain.TypeRegistry) Option {
	return func(o *serviceOptions) {
		if registry != nil {
			o.registry = registry
		}
	}
}

// WithIDGenerator overrides invocation ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(o *serviceOptions) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// Service runs command definitions against one repository.
type Service struct {
	repo     domain.Repository
	registry *domain.TypeRegistry
	commands *command.Registry
	opts     serviceOptions

	// txMu is held from Begin until Commit or Rollback.
	txMu sync.Mutex

	mu      sync.RWMutex
	modules map[string]ModuleMetadata
}

type registryProvider interface {
	Registry() *domain.TypeRegistry
}

// NewService constructs a service backed by repo.
func NewService(repo domain.Repository, opts ...Option) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	registry := o.registry
	if registry == nil {
		if rp, ok := repo.(registryProvider); ok {
			registry = rp.Registry()
		}
	}
	if registry == nil {
		registry = domain.NewTypeRegistry()
	}
	return &Service{
		repo:     repo,
		registry: registry,
		commands: command.NewRegistry(),
		opts:     o,
		modules:  make(map[string]ModuleMetadata),
	}
}

// NewInMemoryService creates a service over a fresh transactional memory
// store sharing the service's type registry.
func NewInMemoryService(opts ...Option) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	registry := o.registry
	if registry == nil {
		registry = domain.NewTypeRegistry()
	}
	store := memory.NewTransactionalStore(memory.WithTypeRegistry(registry), memory.WithClock(o.clock.Now))
	return NewService(store, append(opts, WithTypeRegistry(registry))...)
}

// Repository returns the backing repository.
func (s *Service) Repository() domain.Repository { return s.repo }

// Registry returns the entity type registry.
func (s *Service) Registry() *domain.TypeRegistry { return s.registry }

// Commands returns the command registry modules install into.
func (s *Service) Commands() *command.Registry { return s.commands }

// Run executes def with the service's repository and registry. Observability
// hooks see every run; caller options are applied last.
func Run[I, R any](ctx context.Context, s *Service, def *command.Definition[I, R], inputs I, opts ...command.RunOption) command.Outcome[R] {
	run := s.begin(ctx, def.Name())
	outcome := def.Run(inputs, run.options(opts)...)
	run.finish(outcome.State(), outcome.Errors())
	return outcome
}

// RunInTransaction executes def inside a repository transaction. The
// transaction commits when the outcome succeeds and rolls back otherwise. A
// failed commit turns the outcome into an internal error.
//
// Transactions span the whole repository, so the service runs one
// transactional command at a time. A transaction opened outside the service
// makes Begin fail and the run reports an internal error; use
// RunInOpenTransaction to take part in a caller's transaction explicitly.
func RunInTransaction[I, R any](ctx context.Context, s *Service, def *command.Definition[I, R], inputs I, opts ...command.RunOption) command.Outcome[R] {
	run := s.begin(ctx, def.Name())
	tx, ok := s.repo.(domain.TxControl)
	if !ok {
		return failRun[R](run, def.Name(), ErrNotTransactional)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := tx.Begin(); err != nil {
		return failRun[R](run, def.Name(), fmt.Errorf("begin transaction: %w", err))
	}
	outcome := def.Run(inputs, run.options(opts)...)
	if !outcome.IsSuccess() {
		run.rollback(tx, nil)
		run.finish(outcome.State(), outcome.Errors())
		return outcome
	}
	if err := tx.Commit(); err != nil {
		run.rollback(tx, err)
		outcome = outcome.WithErrors(domain.InternalError(fmt.Errorf("commit: %w", err)))
	}
	run.finish(outcome.State(), outcome.Errors())
	return outcome
}

// RunInOpenTransaction executes def inside a transaction the caller has
// already begun on the service's repository. Commit and rollback stay with
// the caller. Without an open transaction the run fails with an internal
// error wrapping domain.ErrNoTransaction.
func RunInOpenTransaction[I, R any](ctx context.Context, s *Service, def *command.Definition[I, R], inputs I, opts ...command.RunOption) command.Outcome[R] {
	run := s.begin(ctx, def.Name())
	tx, ok := s.repo.(transactionState)
	if !ok {
		return failRun[R](run, def.Name(), ErrNotTransactional)
	}
	if !tx.InTransaction() {
		return failRun[R](run, def.Name(), domain.ErrNoTransaction)
	}
	outcome := def.Run(inputs, run.options(opts)...)
	run.finish(outcome.State(), outcome.Errors())
	return outcome
}

type transactionState interface {
	InTransaction() bool
}

func failRun[R any](run *commandRun, name string, err error) command.Outcome[R] {
	outcome := command.Failure[R](name, domain.InternalError(err))
	run.finish(outcome.State(), outcome.Errors())
	return outcome
}

// RunJSON decodes data into the named command's inputs and runs it.
func (s *Service) RunJSON(ctx context.Context, name string, data []byte, opts ...command.RunOption) (command.Report, error) {
	runner, ok := s.commands.Lookup(name)
	if !ok {
		return command.Report{}, fmt.Errorf("%w: %s", command.ErrCommandUnknown, name)
	}
	run := s.begin(ctx, name)
	report := runner.RunJSON(data, run.options(opts)...)
	run.finish(report.State, domain.NewErrorCollection(report.Errors...))
	return report, nil
}

type commandRun struct {
	svc   *Service
	ctx   context.Context
	span  TraceSpan
	name  string
	id    string
	start time.Time
}

func (s *Service) begin(ctx context.Context, name string) *commandRun {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := s.opts.tracer.Start(ctx, name)
	run := &commandRun{
		svc:   s,
		ctx:   ctx,
		span:  span,
		name:  name,
		id:    s.opts.newID(),
		start: s.opts.clock.Now(),
	}
	s.opts.logger.Debug("command started", "command", name, "invocation_id", run.id)
	return run
}

func (r *commandRun) options(extra []command.RunOption) []command.RunOption {
	logger := r.svc.opts.logger
	opts := []command.RunOption{
		command.WithContext(r.ctx),
		command.UsingRepository(r.svc.repo),
		command.UsingRegistry(r.svc.registry),
		command.WithInvocationID(r.id),
		command.ObserveTransitions(func(t command.Transition) {
			logger.Debug("command transition",
				"command", t.Command,
				"invocation_id", t.InvocationID,
				"path", t.RuntimePath,
				"from", t.From,
				"to", t.To,
			)
		}),
	}
	return append(opts, extra...)
}

func (r *commandRun) rollback(tx domain.TxControl, cause error) {
	logger := r.svc.opts.logger
	if err := tx.Rollback(); err != nil && !errors.Is(err, domain.ErrNoTransaction) {
		logger.Error("transaction rollback failed", "command", r.name, "invocation_id", r.id, "error", err)
	}
	if cause != nil {
		logger.Error("transaction commit failed", "command", r.name, "invocation_id", r.id, "error", cause)
	} else {
		logger.Warn("transaction rolled back", "command", r.name, "invocation_id", r.id)
	}
	if rr, ok := r.svc.opts.metrics.(RollbackRecorder); ok {
		rr.ObserveRollback(r.ctx, r.name)
	}
}

func (r *commandRun) finish(state command.State, errs *domain.ErrorCollection) {
	o := r.svc.opts
	duration := o.clock.Now().Sub(r.start)
	success := state == command.StateSucceeded && !errs.HasErrors()

	var runErr error
	status := AuditStatusSuccess
	if success {
		o.logger.Debug("command succeeded", "command", r.name, "invocation_id", r.id, "duration", duration)
	} else {
		status = AuditStatusError
		runErr = errs.Err()
		if runErr == nil {
			runErr = fmt.Errorf("command %s finished in state %s", r.name, state)
		}
		if internal := errs.ByCategory(domain.CategoryInternal); len(internal) > 0 {
			o.logger.Error("command internal error", "command", r.name, "invocation_id", r.id, "error", runErr)
		} else {
			o.logger.Warn("command failed", "command", r.name, "invocation_id", r.id, "errors", errs.Keys())
		}
		if er, ok := o.metrics.(ErrorMetricsRecorder); ok {
			er.ObserveErrors(r.ctx, r.name, errs.Categories())
		}
	}
	o.metrics.Observe(r.ctx, r.name, success, duration)
	o.audit.Record(r.ctx, AuditEntry{
		Command:      r.name,
		InvocationID: r.id,
		State:        state,
		Status:       status,
		ErrorKeys:    errs.Keys(),
		Duration:     duration,
		Timestamp:    o.clock.Now(),
	})
	r.span.End(runErr)
}

// RegisteredModules returns metadata for installed modules sorted by name.
func (s *Service) RegisteredModules() []ModuleMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ModuleMetadata, 0, len(s.modules))
	for _, meta := range s.modules {
		out = append(out, meta.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
