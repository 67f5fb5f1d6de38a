package core

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"commandcore/internal/infra/persistence/memory"
	"commandcore/pkg/command"
	"commandcore/pkg/domain"
)

const typeWidget domain.EntityType = "Widget"

type widget struct {
	domain.Base
	Name string `json:"name"`
	Qty  int64  `json:"qty"`
}

func (*widget) EntityType() domain.EntityType { return typeWidget }

var widgetDescriptor = domain.Descriptor{Type: typeWidget, New: func() domain.Entity { return &widget{} }}

type widgetInputs struct {
	Name string `json:"name"`
	Qty  int64  `json:"qty"`
}

func newCreateWidget() *command.Definition[widgetInputs, *widget] {
	return command.New("create_widget", func(inv *command.Invocation[widgetInputs, *widget]) (*widget, error) {
		in := inv.Inputs()
		w := &widget{Name: in.Name, Qty: in.Qty}
		if _, err := inv.Repository().Save(w); err != nil {
			return nil, err
		}
		return w, nil
	}).Validate(func(inv *command.Invocation[widgetInputs, *widget]) error {
		if inv.Inputs().Name == "" {
			inv.AddInputError("name", "required", "name is required")
		}
		return nil
	})
}

// newRejectWidget saves a widget and then halts, so a surrounding
// transaction must discard the save.
func newRejectWidget() *command.Definition[widgetInputs, *widget] {
	return command.New("reject_widget", func(inv *command.Invocation[widgetInputs, *widget]) (*widget, error) {
		if _, err := inv.Repository().Save(&widget{Name: inv.Inputs().Name}); err != nil {
			return nil, err
		}
		return nil, inv.HaltWithRuntimeError("rejected", "widget rejected")
	})
}

type widgetModule struct {
	name string
}

func (m widgetModule) Name() string {
	if m.name == "" {
		return "widgets"
	}
	return m.name
}

func (widgetModule) Version() string { return "1.0.0" }

func (widgetModule) Register(r *ModuleRegistry) error {
	r.RegisterEntityType(widgetDescriptor)
	r.RegisterCommand(newCreateWidget())
	r.RegisterCommand(newRejectWidget())
	return nil
}

func newWidgetService(opts ...Option) *Service {
	svc := NewInMemoryService(append([]Option{WithIDGenerator(sequentialIDs())}, opts...)...)
	if _, err := svc.InstallModule(widgetModule{}); err != nil {
		panic(err)
	}
	return svc
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "inv-" + strconv.Itoa(n)
	}
}

type captureAuditRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) last() AuditEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return AuditEntry{}
	}
	return c.entries[len(c.entries)-1]
}

type metricsCall struct {
	command  string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, cmd string, success bool, duration time.Duration) {
	c.calls = append(c.calls, metricsCall{command: cmd, success: success, duration: duration})
}

func (c *captureMetricsRecorder) has(cmd string, success bool) bool {
	for _, call := range c.calls {
		if call.command == cmd && call.success == success {
			return true
		}
	}
	return false
}

type spanRecord struct {
	command string
	err     error
}

type captureTracer struct {
	started []string
	ended   []spanRecord
}

func (c *captureTracer) Start(ctx context.Context, cmd string) (context.Context, TraceSpan) {
	c.started = append(c.started, cmd)
	return ctx, &captureSpan{tracer: c, command: cmd}
}

func (c *captureTracer) has(cmd string, success bool) bool {
	for _, record := range c.ended {
		if record.command == cmd && (record.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer  *captureTracer
	command string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{command: s.command, err: err})
}

// failingCommitStore discards the transaction and reports a commit error,
// mirroring a backend whose durable write failed.
type failingCommitStore struct {
	*memory.TransactionalStore
}

func (s failingCommitStore) Commit() error {
	if err := s.TransactionalStore.Rollback(); err != nil {
		return err
	}
	return errors.New("disk full")
}
