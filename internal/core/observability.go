package core

import (
	"context"
	"time"

	"commandcore/pkg/command"
	"commandcore/pkg/domain"
)

// Logger is the structured logging surface the service writes to.
// internal/platform/logger.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MetricsRecorder receives one observation per command run.
type MetricsRecorder interface {
	Observe(ctx context.Context, command string, success bool, duration time.Duration)
}

// ErrorMetricsRecorder is implemented by recorders that also count failed
// runs by error category.
type ErrorMetricsRecorder interface {
	ObserveErrors(ctx context.Context, command string, categories []domain.Category)
}

// RollbackRecorder is implemented by recorders that count rolled back
// transactions.
type RollbackRecorder interface {
	ObserveRollback(ctx context.Context, command string)
}

// Tracer opens one span per command run.
type Tracer interface {
	Start(ctx context.Context, command string) (context.Context, TraceSpan)
}

// TraceSpan is closed with the run's error, nil on success.
type TraceSpan interface {
	End(err error)
}

// AuditStatus is the terminal status recorded for a run.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one finished command run.
type AuditEntry struct {
	Command      string        `json:"command"`
	InvocationID string        `json:"invocation_id"`
	State        command.State `json:"state"`
	Status       AuditStatus   `json:"status"`
	ErrorKeys    []string      `json:"error_keys,omitempty"`
	Duration     time.Duration `json:"duration"`
	Timestamp    time.Time     `json:"timestamp"`
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}
