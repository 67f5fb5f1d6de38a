package core

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const otelInstrumentation = "commandcore/internal/core"

var _ Tracer = (*OTelTracer)(nil)

// OTelTracer opens one OpenTelemetry span per command run.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer wraps tracer. A nil tracer falls back to the global provider.
func NewOTelTracer(tracer trace.Tracer) *OTelTracer {
	if tracer == nil {
		tracer = otel.Tracer(otelInstrumentation)
	}
	return &OTelTracer{tracer: tracer}
}

// NewOTelTracerFromProvider obtains a tracer from provider.
func NewOTelTracerFromProvider(provider trace.TracerProvider) *OTelTracer {
	return NewOTelTracer(provider.Tracer(otelInstrumentation))
}

// Start opens a span named "command <name>".
func (t *OTelTracer) Start(ctx context.Context, command string) (context.Context, TraceSpan) {
	ctx, span := t.tracer.Start(ctx, "command "+command,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("command.name", command)),
	)
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
