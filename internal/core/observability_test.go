package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"commandcore/pkg/domain"
)

func TestPrometheusRecorderCountsRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg, "test")
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}
	svc := newWidgetService(WithMetricsRecorder(rec))
	ctx := context.Background()
	Run(ctx, svc, newCreateWidget(), widgetInputs{Name: "a"})
	Run(ctx, svc, newCreateWidget(), widgetInputs{})
	RunInTransaction(ctx, svc, newRejectWidget(), widgetInputs{Name: "b"})

	if got := testutil.ToFloat64(rec.runs.WithLabelValues("create_widget", "success")); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(rec.runs.WithLabelValues("create_widget", "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if got := testutil.ToFloat64(rec.errors.WithLabelValues("create_widget", string(domain.CategoryData))); got != 1 {
		t.Fatalf("expected 1 data error, got %v", got)
	}
	if got := testutil.ToFloat64(rec.errors.WithLabelValues("reject_widget", string(domain.CategoryRuntime))); got != 1 {
		t.Fatalf("expected 1 runtime error, got %v", got)
	}
	if got := testutil.ToFloat64(rec.rollbacks.WithLabelValues("reject_widget")); got != 1 {
		t.Fatalf("expected 1 rollback, got %v", got)
	}
	if n := testutil.CollectAndCount(rec.duration); n != 2 {
		t.Fatalf("expected duration series for both commands, got %d", n)
	}
	if _, err := NewPrometheusMetricsRecorder(reg, "test"); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestOTelTracerRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	svc := newWidgetService(WithTracer(NewOTelTracerFromProvider(provider)))
	Run(context.Background(), svc, newCreateWidget(), widgetInputs{Name: "a"})
	Run(context.Background(), svc, newCreateWidget(), widgetInputs{})

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "command create_widget" || spans[0].Status().Code != codes.Ok {
		t.Fatalf("unexpected first span %s %v", spans[0].Name(), spans[0].Status())
	}
	if spans[1].Status().Code != codes.Error || len(spans[1].Events()) == 0 {
		t.Fatalf("expected error status and recorded error event, got %v", spans[1].Status())
	}
	if NewOTelTracer(nil) == nil {
		t.Fatalf("expected global fallback tracer")
	}
}

func TestExpvarRecorderPublishes(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	rec.Observe(context.Background(), "op", true, 2*time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Millisecond)
	rec.ObserveErrors(context.Background(), "op", []domain.Category{domain.CategoryRuntime})
	rec.ObserveRollback(context.Background(), "op")

	v := expvar.Get(rec.Name())
	if v == nil {
		t.Fatalf("recorder not published")
	}
	var snap ExpvarMetricsSnapshot
	if err := json.Unmarshal([]byte(v.String()), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Results["op"]["success"] != 1 || snap.DurationsMS["op"] != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Categories["op"][domain.CategoryRuntime] != 1 || snap.Rollbacks["op"] != 1 {
		t.Fatalf("unexpected error counters %+v", snap)
	}
	if _, ok := snap.Results[""]; ok {
		t.Fatalf("empty command names must be ignored")
	}
}

func TestJSONTracerWritesEntries(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), "ok")
	span.End(nil)
	_, span = tracer.Start(context.Background(), "bad")
	span.End(errors.New("boom"))

	entries := tracer.Entries()
	if len(entries) != 2 || entries[0].Status != "success" || entries[1].Error != "boom" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	dec := json.NewDecoder(&buf)
	var first JSONTraceEntry
	if err := dec.Decode(&first); err != nil || first.Command != "ok" {
		t.Fatalf("unexpected encoded entry %+v %v", first, err)
	}
	NewJSONTracer(nil).Start(context.Background(), "silent")
}
