package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"commandcore/pkg/domain"
)

var expvarSeq uint64

var (
	_ MetricsRecorder      = (*ExpvarMetricsRecorder)(nil)
	_ ErrorMetricsRecorder = (*ExpvarMetricsRecorder)(nil)
	_ RollbackRecorder     = (*ExpvarMetricsRecorder)(nil)
	_ Tracer               = (*JSONTraceTracer)(nil)
)

// ExpvarMetricsRecorder publishes per-command totals via expvar: run
// duration in milliseconds, success/error counts, error categories and
// rollbacks.
type ExpvarMetricsRecorder struct {
	name       string
	mu         sync.Mutex
	durations  map[string]float64
	results    map[string]map[string]int64
	categories map[string]map[domain.Category]int64
	rollbacks  map[string]int64
}

// ExpvarMetricsSnapshot captures a read-only view of the recorded metrics.
type ExpvarMetricsSnapshot struct {
	DurationsMS map[string]float64                   `json:"durations_ms_total"`
	Results     map[string]map[string]int64          `json:"results_total"`
	Categories  map[string]map[domain.Category]int64 `json:"error_categories_total"`
	Rollbacks   map[string]int64                     `json:"rollbacks_total"`
	RecordedAt  time.Time                            `json:"recorded_at"`
}

// NewExpvarMetricsRecorder constructs an expvar-backed recorder and publishes it
// under the supplied name. When name is empty, a unique identifier is generated.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("commandcore_metrics_%d", id)
	}
	rec := &ExpvarMetricsRecorder{
		name:       name,
		durations:  make(map[string]float64),
		results:    make(map[string]map[string]int64),
		categories: make(map[string]map[domain.Category]int64),
		rollbacks:  make(map[string]int64),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name associated with the recorder.
func (r *ExpvarMetricsRecorder) Name() string {
	return r.name
}

// Snapshot returns an immutable copy of the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	durations := make(map[string]float64, len(r.durations))
	for cmd, total := range r.durations {
		durations[cmd] = total
	}
	results := make(map[string]map[string]int64, len(r.results))
	for cmd, statusCounts := range r.results {
		cpy := make(map[string]int64, len(statusCounts))
		for status, count := range statusCounts {
			cpy[status] = count
		}
		results[cmd] = cpy
	}
	categories := make(map[string]map[domain.Category]int64, len(r.categories))
	for cmd, counts := range r.categories {
		cpy := make(map[domain.Category]int64, len(counts))
		for cat, count := range counts {
			cpy[cat] = count
		}
		categories[cmd] = cpy
	}
	rollbacks := make(map[string]int64, len(r.rollbacks))
	for cmd, count := range r.rollbacks {
		rollbacks[cmd] = count
	}

	return ExpvarMetricsSnapshot{
		DurationsMS: durations,
		Results:     results,
		Categories:  categories,
		Rollbacks:   rollbacks,
		RecordedAt:  time.Now().UTC(),
	}
}

// Observe records a command outcome.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, command string, success bool, duration time.Duration) {
	if command == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)
	status := "error"
	if success {
		status = "success"
	}

	r.mu.Lock()
	r.durations[command] += ms
	if _, ok := r.results[command]; !ok {
		r.results[command] = make(map[string]int64, 2)
	}
	r.results[command][status]++
	r.mu.Unlock()
}

// ObserveErrors counts each category once per failed run.
func (r *ExpvarMetricsRecorder) ObserveErrors(_ context.Context, command string, categories []domain.Category) {
	if command == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.categories[command]; !ok {
		r.categories[command] = make(map[domain.Category]int64)
	}
	for _, cat := range categories {
		r.categories[command][cat]++
	}
}

// ObserveRollback counts a rolled back transaction.
func (r *ExpvarMetricsRecorder) ObserveRollback(_ context.Context, command string) {
	r.mu.Lock()
	r.rollbacks[command]++
	r.mu.Unlock()
}

// JSONTraceEntry represents a serialized trace span emitted by JSONTraceTracer.
type JSONTraceEntry struct {
	Command    string    `json:"command"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer serializes spans to a writer and retains them for inspection.
type JSONTraceTracer struct {
	mu      sync.Mutex
	entries []JSONTraceEntry
	enc     *json.Encoder
}

// NewJSONTracer constructs a tracer that writes spans as JSON lines to the writer.
// The tracer retains all encoded spans for later inspection via Entries().
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	var enc *json.Encoder
	if w != nil {
		enc = json.NewEncoder(w)
	}
	return &JSONTraceTracer{
		enc: enc,
	}
}

// Entries returns a copy of all recorded spans.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]JSONTraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Start implements the Tracer interface.
func (t *JSONTraceTracer) Start(ctx context.Context, command string) (context.Context, TraceSpan) {
	span := &jsonTraceSpan{
		tracer:  t,
		command: command,
		started: time.Now().UTC(),
	}
	return ctx, span
}

type jsonTraceSpan struct {
	tracer  *JSONTraceTracer
	command string
	started time.Time
}

func (s *jsonTraceSpan) End(err error) {
	status := "success"
	var errMsg string
	if err != nil {
		status = "error"
		errMsg = err.Error()
	}
	ended := time.Now().UTC()
	entry := JSONTraceEntry{
		Command:    s.command,
		Status:     status,
		DurationMS: float64(ended.Sub(s.started)) / float64(time.Millisecond),
		Error:      errMsg,
		StartedAt:  s.started,
		EndedAt:    ended,
	}

	s.tracer.mu.Lock()
	s.tracer.entries = append(s.tracer.entries, entry)
	if s.tracer.enc != nil {
		_ = s.tracer.enc.Encode(entry)
	}
	s.tracer.mu.Unlock()
}
