package core

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"commandcore/pkg/domain"
)

var (
	_ MetricsRecorder      = (*PrometheusMetricsRecorder)(nil)
	_ ErrorMetricsRecorder = (*PrometheusMetricsRecorder)(nil)
	_ RollbackRecorder     = (*PrometheusMetricsRecorder)(nil)
)

// PrometheusMetricsRecorder exports command metrics as Prometheus collectors.
type PrometheusMetricsRecorder struct {
	runs      *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	errors    *prometheus.CounterVec
	rollbacks *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder creates the collectors under namespace and
// registers them with reg. A nil reg uses a fresh private registry.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer, namespace string) (*PrometheusMetricsRecorder, error) {
	if namespace == "" {
		namespace = "commandcore"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r := &PrometheusMetricsRecorder{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "command",
				Name:      "runs_total",
				Help:      "Command runs by terminal status.",
			},
			[]string{"command", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "command",
				Name:      "duration_seconds",
				Help:      "Command run duration.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "command",
				Name:      "errors_total",
				Help:      "Failed command runs by error category.",
			},
			[]string{"command", "category"},
		),
		rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "command",
				Name:      "rollbacks_total",
				Help:      "Transactions rolled back after a failed run or commit.",
			},
			[]string{"command"},
		),
	}
	for _, c := range []prometheus.Collector{r.runs, r.duration, r.errors, r.rollbacks} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register command metrics: %w", err)
		}
	}
	return r, nil
}

// Observe records a run's status and duration.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, command string, success bool, duration time.Duration) {
	status := "error"
	if success {
		status = "success"
	}
	r.runs.WithLabelValues(command, status).Inc()
	r.duration.WithLabelValues(command).Observe(duration.Seconds())
}

// ObserveErrors increments the error counter once per category.
func (r *PrometheusMetricsRecorder) ObserveErrors(_ context.Context, command string, categories []domain.Category) {
	for _, cat := range categories {
		r.errors.WithLabelValues(command, string(cat)).Inc()
	}
}

// ObserveRollback increments the rollback counter.
func (r *PrometheusMetricsRecorder) ObserveRollback(_ context.Context, command string) {
	r.rollbacks.WithLabelValues(command).Inc()
}
