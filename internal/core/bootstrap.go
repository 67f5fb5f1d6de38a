package core

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"commandcore/internal/config"
	"commandcore/internal/infra/persistence/memory"
	"commandcore/internal/platform/logger"
	"commandcore/pkg/domain"
)

// NewServiceFromConfig opens the repository selected by cfg.Storage and
// builds a service that logs through zap in cfg.Log.Mode and records metrics
// on reg under cfg.Metrics.Namespace. A nil reg uses a private registry.
// opts are applied after the configured logger and recorder. The caller
// releases the backend with CloseRepository(svc.Repository()).
func NewServiceFromConfig(ctx context.Context, cfg config.Config, reg prometheus.Registerer, opts ...Option) (*Service, error) {
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, err
	}
	metrics, err := NewPrometheusMetricsRecorder(reg, cfg.Metrics.Namespace)
	if err != nil {
		return nil, fmt.Errorf("metrics recorder: %w", err)
	}

	all := append([]Option{WithLogger(log), WithMetricsRecorder(metrics)}, opts...)
	o := defaultServiceOptions()
	for _, opt := range all {
		opt(&o)
	}
	registry := o.registry
	if registry == nil {
		registry = domain.NewTypeRegistry()
	}
	repo, err := OpenRepository(ctx, cfg.Storage, memory.WithTypeRegistry(registry), memory.WithClock(o.clock.Now))
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	log.Info("service configured", "storage", cfg.Storage.Driver, "log_mode", cfg.Log.Mode, "metrics_namespace", cfg.Metrics.Namespace)
	return NewService(repo, append(all, WithTypeRegistry(registry))...), nil
}
