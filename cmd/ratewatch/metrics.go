package main

import (
	"context"

	"ratewatch/internal/config"
	"ratewatch/internal/metrics"
	"ratewatch/internal/metrics/datadog"

	"go.uber.org/zap"
)

// openMetrics builds the configured backend. A backend that fails to start is
// logged and replaced by Nop; metrics never fail a run.
func openMetrics(ctx context.Context, cfg config.Metrics, log *zap.Logger) (metrics.Backend, func()) {
	switch cfg.Backend {
	case "datadog":
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    cfg.JobName,
			Tags:       cfg.Tags,
			FlushEvery: cfg.FlushEvery.Duration,
		})
		if err != nil {
			log.Warn("metrics: datadog backend unavailable, using nop", zap.Error(err))
			return metrics.Nop{}, func() {}
		}
		log.Info("metrics enabled",
			zap.String("backend", cfg.Backend),
			zap.String("job_name", cfg.JobName),
			zap.Strings("tags", cfg.Tags))
		return b, func() {
			if err := b.Close(); err != nil {
				log.Warn("metrics: datadog close/flush error", zap.Error(err))
			}
		}
	case "", "none":
		log.Debug("metrics disabled")
	default:
		log.Warn("metrics: unknown backend, metrics disabled", zap.String("backend", cfg.Backend))
	}
	return metrics.Nop{}, func() {}
}
