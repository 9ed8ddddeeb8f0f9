package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"funnelcore/internal/adapters/httpapi"
	"funnelcore/internal/blob"
	"funnelcore/internal/config"
	"funnelcore/internal/core"
	rediscache "funnelcore/internal/infra/cache/redis"
	"funnelcore/internal/logging"
	"funnelcore/pkg/domain"
)

// app holds everything serve wires together.
type app struct {
	zap      *zap.Logger
	logger   logging.ZapLogger
	adapter  domain.Adapter
	cache    *rediscache.TimelineCache
	service  *core.Service
	registry *prometheus.Registry
	handler  http.Handler
}

type appOptions struct {
	traceOut io.Writer
}

func newApp(ctx context.Context, cfg config.Config, opts appOptions) (*app, error) {
	zl, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	a := &app{zap: zl, logger: logging.NewZapLogger(zl)}

	a.adapter, err = core.OpenAdapter(ctx, cfg.Storage)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	store, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := core.NewPrometheusMetricsRecorder(a.registry)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	serviceOpts := []core.ServiceOption{
		core.WithLogger(a.logger),
		core.WithMetricsRecorder(metrics),
		core.WithAuditRecorder(auditLog{logger: a.logger}),
		core.WithBlobStore(store),
	}
	if cfg.Cache.RedisURL != "" {
		a.cache, err = rediscache.Open(ctx, cfg.Cache.RedisURL, rediscache.WithTTL(cfg.Cache.TimelineTTL))
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("open timeline cache: %w", err)
		}
		serviceOpts = append(serviceOpts, core.WithTimelineCache(a.cache))
	}
	if opts.traceOut != nil {
		serviceOpts = append(serviceOpts, core.WithTracer(core.NewJSONTracer(opts.traceOut)))
	}
	a.service = core.NewService(a.adapter, serviceOpts...)

	a.handler = httpapi.NewHandler(a.service,
		httpapi.WithLogger(a.logger),
		httpapi.WithRateLimit(cfg.HTTP.RatePerSecond, cfg.HTTP.RateBurst),
		httpapi.WithMetricsHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})),
	)
	return a, nil
}

// Close releases the cache and storage connections and flushes the logger.
func (a *app) Close() error {
	var errs []error
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.adapter != nil {
		errs = append(errs, a.adapter.Close())
	}
	if a.zap != nil {
		_ = a.zap.Sync()
	}
	return errors.Join(errs...)
}

// auditLog writes audit entries to the process log.
type auditLog struct {
	logger core.Logger
}

func (l auditLog) Record(_ context.Context, e core.AuditEntry) {
	args := []any{
		"operation", e.Operation,
		"entity", e.Entity,
		"action", e.Action,
		"entity_id", e.EntityID,
		"status", e.Status,
		"duration", e.Duration,
		"at", e.Timestamp,
	}
	if e.Reason != "" {
		args = append(args, "reason", e.Reason)
	}
	l.logger.Info("audit", args...)
}
