package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fulmenhq/gofulmen/logging"

	"github.com/catalogsync/catalogsync/internal/config"
	"github.com/catalogsync/catalogsync/internal/core"
	"github.com/catalogsync/catalogsync/internal/core/engine"
	"github.com/catalogsync/catalogsync/internal/core/marketplace"
	"github.com/catalogsync/catalogsync/internal/core/store"
	"github.com/catalogsync/catalogsync/internal/metrics"
	"github.com/catalogsync/catalogsync/internal/observability"
)

// syncApp holds the components a sync-capable command needs.
type syncApp struct {
	cfg      *config.Config
	store    *store.Store
	limiter  *engine.RateLimiter
	breakers *engine.BreakerRegistry
	monitor  *engine.Monitor
	orch     *engine.Orchestrator
	runner   *engine.Runner
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// newSyncApp opens the store and assembles the orchestrator from config.
func newSyncApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*syncApp, error) {
	limiter, err := engine.NewRateLimiter(config.ResourceLimits(cfg.RateLimits), cfg.Sync.JitterMax)
	if err != nil {
		return nil, err
	}
	limiter.ApplySafetyMargin(cfg.RateLimitMargin)

	breakers, err := engine.NewBreakerRegistry(engine.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		FailureWindow:    cfg.Breaker.FailureWindow,
	}, nil)
	if err != nil {
		return nil, err
	}

	monitor := engine.NewMonitor(cfg.Monitor.Window, engine.MonitorThresholds{
		MaxErrorRate:     cfg.Monitor.MaxErrorRate,
		MinSuccessRate:   cfg.Monitor.MinSuccessRate,
		MaxAvgLatencyMS:  cfg.Monitor.MaxAvgLatencyMS,
		MaxRateLimitRate: cfg.Monitor.MaxRateLimitRate,
	}, nil)

	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	orch := &engine.Orchestrator{
		Credentials: cfg,
		Fetcher: &marketplace.Client{
			HTTP:      &http.Client{},
			UserAgent: fmt.Sprintf("%s/%s", config.AppName, versionInfo.Version),
		},
		Limiter:  limiter,
		Breakers: breakers,
		Monitor:  monitor,
		Sink:     db,
		Metrics:  metrics.TelemetrySink{},
		Runs:     db,
		Tracer:   observability.Tracer(),
		Settings: engine.SyncSettings{
			Scopes:               cfg.Sync.Scopes,
			ResourceClass:        core.ResourceClass(cfg.Sync.ResourceClass),
			MaxPages:             cfg.Sync.MaxPages,
			ItemsPerPage:         cfg.Sync.ItemsPerPage,
			DelayBetweenRequests: cfg.Sync.DelayBetweenRequests,
			RetryBaseDelay:       cfg.Sync.RetryBaseDelay,
			RetryMaxDelay:        cfg.Sync.RetryMaxDelay,
			MaxRetries:           cfg.Sync.MaxRetries,
			Filters:              cfg.Sync.Filters,
			Sequential:           cfg.Sync.Sequential,
		},
	}
	if logger != nil {
		orch.Logger = logger
	}

	runner := engine.NewRunner(orch)
	runner.OnRun = func(run *core.SyncRun, err error) {
		metrics.RecordSyncRun(run)
		metrics.RecordBreakers(breakers.Snapshots())
		if err != nil {
			metrics.RecordOperationError("sync", core.ErrorCode(err))
		}
		metrics.RecordOperation("sync", err == nil && run != nil && run.Status == core.RunCompleted)
	}

	return &syncApp{
		cfg:      cfg,
		store:    db,
		limiter:  limiter,
		breakers: breakers,
		monitor:  monitor,
		orch:     orch,
		runner:   runner,
	}, nil
}

func (a *syncApp) Close() error {
	if a == nil || a.store == nil {
		return nil
	}
	return a.store.Close()
}

func tracingOptions(cfg *config.Config) observability.TracingOptions {
	return observability.TracingOptions{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     versionInfo.Version,
	}
}
