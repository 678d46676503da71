package cmd

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/catalogsync/catalogsync/internal/config"
	errwrap "github.com/catalogsync/catalogsync/internal/errors"
	"github.com/catalogsync/catalogsync/internal/metrics"
	"github.com/catalogsync/catalogsync/internal/observability"
	"github.com/catalogsync/catalogsync/internal/server"
	"github.com/catalogsync/catalogsync/internal/server/handlers"
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and periodic sync",
	Long: `Start the HTTP server with graceful shutdown support.

When sync.interval is set, a sync run starts immediately and then on every
interval. POST /sync/trigger starts a run on demand.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config is re-read and validated; restart to apply`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "server host (default: server.host)")
	serveCmd.Flags().IntP("port", "p", 0, "server port (default: server.port)")
	serveCmd.Flags().Duration("interval", 0, "periodic sync interval (default: sync.interval)")
}

func serveOverrides(cmd *cobra.Command) map[string]any {
	serverOverrides := map[string]any{}
	if cmd.Flags().Changed("host") {
		host, _ := cmd.Flags().GetString("host")
		serverOverrides["host"] = host
	}
	if cmd.Flags().Changed("port") {
		port, _ := cmd.Flags().GetInt("port")
		serverOverrides["port"] = port
	}

	overrides := map[string]any{}
	if len(serverOverrides) > 0 {
		overrides["server"] = serverOverrides
	}
	if cmd.Flags().Changed("interval") {
		interval, _ := cmd.Flags().GetDuration("interval")
		overrides["sync"] = map[string]any{"interval": interval}
	}
	return overrides
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, err := loadConfig(ctx, serveOverrides(cmd))
	if err != nil {
		return err
	}

	namespace := config.AppName
	observability.InitServerLogger(config.AppName, cfg.Logging.Level, namespace)
	logger := observability.ServerLogger

	if cfg.Metrics.Enabled {
		if err := observability.InitMetrics(config.AppName, cfg.Metrics.Port, namespace); err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			return errwrap.Wrap(ctx, errwrap.CodeInternal, err, "metrics initialization failed")
		}
	}

	shutdownTracing, err := observability.InitTracing(ctx, tracingOptions(cfg))
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	app, err := newSyncApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("Initializing server",
		zap.String("service", config.AppName),
		zap.String("version", versionInfo.Version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Int("metrics_port", cfg.Metrics.Port),
		zap.Strings("scopes", cfg.Sync.Scopes),
		zap.Duration("sync_interval", cfg.Sync.Interval))

	hm := handlers.NewHealthManager(versionInfo.Version)
	hm.RegisterCritical("store", handlers.StoreChecker{Store: app.store})
	hm.RegisterChecker("marketplace", handlers.MonitorChecker{Monitor: app.monitor})
	hm.RegisterChecker("circuit_breakers", handlers.BreakerChecker{Breakers: app.breakers})
	if cfg.Metrics.Enabled {
		hm.RegisterChecker("telemetry", telemetryHealthChecker{})
	}

	srv := server.New(cfg.Server, server.Dependencies{
		Health: hm,
		Sync: &handlers.SyncHandlers{
			Runner:         app.runner,
			Runs:           app.store,
			Monitor:        app.monitor,
			Breakers:       app.breakers,
			TriggerLimiter: triggerLimiter(cfg.Server.TriggerInterval),
		},
		AdminToken: adminToken(),
	})

	startedAt := time.Now()
	metrics.SetServerStartTime(startedAt.Unix())

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 10 * time.Second
	}

	loopDone := make(chan struct{})

	// Shutdown handlers run LIFO: HTTP server first, then sync loop, then store.
	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Flushing logger...")
		if err := logger.Sync(); err != nil {
			logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		flushCtx, flushCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Tracer shutdown failed", zap.Error(err))
		}
		return app.Close()
	})

	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Stopping sync loop...")
		cancel()
		select {
		case <-loopDone:
		case <-time.After(shutdownTimeout):
			logger.Warn("Sync loop did not stop before shutdown timeout")
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Shutting down HTTP server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, shutdownTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errwrap.Wrap(ctx, errwrap.CodeInternal, err, "server shutdown failed")
		}

		logger.Info("HTTP server stopped gracefully")
		return nil
	})

	signals.OnReload(func(ctx context.Context) error {
		logger.Info("Received SIGHUP: validating configuration")

		reloaded, err := config.Load(ctx, config.LoadOptions{ConfigFile: cfgFile}, serveOverrides(cmd))
		if err != nil {
			logger.Error("Configuration reload rejected", zap.Error(err))
			return errwrap.FromError(ctx, err)
		}

		logger.Info("Configuration is valid; restart to apply changes",
			zap.Strings("scopes", reloaded.Sync.Scopes))
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}

	go func() {
		defer close(loopDone)
		if cfg.Sync.Interval <= 0 {
			logger.Info("Periodic sync disabled; use POST /sync/trigger")
		}
		app.runner.Loop(ctx, cfg.Sync.Interval, cfg.Sync.Interval > 0)
	}()

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.SetServerUptime(int64(time.Since(startedAt).Seconds()))
				metrics.RecordBreakers(app.breakers.Snapshots())
			}
		}
	}()

	errChan := make(chan error, 2)
	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
	}()

	go func() {
		if err := signals.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Signal handler error", zap.Error(err))
			errChan <- err
			return
		}
		errChan <- nil
	}()

	hm.MarkStarted()

	if err := <-errChan; err != nil {
		return errwrap.Wrap(ctx, errwrap.CodeInternal, err, "server error")
	}
	return nil
}

func adminToken() string {
	return strings.TrimSpace(os.Getenv(config.EnvPrefix + "_ADMIN_TOKEN"))
}

// triggerLimiter admits one manual trigger per interval; zero disables it.
func triggerLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}
