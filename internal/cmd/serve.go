package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/auditdeck/ratekeeper/internal/appid"
	"github.com/auditdeck/ratekeeper/internal/config"
	errwrap "github.com/auditdeck/ratekeeper/internal/errors"
	"github.com/auditdeck/ratekeeper/internal/metrics"
	"github.com/auditdeck/ratekeeper/internal/observability"
	"github.com/auditdeck/ratekeeper/internal/ratelimit"
	"github.com/auditdeck/ratekeeper/internal/server"
	"github.com/auditdeck/ratekeeper/internal/server/handlers"
	servermw "github.com/auditdeck/ratekeeper/internal/server/middleware"
	"github.com/auditdeck/ratekeeper/internal/store"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewServiceUnavailableError("telemetry system not initialized")
	}
	return nil
}

// bucketsHealthChecker fails when a configured bucket has no limiter.
type bucketsHealthChecker struct {
	registry *ratelimit.Registry
	expected []string
}

func (b bucketsHealthChecker) CheckHealth(ctx context.Context) error {
	for _, name := range b.expected {
		if _, ok := b.registry.Stats(name); !ok {
			return errwrap.NewConfigInvalidError("bucket " + name + " is not registered")
		}
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server with graceful shutdown support.

Every bucket in the configuration gets a limiter in one shared registry.
Denied checks are written to the audit store in the background when
audit.enabled is true.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read and validate the config file`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	identity := GetAppIdentity()
	namespace := identity.TelemetryNamespace()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return errwrap.WrapInternal(ctx, err, "config load failed")
	}

	observability.InitServerLogger(identity.BinaryName, cfg.Logging, namespace)
	logger := observability.ServerLogger

	if err := observability.InitMetrics(cfg.Metrics, namespace); err != nil {
		logger.Error("Failed to initialize metrics", zap.Error(err))
		return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
	}

	registry := ratelimit.NewRegistry()
	limiters := buildLimiters(registry, cfg)

	logger.Info("Initializing server",
		zap.String("service", identity.BinaryName),
		zap.String("namespace", namespace),
		zap.String("version", versionInfo.Version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Int("metrics_port", observability.GetMetricsPort()),
		zap.Strings("buckets", cfg.BucketNames()))

	hm := handlers.NewHealthManager(versionInfo.Version)
	hm.RegisterChecker("buckets", bucketsHealthChecker{registry: registry, expected: cfg.BucketNames()})
	if cfg.Metrics.Enabled {
		hm.RegisterChecker("telemetry", telemetryHealthChecker{})
	}

	var (
		db       *store.Store
		recorder *store.AuditRecorder
		denials  servermw.DenialRecorder
	)
	if cfg.Audit.Enabled {
		db, err = store.Open(ctx, cfg.Store)
		if err != nil {
			return errwrap.WrapDatabaseError(ctx, err, "open audit store")
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return errwrap.WrapDatabaseError(ctx, err, "migrate audit store")
		}
		recorder = store.NewAuditRecorder(db, cfg.Audit.BufferSize)
		denials = recorder
		hm.RegisterChecker("audit_store", db)
		logger.Info("Denial audit enabled",
			zap.String("driver", db.Driver()),
			zap.Duration("retention", cfg.Audit.Retention),
			zap.Int("buffer_size", cfg.Audit.BufferSize))
	}

	handlers.SetAppIdentity(identity)
	srv := server.New(cfg.Server, server.Options{
		Registry:   registry,
		Limiters:   limiters,
		Recorder:   denials,
		Health:     hm,
		AdminToken: appid.Env(identity, "ADMIN_TOKEN"),
	})

	maintenanceCtx, stopMaintenance := context.WithCancel(context.Background())
	maint := &maintenance{registry: registry, retention: cfg.Audit.Retention}
	if db != nil {
		maint.pruner = db
	}
	go maint.run(maintenanceCtx, maintenanceInterval)

	// Shutdown handlers run LIFO: HTTP server, then maintenance and audit
	// flush, then the logger.
	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Flushing logger...")
		if err := logger.Sync(); err != nil {
			logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		stopMaintenance()
		if recorder != nil {
			flushCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := recorder.Close(flushCtx); err != nil {
				logger.Warn("Audit recorder did not drain", zap.Error(err))
			}
		}
		if db != nil {
			if err := db.Close(); err != nil {
				return errwrap.WrapDatabaseError(ctx, err, "close audit store")
			}
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errwrap.WrapInternal(ctx, err, "server shutdown failed")
		}
		logger.Info("HTTP server stopped gracefully")
		return nil
	})

	signals.OnReload(func(ctx context.Context) error {
		return reloadConfig(ctx, cfg)
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}

	metrics.SetServerStartTime(time.Now().Unix())

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	go func() {
		if err := signals.Listen(ctx); err != nil {
			logger.Error("Signal handler error", zap.Error(err))
			errChan <- err
		}
	}()

	if err := <-errChan; err != nil {
		return errwrap.WrapInternal(ctx, err, "server error")
	}
	return nil
}

// reloadConfig re-reads the config file on SIGHUP. Limiter counters live in
// memory, so bucket changes are reported and applied on the next restart.
func reloadConfig(ctx context.Context, running *config.Config) error {
	logger := observability.ServerLogger
	logger.Info("Received SIGHUP: attempting config reload")

	if err := viper.ReadInConfig(); err != nil {
		if isConfigNotFound(err) {
			logger.Info("No config file found - using defaults and environment variables")
			return nil
		}
		logger.Error("Failed to reload config file",
			zap.String("file", viper.ConfigFileUsed()),
			zap.Error(err))
		return err
	}

	next, err := config.Load(ctx, viper.GetViper())
	if err != nil {
		logger.Error("Reloaded config is invalid", zap.Error(err))
		return err
	}

	if changed := changedBuckets(running, next); len(changed) > 0 {
		logger.Warn("Bucket limits changed; restart to apply",
			zap.Strings("buckets", changed))
	}
	logger.Info("Configuration reloaded successfully",
		zap.String("file", viper.ConfigFileUsed()))
	return nil
}

// changedBuckets lists buckets added, removed or re-limited between configs.
func changedBuckets(before, after *config.Config) []string {
	var changed []string
	for _, name := range after.BucketNames() {
		if prev, ok := before.Buckets[name]; !ok || prev != after.Buckets[name] {
			changed = append(changed, name)
		}
	}
	for _, name := range before.BucketNames() {
		if _, ok := after.Buckets[name]; !ok {
			changed = append(changed, name)
		}
	}
	return changed
}
