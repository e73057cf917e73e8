package cmd

import (
	"context"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tickerlens/tickerlens/internal/config"
	errwrap "github.com/tickerlens/tickerlens/internal/errors"
	"github.com/tickerlens/tickerlens/internal/metrics"
	"github.com/tickerlens/tickerlens/internal/observability"
	"github.com/tickerlens/tickerlens/internal/server"
	"github.com/tickerlens/tickerlens/internal/server/handlers"
	servermw "github.com/tickerlens/tickerlens/internal/server/middleware"
)

var (
	serverPort int
	serverHost string
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
	Short: "Serve the MCP tools over HTTP",
	Long: `Serve the MCP tools over streamable HTTP at /mcp, with health, version,
stats and metrics endpoints alongside.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read and validate the config file`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(serveOverrides(cmd))
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "configuration invalid")
		}

		observability.InitServerLogger(config.AppName, cfg.Logging.Level, config.AppName)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.AppName, cfg.Metrics.Port); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
			metrics.SetServerStartTime(time.Now().Unix())
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return errwrap.WrapExternalService(cmd.Context(), err, "stats backend unavailable")
		}

		logger.Info("Initializing server",
			zap.String("service", config.AppName),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Bool("metrics", cfg.Metrics.Enabled),
			zap.Int("metrics_port", observability.GetMetricsPort()),
			zap.String("stats_backend", cfg.Stats.Backend))

		hm := handlers.NewHealthManager(versionInfo.Version, server.HandleError)
		if cfg.Health.Enabled {
			if cfg.Metrics.Enabled {
				hm.RegisterChecker("telemetry", telemetryHealthChecker{})
			}
			if a.redis != nil {
				hm.RegisterChecker("stats_backend", handlers.CheckerFunc(func(ctx context.Context) error {
					return a.redis.Ping(ctx).Err()
				}))
			}
		}

		opts := []server.Option{
			server.WithMCP(a.mcp.HTTPHandler()),
			server.WithHealth(hm),
			server.WithVersion(versionInfo),
			server.WithStats(handlers.Stats(cfg.Stats.Backend, a.governor, a.store, server.HandleError)),
			server.WithAdminToken(os.Getenv(config.EnvPrefix + "ADMIN_TOKEN")),
		}
		if cfg.Ingress.Enabled {
			opts = append(opts, server.WithIngress(servermw.NewIngress(cfg.Ingress.RPS, cfg.Ingress.Burst,
				servermw.WithRejectFunc(server.RejectRateLimited))))
		}
		srv := server.New(cfg.Server, opts...)

		// Shutdown handlers run LIFO: the HTTP server stops first, then the
		// stats backend closes, then the logger flushes.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			if err := a.Close(); err != nil {
				logger.Warn("Closing stats backend failed", zap.Error(err))
			}
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}
			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		// The governor, logger and listeners are fixed for the process
		// lifetime; a reload validates the file and reports what needs a
		// restart.
		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: attempting config reload")
			if err := viper.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); ok {
					logger.Info("No config file found - using defaults and environment variables")
					return nil
				}
				logger.Error("Failed to reload config file",
					zap.String("file", viper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			reloaded, err := loadConfig(serveOverrides(cmd))
			if err != nil {
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}
			if changed := restartRequired(cfg, reloaded); len(changed) > 0 {
				logger.Warn("Configuration changed; restart to apply",
					zap.Strings("sections", changed))
			}

			logger.Info("Configuration reloaded successfully",
				zap.String("file", viper.ConfigFileUsed()))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}
		return nil
	},
}

// restartRequired names the config sections that differ between the
// running and the reloaded configuration.
func restartRequired(running, reloaded *config.Config) []string {
	var changed []string
	if running.Server != reloaded.Server {
		changed = append(changed, "server")
	}
	if running.Governor != reloaded.Governor {
		changed = append(changed, "governor")
	}
	if running.Upstream != reloaded.Upstream {
		changed = append(changed, "upstream")
	}
	if running.Stats != reloaded.Stats {
		changed = append(changed, "stats")
	}
	if running.Ingress != reloaded.Ingress {
		changed = append(changed, "ingress")
	}
	if running.Logging != reloaded.Logging {
		changed = append(changed, "logging")
	}
	if running.Metrics != reloaded.Metrics {
		changed = append(changed, "metrics")
	}
	return changed
}

// serveOverrides returns the flags the user set explicitly. They win over
// the config file and environment.
func serveOverrides(cmd *cobra.Command) map[string]any {
	srv := map[string]any{}
	if cmd.Flags().Changed("host") {
		srv["host"] = serverHost
	}
	if cmd.Flags().Changed("port") {
		srv["port"] = serverPort
	}
	if len(srv) == 0 {
		return nil
	}
	return map[string]any{"server": srv}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "0.0.0.0", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8000, "server port")
}
