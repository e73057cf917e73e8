package cmd

import (
	"context"
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tickerlens/tickerlens/internal/config"
	errwrap "github.com/tickerlens/tickerlens/internal/errors"
	"github.com/tickerlens/tickerlens/internal/observability"
)

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Serve the MCP tools over stdin/stdout",
	Long: `Serve the MCP tools over the stdio transport: one JSON-RPC message per
line on stdin, responses on stdout. Logs go to stderr as JSON.

This is the mode MCP desktop clients launch.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "configuration invalid")
		}

		observability.InitServerLogger(config.AppName, cfg.Logging.Level, config.AppName)
		logger := observability.ServerLogger

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return errwrap.WrapExternalService(cmd.Context(), err, "stats backend unavailable")
		}
		defer func() { _ = a.Close() }()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		signals.OnShutdown(func(context.Context) error {
			cancel()
			return nil
		})
		go func() {
			if err := signals.Listen(ctx); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
			}
		}()

		logger.Info("Serving MCP over stdio",
			zap.String("version", versionInfo.Version),
			zap.String("stats_backend", cfg.Stats.Backend))

		err = a.mcp.ServeStdio(ctx, os.Stdin, os.Stdout)
		_ = logger.Sync()
		if err != nil && ctx.Err() == nil {
			return errwrap.WrapInternal(ctx, err, "stdio transport failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stdioCmd)
}
