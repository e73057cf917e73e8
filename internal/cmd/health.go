package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/tickerlens/tickerlens/internal/errors"
	"github.com/tickerlens/tickerlens/internal/observability"
)

var (
	healthUpstream bool
	healthTicker   string
	healthTimeout  time.Duration
)

type healthCheck struct {
	name string
	err  error
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long: `Check that the configuration is valid and the stats backend is reachable.
With --upstream it also resolves one ticker against Yahoo Finance, which
spends one upstream request.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		logger.Info("Running health check...")

		var checks []healthCheck
		fail := func() {
			printHealth(cmd, checks)
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Health check failed", checks[len(checks)-1].err)
		}

		cfg, err := loadConfig(nil)
		checks = append(checks, healthCheck{name: "configuration", err: err})
		if err != nil {
			fail()
			return
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
		defer cancel()

		a, err := newApp(ctx, cfg)
		checks = append(checks, healthCheck{name: "stats backend (" + cfg.Stats.Backend + ")", err: err})
		if err != nil {
			fail()
			return
		}
		defer func() { _ = a.Close() }()

		if healthUpstream {
			err := a.orchestrator.Provider.Lookup(ctx, healthTicker)
			if err != nil {
				err = errwrap.WrapExternalService(ctx, err, "yahoo finance lookup failed")
			}
			checks = append(checks, healthCheck{name: "upstream (" + healthTicker + ")", err: err})
			if err != nil {
				fail()
				return
			}
		}

		logger.Debug("Health checks passed", zap.Int("checks", len(checks)))
		printHealth(cmd, checks)
	},
}

func printHealth(cmd *cobra.Command, checks []healthCheck) {
	lines := []string{"Health", ""}
	for _, c := range checks {
		if c.err != nil {
			lines = append(lines, fmt.Sprintf("❌ %s: %v", c.name, c.err))
			continue
		}
		lines = append(lines, "✅ "+c.name)
	}
	_, _ = fmt.Fprint(cmd.OutOrStdout(), ascii.DrawBox(strings.Join(lines, "\n"), 0))
}

func init() {
	rootCmd.AddCommand(healthCmd)

	healthCmd.Flags().BoolVar(&healthUpstream, "upstream", false, "also resolve a ticker against Yahoo Finance")
	healthCmd.Flags().StringVar(&healthTicker, "ticker", "AAPL", "ticker used by --upstream")
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 10*time.Second, "overall timeout")
}
