package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tickerlens/tickerlens/internal/core/engine"
	"github.com/tickerlens/tickerlens/internal/observability"
)

var (
	callArgs    []string
	callJSON    string
	callRepeat  int
	callSummary bool
)

var callCmd = &cobra.Command{
	Use:   "call <tool>",
	Short: "Invoke one tool through the governor and print its text",
	Long: `Invoke one tool through the governor and print the text an MCP client
would receive.

Arguments are given as --arg name=value (repeatable) or as a JSON object
with --json. --repeat calls the tool several times in this process, which
shows cache hits and per-ticker throttling.

Examples:
  tickerlens call get_stock_info --arg ticker=AAPL
  tickerlens call get_historical_stock_prices --arg ticker=MSFT --arg period=5d
  tickerlens call get_option_chain --json '{"ticker":"AAPL","expiration_date":"2025-06-20","option_type":"calls"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		toolArgs, err := parseToolArgs(callArgs, callJSON)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		out := cmd.OutOrStdout()
		var last engine.CallResult
		outcomes := make([]string, 0, callRepeat)
		for i := 0; i < max(callRepeat, 1); i++ {
			last, err = a.orchestrator.Call(cmd.Context(), args[0], toolArgs)
			if err != nil {
				if errors.Is(err, engine.ErrUnknownTool) {
					return fmt.Errorf("%w (run \"tickerlens tools\" for the list)", err)
				}
				return err
			}
			observability.Logger().Debug("Tool call finished",
				zap.String("tool", last.Tool),
				zap.String("outcome", string(last.Outcome)),
				zap.Duration("duration", last.Duration))
			outcomes = append(outcomes, fmt.Sprintf("#%d %s (%s)", i+1, last.Outcome, last.Duration.Round(time.Millisecond)))
		}

		if _, err := fmt.Fprintln(out, last.Text); err != nil {
			return err
		}

		if callSummary {
			report, err := a.report(cmd.Context())
			if err != nil {
				return err
			}
			lines := append([]string{"Governor decisions", ""}, outcomes...)
			lines = append(lines, "",
				fmt.Sprintf("window: %d/%d in use", report.Occupancy.WindowInUse, report.Limits.MaxRequestsPerWindow),
				fmt.Sprintf("cached entries: %d", report.Occupancy.CachedEntries))
			_, _ = fmt.Fprint(cmd.ErrOrStderr(), ascii.DrawBox(strings.Join(lines, "\n"), 0))
		}

		if last.IsError {
			return fmt.Errorf("tool %s returned an error result", last.Tool)
		}
		return nil
	},
}

// parseToolArgs merges --json and --arg values; --arg wins on conflict.
func parseToolArgs(pairs []string, raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, fmt.Errorf("--json must be a JSON object: %w", err)
		}
	}
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --arg %q, expected name=value", pair)
		}
		args[name] = value
	}
	return args, nil
}

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().StringArrayVar(&callArgs, "arg", nil, "tool argument as name=value (repeatable)")
	callCmd.Flags().StringVar(&callJSON, "json", "", "tool arguments as a JSON object")
	callCmd.Flags().IntVar(&callRepeat, "repeat", 1, "call the tool this many times")
	callCmd.Flags().BoolVar(&callSummary, "summary", false, "print governor decisions to stderr")
}
