package cmd

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tickerlens/tickerlens/internal/config"
	"github.com/tickerlens/tickerlens/internal/core/governor"
	"github.com/tickerlens/tickerlens/internal/output"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestParseToolArgs(t *testing.T) {
	t.Parallel()

	args, err := parseToolArgs([]string{"ticker=AAPL", "period = 5d"}, `{"ticker":"MSFT","interval":"1h"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ticker": "AAPL", "period": " 5d", "interval": "1h"}, args)

	_, err = parseToolArgs([]string{"ticker"}, "")
	require.Error(t, err)

	_, err = parseToolArgs(nil, "[1,2]")
	require.Error(t, err)
}

func TestServeOverridesOnlyChangedFlags(t *testing.T) {
	cmd := &cobra.Command{}
	var host string
	var port int
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "")
	cmd.Flags().IntVarP(&port, "port", "p", 8000, "")

	serverHost, serverPort = host, port
	assert.Nil(t, serveOverrides(cmd))

	require.NoError(t, cmd.Flags().Set("port", "9100"))
	serverPort = 9100
	assert.Equal(t, map[string]any{"server": map[string]any{"port": 9100}}, serveOverrides(cmd))
}

func TestRestartRequired(t *testing.T) {
	t.Parallel()

	running := &config.Config{}
	running.Governor.MaxRequestsPerWindow = 30
	running.Logging.Level = "info"

	reloaded := *running
	assert.Empty(t, restartRequired(running, &reloaded))

	reloaded.Governor.MaxRequestsPerWindow = 10
	reloaded.Logging.Level = "debug"
	assert.Equal(t, []string{"governor", "logging"}, restartRequired(running, &reloaded))
}

func TestOutputExtension(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "json", outputExtension(output.FormatJSON))
	assert.Equal(t, "yaml", outputExtension(output.FormatYAML))
	assert.Equal(t, "md", outputExtension(output.FormatMarkdown))
	assert.Equal(t, "txt", outputExtension(output.FormatTable))
}

func TestToolsCommandJSON(t *testing.T) {
	rendered := execute(t, "tools", "--output-format", "json")

	var tools []output.ToolView
	require.NoError(t, json.Unmarshal([]byte(rendered), &tools))
	require.Len(t, tools, 9)
	assert.Equal(t, "get_recommendations", tools[len(tools)-1].Name)
}

func TestConfigShowAppliesEnvironment(t *testing.T) {
	t.Setenv("TICKERLENS_MAX_REQUESTS_PER_WINDOW", "12")
	t.Setenv("MIN_TICKER_INTERVAL_SECONDS", "0.5")

	rendered := execute(t, "config", "show")

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(rendered), &cfg))
	assert.Equal(t, 12, cfg.Governor.MaxRequestsPerWindow)
	assert.Equal(t, 0.5, cfg.Governor.MinTickerIntervalSeconds)
	assert.NotContains(t, rendered, "password")
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2025-01-01")
	t.Cleanup(func() { SetVersionInfo("dev", "", "") })

	assert.Equal(t, "tickerlens 1.2.3\n", execute(t, "version"))
}

func TestFetchBudgetCoversEveryAttempt(t *testing.T) {
	cfg := governor.DefaultConfig()
	// 3 steps x (3 attempts x 10s + 1.95s + 3.9s of worst-case backoff).
	want := 3 * (30*time.Second + 5850*time.Millisecond)
	require.InDelta(t, float64(want), float64(fetchBudget(cfg, 10*time.Second)), float64(time.Millisecond))
	require.Zero(t, fetchBudget(cfg, 0))
}
