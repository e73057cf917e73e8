package output

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tickerlens/tickerlens/internal/core/engine"
	"github.com/tickerlens/tickerlens/internal/core/governor"
	"github.com/tickerlens/tickerlens/internal/core/stats"
)

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("yml")
	require.NoError(t, err)
	require.Equal(t, FormatYAML, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func sampleReport() stats.Report {
	return stats.Report{
		Backend: "memory",
		Limits: stats.Limits{
			WindowSeconds:            60,
			MaxRequestsPerWindow:     30,
			MinTickerIntervalSeconds: 2,
			CacheTTLSeconds:          60,
			MaxRetries:               2,
			BackoffBaseSeconds:       1.5,
			Coalesce:                 true,
		},
		Occupancy: stats.Occupancy{WindowInUse: 4, TrackedKeys: 2, CachedEntries: 3},
		Decisions: stats.Summary{
			Total: stats.Counters{"fetched": 4, "cache_hit": 2},
			ByOperation: map[string]stats.Counters{
				"info": {"fetched": 3, "cache_hit": 2},
				"news": {"fetched": 1},
			},
		},
	}
}

func TestFormatToolsJSON(t *testing.T) {
	tools := (&engine.Orchestrator{}).Tools()

	rendered, err := NewFormatter(FormatJSON).FormatTools(tools)
	require.NoError(t, err)

	var views []ToolView
	require.NoError(t, json.Unmarshal([]byte(rendered), &views))
	require.Len(t, views, len(tools))
	assert.Equal(t, "get_historical_stock_prices", views[0].Name)
	assert.Equal(t, "object", views[0].InputSchema["type"])
}

func TestFormatToolsTable(t *testing.T) {
	tools := (&engine.Orchestrator{}).Tools()

	rendered, err := NewFormatter(FormatTable).FormatTools(tools)
	require.NoError(t, err)
	assert.Contains(t, rendered, "get_option_chain")
	assert.Contains(t, rendered, "ticker*")
	assert.Contains(t, rendered, "9 tools")
}

func TestParametersOrdersRequiredFirst(t *testing.T) {
	tool := engine.Tool{InputSchema: map[string]any{
		"properties": map[string]any{"period": map[string]any{}, "ticker": map[string]any{}, "interval": map[string]any{}},
		"required":   []any{"ticker"},
	}}
	assert.Equal(t, []string{"ticker*", "interval", "period"}, parameters(tool))
}

func TestFormatReport(t *testing.T) {
	report := sampleReport()

	table, err := NewFormatter(FormatTable).FormatReport(report)
	require.NoError(t, err)
	assert.Contains(t, table, "Governor (memory)")
	assert.Contains(t, table, "4/30")
	assert.Contains(t, table, "1.5s")
	assert.Contains(t, table, "news")

	md, err := NewFormatter(FormatMarkdown).FormatReport(report)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(md, "## Governor (memory)"))
	assert.Contains(t, md, "| info |")

	y, err := NewFormatter(FormatYAML).FormatReport(report)
	require.NoError(t, err)
	var decoded stats.Report
	require.NoError(t, yaml.Unmarshal([]byte(y), &decoded))
	assert.Equal(t, int64(3), decoded.Decisions.ByOperation["info"].Get(governor.OutcomeFetched))
}

func TestOutcomeColumnsUnion(t *testing.T) {
	report := sampleReport()
	report.Decisions.ByOperation["news"]["rate_limited_key"] = 1

	assert.Equal(t, []string{"cache_hit", "fetched", "rate_limited_key"}, outcomeColumns(report))
	assert.Equal(t, []string{"info", "news"}, operations(report))
}
