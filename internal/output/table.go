package output

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/tickerlens/tickerlens/internal/core/engine"
	"github.com/tickerlens/tickerlens/internal/core/stats"
)

const summaryWidth = 60

// TableFormatter renders results as ASCII tables.
type TableFormatter struct{}

// FormatTools renders one row per tool.
func (f *TableFormatter) FormatTools(tools []engine.Tool) (string, error) {
	t := toolsTable(tools)
	t.SetStyle(table.StyleRounded)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, WidthMax: summaryWidth, WidthMaxEnforcer: text.WrapSoft},
	})
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d tools (* required)", len(tools))})
	return t.Render(), nil
}

// FormatReport renders limits, occupancy and per-operation decisions.
func (f *TableFormatter) FormatReport(report stats.Report) (string, error) {
	limits := limitsTable(report)
	limits.SetStyle(table.StyleRounded)
	limits.SetTitle("Governor (" + report.Backend + ")")

	decisions := decisionsTable(report)
	decisions.SetStyle(table.StyleRounded)
	decisions.SetTitle("Decisions")

	return limits.Render() + "\n\n" + decisions.Render(), nil
}

func toolsTable(tools []engine.Tool) table.Writer {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Tool", "Parameters", "Summary"})
	for _, tool := range tools {
		t.AppendRow(table.Row{tool.Name, strings.Join(parameters(tool), ", "), tool.Summary})
	}
	return t
}

func limitsTable(report stats.Report) table.Writer {
	l, o := report.Limits, report.Occupancy

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Setting", "Value"})
	t.AppendRows([]table.Row{
		{"window", seconds(l.WindowSeconds)},
		{"max requests per window", l.MaxRequestsPerWindow},
		{"window in use", fmt.Sprintf("%d/%d", o.WindowInUse, l.MaxRequestsPerWindow)},
		{"min ticker interval", seconds(l.MinTickerIntervalSeconds)},
		{"tracked tickers", o.TrackedKeys},
		{"cache ttl", seconds(l.CacheTTLSeconds)},
		{"cached entries", o.CachedEntries},
		{"max retries", l.MaxRetries},
		{"backoff base", seconds(l.BackoffBaseSeconds)},
		{"coalesce", l.Coalesce},
	})
	return t
}

func decisionsTable(report stats.Report) table.Writer {
	cols := outcomeColumns(report)

	header := table.Row{"Operation"}
	for _, col := range cols {
		header = append(header, col)
	}

	t := table.NewWriter()
	t.AppendHeader(header)
	for _, op := range operations(report) {
		t.AppendRow(countersRow(op, report.Decisions.ByOperation[op], cols))
	}
	t.AppendFooter(countersRow("total", report.Decisions.Total, cols))
	return t
}

func countersRow(label string, counters stats.Counters, cols []string) table.Row {
	row := table.Row{label}
	for _, col := range cols {
		row = append(row, counters[col])
	}
	return row
}
