package output

import (
	"fmt"
	"strings"

	"github.com/tickerlens/tickerlens/internal/core/engine"
	"github.com/tickerlens/tickerlens/internal/core/stats"
)

// MarkdownFormatter renders results as Markdown, suitable for README tool
// listings.
type MarkdownFormatter struct{}

// FormatTools renders a summary table followed by one section per tool.
func (f *MarkdownFormatter) FormatTools(tools []engine.Tool) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Tools\n\n")
	sb.WriteString(toolsTable(tools).RenderMarkdown())
	sb.WriteString("\n")

	for _, tool := range tools {
		sb.WriteString(fmt.Sprintf("\n### %s\n\n%s\n", tool.Name, tool.Description))
		params := parameters(tool)
		if len(params) == 0 {
			continue
		}
		sb.WriteString("\nParameters (* required): ")
		for i, p := range params {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("`" + escapeMarkdownCell(p) + "`")
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// FormatReport renders the governor report as two Markdown tables.
func (f *MarkdownFormatter) FormatReport(report stats.Report) (string, error) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Governor (%s)\n\n", escapeMarkdownCell(report.Backend)))
	sb.WriteString(limitsTable(report).RenderMarkdown())
	sb.WriteString("\n\n## Decisions\n\n")
	sb.WriteString(decisionsTable(report).RenderMarkdown())
	sb.WriteString("\n")
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
