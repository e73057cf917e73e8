package output

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tickerlens/tickerlens/internal/core/engine"
	"github.com/tickerlens/tickerlens/internal/core/stats"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// Formatter renders the tool catalogue and governor reports.
type Formatter interface {
	FormatTools(tools []engine.Tool) (string, error)
	FormatReport(report stats.Report) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatYAML:
		return &YAMLFormatter{}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// ToolView is the serializable shape of a tool.
type ToolView struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	InputSchema map[string]any `json:"inputSchema" yaml:"input_schema"`
}

func toolViews(tools []engine.Tool) []ToolView {
	views := make([]ToolView, 0, len(tools))
	for _, tool := range tools {
		views = append(views, ToolView{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return views
}

// parameters lists a tool's arguments, required ones first and marked with *.
func parameters(tool engine.Tool) []string {
	props, _ := tool.InputSchema["properties"].(map[string]any)
	required := map[string]bool{}
	switch req := tool.InputSchema["required"].(type) {
	case []string:
		for _, name := range req {
			required[name] = true
		}
	case []any:
		for _, name := range req {
			if s, ok := name.(string); ok {
				required[s] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if required[names[i]] != required[names[j]] {
			return required[names[i]]
		}
		return names[i] < names[j]
	})

	out := make([]string, 0, len(names))
	for _, name := range names {
		if required[name] {
			name += "*"
		}
		out = append(out, name)
	}
	return out
}

// operations returns the report's operation names in a stable order.
func operations(report stats.Report) []string {
	ops := make([]string, 0, len(report.Decisions.ByOperation))
	for op := range report.Decisions.ByOperation {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// outcomeColumns unions the outcome names seen across all operations.
func outcomeColumns(report stats.Report) []string {
	seen := map[string]bool{}
	for _, field := range report.Decisions.Total.Fields() {
		seen[field] = true
	}
	for _, counters := range report.Decisions.ByOperation {
		for _, field := range counters.Fields() {
			seen[field] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for field := range seen {
		cols = append(cols, field)
	}
	sort.Strings(cols)
	return cols
}

func seconds(v float64) string {
	return fmt.Sprintf("%gs", v)
}
