package output

import (
	"encoding/json"

	"gopkg.in/yaml.v3"

	"github.com/tickerlens/tickerlens/internal/core/engine"
	"github.com/tickerlens/tickerlens/internal/core/stats"
)

// JSONFormatter renders values as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatTools renders the tool catalogue as a JSON array.
func (f *JSONFormatter) FormatTools(tools []engine.Tool) (string, error) {
	return f.marshal(toolViews(tools))
}

// FormatReport renders a governor report as JSON.
func (f *JSONFormatter) FormatReport(report stats.Report) (string, error) {
	return f.marshal(report)
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// YAMLFormatter renders values as YAML.
type YAMLFormatter struct{}

// FormatTools renders the tool catalogue as a YAML sequence.
func (f *YAMLFormatter) FormatTools(tools []engine.Tool) (string, error) {
	return marshalYAML(toolViews(tools))
}

// FormatReport renders a governor report as YAML.
func (f *YAMLFormatter) FormatReport(report stats.Report) (string, error) {
	return marshalYAML(report)
}

func marshalYAML(v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
