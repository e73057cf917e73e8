package yahoo

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"

	"github.com/tickerlens/tickerlens/internal/core"
)

// flatten unwraps Yahoo's {"raw": ..., "fmt": ...} value objects and turns
// empty objects into nil. Nested objects and arrays are flattened recursively.
func flatten(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 0 {
			return nil
		}
		if raw, ok := val["raw"]; ok {
			return raw
		}
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if k == "maxAge" {
				continue
			}
			out[k] = flatten(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = flatten(inner)
		}
		return out
	default:
		return v
	}
}

// flattenModule flattens one quoteSummary module into a flat record.
func flattenModule(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	out, _ := flatten(m).(map[string]any)
	return out
}

// number extracts a float from a flattened value.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func numberPtr(v any) *float64 {
	f, ok := number(v)
	if !ok {
		return nil
	}
	return &f
}

func text(v any) string {
	s, _ := v.(string)
	return s
}

// epoch converts a Unix seconds value to time.
func epoch(v any) (time.Time, bool) {
	f, ok := number(v)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(f), 0).UTC(), true
}

func isoEpoch(v any) any {
	t, ok := epoch(v)
	if !ok {
		return nil
	}
	return core.ISOTime(t)
}

// humanize turns a camelCase metric key into a title-cased label, so
// "totalRevenue" becomes "Total Revenue" and "netIncomeFromContinuingOps"
// becomes "Net Income From Continuing Ops".
func humanize(key string) string {
	if key == "" {
		return key
	}
	runes := []rune(key)
	var b strings.Builder
	for i, r := range runes {
		if i == 0 {
			b.WriteRune(unicode.ToUpper(r))
			continue
		}
		prev := runes[i-1]
		nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
		if unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower)) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
