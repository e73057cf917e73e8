package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ArgumentError reports a malformed tool call.
type ArgumentError struct {
	Argument string
	Reason   string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Argument, e.Reason)
}

func requiredString(args map[string]any, name string) (string, error) {
	value, ok, err := optionalString(args, name)
	if err != nil {
		return "", err
	}
	if !ok || strings.TrimSpace(value) == "" {
		return "", &ArgumentError{Argument: name, Reason: "required"}
	}
	return value, nil
}

func stringOr(args map[string]any, name, fallback string) (string, error) {
	value, ok, err := optionalString(args, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return fallback, nil
	}
	return value, nil
}

func optionalString(args map[string]any, name string) (string, bool, error) {
	raw, ok := args[name]
	if !ok || raw == nil {
		return "", false, nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", false, &ArgumentError{Argument: name, Reason: fmt.Sprintf("expected string, got %T", raw)}
	}
	return value, true, nil
}

// intOr accepts JSON numbers with no fractional part and numeric strings.
func intOr(args map[string]any, name string, fallback int) (int, error) {
	raw, ok := args[name]
	if !ok || raw == nil {
		return fallback, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, &ArgumentError{Argument: name, Reason: "expected integer"}
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, &ArgumentError{Argument: name, Reason: "expected integer"}
		}
		return n, nil
	default:
		return 0, &ArgumentError{Argument: name, Reason: fmt.Sprintf("expected integer, got %T", raw)}
	}
}
