package metrics

import (
	"context"

	"github.com/tickerlens/tickerlens/internal/core/engine"
	"github.com/tickerlens/tickerlens/internal/core/governor"
	"github.com/tickerlens/tickerlens/internal/observability"
)

// Metric names following Prometheus conventions
const (
	ToolCallsTotal       = "tool_calls_total"
	ToolCallDuration     = "tool_call_duration_ms"
	GovernorDecisions    = "governor_decisions_total"
	GovernorRetriesTotal = "governor_retries_total"
	ServerStartTime      = "app_server_start_time_seconds"
)

// ToolCalls emits one counter and one duration histogram per tool call.
// It implements engine.Observer.
type ToolCalls struct{}

var _ engine.Observer = ToolCalls{}

// ObserveToolCall implements engine.Observer.
func (ToolCalls) ObserveToolCall(_ context.Context, res engine.CallResult) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}

	_ = sys.Counter(ToolCallsTotal, 1, map[string]string{
		"tool":    res.Tool,
		"outcome": string(res.Outcome),
	})
	_ = sys.Histogram(ToolCallDuration, res.Duration, map[string]string{
		"tool": res.Tool,
	})
}

// Decisions counts governor decisions. Retries go to their own counter
// because they happen inside a single fetched or failed call.
// It implements governor.Recorder.
type Decisions struct{}

var _ governor.Recorder = Decisions{}

// Record implements governor.Recorder.
func (Decisions) Record(_ context.Context, ev governor.Event) error {
	sys := observability.TelemetrySystem
	if sys == nil {
		return nil
	}

	if ev.Outcome == governor.OutcomeRetry {
		return sys.Counter(GovernorRetriesTotal, 1, map[string]string{
			"operation": ev.Operation,
		})
	}
	return sys.Counter(GovernorDecisions, 1, map[string]string{
		"decision":  string(ev.Outcome),
		"operation": ev.Operation,
	})
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerStartTime, float64(timestamp), nil)
	}
}
