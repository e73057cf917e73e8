package stats

import (
	"context"

	"github.com/tickerlens/tickerlens/internal/core/governor"
)

// Limits is the governor configuration expressed in seconds.
type Limits struct {
	WindowSeconds            float64 `json:"window_seconds" yaml:"window_seconds"`
	MaxRequestsPerWindow     int     `json:"max_requests_per_window" yaml:"max_requests_per_window"`
	MinTickerIntervalSeconds float64 `json:"min_ticker_interval_seconds" yaml:"min_ticker_interval_seconds"`
	CacheTTLSeconds          float64 `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`
	MaxRetries               int     `json:"max_retries" yaml:"max_retries"`
	BackoffBaseSeconds       float64 `json:"backoff_base_seconds" yaml:"backoff_base_seconds"`
	Coalesce                 bool    `json:"coalesce" yaml:"coalesce"`
}

// Occupancy is the live limiter and cache usage.
type Occupancy struct {
	WindowInUse   int `json:"window_in_use" yaml:"window_in_use"`
	TrackedKeys   int `json:"tracked_keys" yaml:"tracked_keys"`
	CachedEntries int `json:"cached_entries" yaml:"cached_entries"`
}

// Report combines limits, occupancy and decision counters.
type Report struct {
	Backend   string    `json:"backend" yaml:"backend"`
	Limits    Limits    `json:"limits" yaml:"limits"`
	Occupancy Occupancy `json:"occupancy" yaml:"occupancy"`
	Decisions Summary   `json:"decisions" yaml:"decisions"`
}

// Snapshotter exposes governor occupancy; *governor.Governor implements it.
type Snapshotter interface {
	Snapshot() governor.Snapshot
}

// Flusher is implemented by a governor that hands decisions to recorders in
// the background.
type Flusher interface {
	Flush(ctx context.Context) error
}

// BuildReport reads the governor snapshot and the counters from reader. When
// g is a Flusher, decisions already made are delivered first.
func BuildReport(ctx context.Context, backend string, g Snapshotter, reader Reader) (Report, error) {
	if f, ok := g.(Flusher); ok && reader != nil {
		if err := f.Flush(ctx); err != nil {
			return Report{}, err
		}
	}
	snap := g.Snapshot()
	cfg := snap.Config

	report := Report{
		Backend: backend,
		Limits: Limits{
			WindowSeconds:            cfg.Window.Seconds(),
			MaxRequestsPerWindow:     cfg.MaxRequests,
			MinTickerIntervalSeconds: cfg.MinKeyInterval.Seconds(),
			CacheTTLSeconds:          cfg.CacheTTL.Seconds(),
			MaxRetries:               cfg.MaxRetries,
			BackoffBaseSeconds:       cfg.BackoffBase.Seconds(),
			Coalesce:                 cfg.Coalesce,
		},
		Occupancy: Occupancy{
			WindowInUse:   snap.WindowInUse,
			TrackedKeys:   snap.TrackedKeys,
			CachedEntries: snap.CachedEntries,
		},
	}

	if reader == nil {
		report.Decisions = Summary{Total: Counters{}, ByOperation: map[string]Counters{}}
		return report, nil
	}
	summary, err := reader.Summary(ctx)
	if err != nil {
		return report, err
	}
	report.Decisions = summary
	return report, nil
}
