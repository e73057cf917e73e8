package cmd

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tickerlens/tickerlens/internal/config"
	"github.com/tickerlens/tickerlens/internal/core/engine"
	"github.com/tickerlens/tickerlens/internal/core/governor"
	"github.com/tickerlens/tickerlens/internal/core/stats"
	"github.com/tickerlens/tickerlens/internal/core/yahoo"
	"github.com/tickerlens/tickerlens/internal/mcp"
	"github.com/tickerlens/tickerlens/internal/metrics"
	"github.com/tickerlens/tickerlens/internal/observability"
)

// app is the wired tool server shared by serve, stdio and call.
type app struct {
	cfg          *config.Config
	store        stats.Store
	redis        *redis.Client
	governor     *governor.Governor
	orchestrator *engine.Orchestrator
	mcp          *mcp.Server
}

// newApp builds the provider, governor, stats store and MCP server from cfg.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := observability.Logger()

	a := &app{cfg: cfg}
	if err := a.openStats(ctx); err != nil {
		return nil, err
	}

	gcfg := cfg.Governor.Build()
	a.governor = governor.New(gcfg,
		governor.WithLogger(logger),
		governor.WithRecorder(a.store, metrics.Decisions{}),
		governor.WithFetchTimeout(fetchBudget(gcfg, cfg.Upstream.Timeout)),
	)

	a.orchestrator = &engine.Orchestrator{
		Provider:  newProvider(cfg.Upstream),
		Governor:  a.governor,
		Observers: []engine.Observer{metrics.ToolCalls{}},
	}

	a.mcp = mcp.NewServer(a.orchestrator,
		mcp.WithLogger(logger),
		mcp.WithImplementation(config.AppName, versionInfo.Version),
	)

	logger.Debug("Governor configured",
		zap.Float64("window_seconds", cfg.Governor.WindowSeconds),
		zap.Int("max_requests_per_window", cfg.Governor.MaxRequestsPerWindow),
		zap.Float64("min_ticker_interval_seconds", cfg.Governor.MinTickerIntervalSeconds),
		zap.Float64("cache_ttl_seconds", cfg.Governor.CacheTTLSeconds),
		zap.Int("max_retries", cfg.Governor.MaxRetries),
		zap.String("stats_backend", cfg.Stats.Backend))
	return a, nil
}

// maxFetchSteps is the most upstream calls one tool fetch makes.
const maxFetchSteps = 3

// fetchBudget bounds a shared fetch: every step may use all of its attempts
// and backoff delays. Zero when the upstream timeout is unset.
func fetchBudget(cfg governor.Config, timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 0
	}
	attempts := time.Duration(cfg.MaxRetries + 1)
	r := governor.Retrier{MaxRetries: cfg.MaxRetries, BaseDelay: cfg.BackoffBase, JitterRatio: governor.DefaultJitterRatio, Rand: func() float64 { return 1 }}
	var backoff time.Duration
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		backoff += r.Backoff(attempt)
	}
	return maxFetchSteps * (attempts*timeout + backoff)
}

func newProvider(cfg config.UpstreamConfig) *yahoo.Client {
	opts := []yahoo.ClientOption{
		yahoo.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, yahoo.WithBaseURL(cfg.BaseURL))
	}
	if cfg.CookieURL != "" {
		opts = append(opts, yahoo.WithCookieURL(cfg.CookieURL))
	}
	if ua := strings.TrimSpace(cfg.UserAgent); ua != "" {
		opts = append(opts, yahoo.WithHeader(http.Header{"User-Agent": []string{ua}}))
	}
	return yahoo.NewClient(opts...)
}

func (a *app) openStats(ctx context.Context) error {
	sc := a.cfg.Stats
	if sc.Backend != "redis" {
		a.store = stats.NewMemoryStore(stats.WithTrackKeys(sc.TrackKeys))
		return nil
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     sc.Redis.Addr,
		Username: sc.Redis.Username,
		Password: sc.Redis.Password,
		DB:       sc.Redis.DB,
	})
	store := stats.NewRedisStore(a.redis,
		stats.WithPrefix(sc.Redis.Prefix),
		stats.WithTTL(sc.Redis.TTL),
		stats.WithBucket(sc.Redis.Bucket),
		stats.WithRedisTrackKeys(sc.TrackKeys),
	)
	if err := store.Ping(ctx); err != nil {
		_ = a.redis.Close()
		return fmt.Errorf("stats backend redis at %s: %w", sc.Redis.Addr, err)
	}
	a.store = store
	return nil
}

// report builds the governor report for this process.
func (a *app) report(ctx context.Context) (stats.Report, error) {
	return stats.BuildReport(ctx, a.cfg.Stats.Backend, a.governor, a.store)
}

func (a *app) Close() error {
	if a.governor != nil {
		a.governor.Close()
	}
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}
