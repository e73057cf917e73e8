package config

import (
	"time"

	"github.com/tickerlens/tickerlens/internal/core/governor"
)

// Config represents the complete application configuration. Values are
// layered: built-in defaults, the optional YAML config file, then
// environment variables and runtime overrides.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Governor GovernorConfig `mapstructure:"governor" yaml:"governor"`
	Upstream UpstreamConfig `mapstructure:"upstream" yaml:"upstream"`
	Stats    StatsConfig    `mapstructure:"stats" yaml:"stats"`
	Ingress  IngressConfig  `mapstructure:"ingress" yaml:"ingress"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Health   HealthConfig   `mapstructure:"health" yaml:"health"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// GovernorConfig holds the request governance limits. Durations are given
// in (possibly fractional) seconds.
type GovernorConfig struct {
	WindowSeconds            float64 `mapstructure:"window_seconds" yaml:"window_seconds"`
	MaxRequestsPerWindow     int     `mapstructure:"max_requests_per_window" yaml:"max_requests_per_window"`
	MinTickerIntervalSeconds float64 `mapstructure:"min_ticker_interval_seconds" yaml:"min_ticker_interval_seconds"`
	CacheTTLSeconds          float64 `mapstructure:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`
	MaxRetries               int     `mapstructure:"max_retries" yaml:"max_retries"`
	BackoffBaseSeconds       float64 `mapstructure:"backoff_base_seconds" yaml:"backoff_base_seconds"`

	// Coalesce shares one upstream fetch among concurrent identical calls.
	Coalesce bool `mapstructure:"coalesce" yaml:"coalesce"`
}

// Build converts the seconds-based settings into a governor.Config.
func (g GovernorConfig) Build() governor.Config {
	return governor.Config{
		Window:         seconds(g.WindowSeconds),
		MaxRequests:    g.MaxRequestsPerWindow,
		MinKeyInterval: seconds(g.MinTickerIntervalSeconds),
		CacheTTL:       seconds(g.CacheTTLSeconds),
		MaxRetries:     g.MaxRetries,
		BackoffBase:    seconds(g.BackoffBaseSeconds),
		Coalesce:       g.Coalesce,
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// UpstreamConfig points the Yahoo client at its endpoints.
type UpstreamConfig struct {
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url"`
	CookieURL string        `mapstructure:"cookie_url" yaml:"cookie_url"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	UserAgent string        `mapstructure:"user_agent" yaml:"user_agent,omitempty"`
}

// StatsConfig selects where governor decision counters are kept.
type StatsConfig struct {
	// Backend is "memory" (per process) or "redis" (shared).
	Backend   string      `mapstructure:"backend" yaml:"backend"`
	TrackKeys bool        `mapstructure:"track_keys" yaml:"track_keys"`
	Redis     RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig contains the Redis connection for the shared stats backend.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Username string        `mapstructure:"username" yaml:"username,omitempty"`
	Password string        `mapstructure:"password" yaml:"-"`
	DB       int           `mapstructure:"db" yaml:"db"`
	Prefix   string        `mapstructure:"prefix" yaml:"prefix"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Bucket   string        `mapstructure:"bucket" yaml:"bucket"`
}

// IngressConfig guards the HTTP MCP endpoint with a token bucket. It limits
// inbound requests and is independent of the upstream governor.
type IngressConfig struct {
	Enabled bool    `mapstructure:"enabled" yaml:"enabled"`
	RPS     float64 `mapstructure:"rps" yaml:"rps"`
	Burst   int     `mapstructure:"burst" yaml:"burst"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port" yaml:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}
