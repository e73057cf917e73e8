package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// AppName names the config directory and the binary.
	AppName = "tickerlens"

	// EnvPrefix is prepended to every tickerlens environment variable.
	EnvPrefix = "TICKERLENS_"

	legacyEnvPrefix = "YFINANCE_"
)

var (
	appConfig *Config
	configMu  sync.RWMutex
)

// EnvVarSpec defines environment variable mappings for config fields
// Re-exported from gofulmen/config for convenience
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Governor defaults
	v.SetDefault("governor.window_seconds", 60.0)
	v.SetDefault("governor.max_requests_per_window", 30)
	v.SetDefault("governor.min_ticker_interval_seconds", 2.0)
	v.SetDefault("governor.cache_ttl_seconds", 60.0)
	v.SetDefault("governor.max_retries", 2)
	v.SetDefault("governor.backoff_base_seconds", 1.5)
	v.SetDefault("governor.coalesce", true)

	// Upstream defaults
	v.SetDefault("upstream.base_url", "https://query2.finance.yahoo.com")
	v.SetDefault("upstream.cookie_url", "https://fc.yahoo.com")
	v.SetDefault("upstream.timeout", "30s")
	v.SetDefault("upstream.user_agent", "")

	// Stats defaults
	v.SetDefault("stats.backend", "memory")
	v.SetDefault("stats.track_keys", false)
	v.SetDefault("stats.redis.addr", "localhost:6379")
	v.SetDefault("stats.redis.username", "")
	v.SetDefault("stats.redis.password", "")
	v.SetDefault("stats.redis.db", 0)
	v.SetDefault("stats.redis.prefix", "tickerlens:governor")
	v.SetDefault("stats.redis.ttl", "24h")
	v.SetDefault("stats.redis.bucket", "minute")

	// Ingress guard defaults
	v.SetDefault("ingress.enabled", false)
	v.SetDefault("ingress.rps", 10.0)
	v.SetDefault("ingress.burst", 20)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)
}

// Load decodes the settings held by v, applies environment and runtime
// overrides, validates the result and stores it for GetConfig.
//
// Environment precedence, lowest first: YFINANCE_-prefixed governor
// variables, their bare spellings (RATE_WINDOW_SECONDS, ...), then
// TICKERLENS_-prefixed variables.
func Load(v *viper.Viper, runtimeOverrides ...map[string]any) (*Config, error) {
	if v == nil {
		v = viper.GetViper()
	}

	merged := v.AllSettings()

	for _, specs := range [][]EnvVarSpec{
		governorEnvSpecs(legacyEnvPrefix),
		governorEnvSpecs(""),
		getEnvSpecs(EnvPrefix),
	} {
		envOverrides, err := gfconfig.LoadEnvOverrides(specs)
		if err != nil {
			return nil, fmt.Errorf("failed to load environment overrides: %w", err)
		}
		mergeSettings(merged, envOverrides)
	}
	for _, overrides := range runtimeOverrides {
		mergeSettings(merged, overrides)
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Stats.Backend = strings.ToLower(strings.TrimSpace(cfg.Stats.Backend))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// Validate reports every setting that cannot be used.
func (c *Config) Validate() error {
	var errs []error
	g := c.Governor
	if g.WindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("governor.window_seconds must be positive, got %v", g.WindowSeconds))
	}
	if g.MaxRequestsPerWindow <= 0 {
		errs = append(errs, fmt.Errorf("governor.max_requests_per_window must be positive, got %d", g.MaxRequestsPerWindow))
	}
	if g.MinTickerIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("governor.min_ticker_interval_seconds must not be negative, got %v", g.MinTickerIntervalSeconds))
	}
	if g.CacheTTLSeconds < 0 {
		errs = append(errs, fmt.Errorf("governor.cache_ttl_seconds must not be negative, got %v", g.CacheTTLSeconds))
	}
	if g.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("governor.max_retries must not be negative, got %d", g.MaxRetries))
	}
	if g.BackoffBaseSeconds <= 0 {
		errs = append(errs, fmt.Errorf("governor.backoff_base_seconds must be positive, got %v", g.BackoffBaseSeconds))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}

	switch c.Stats.Backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Stats.Redis.Addr) == "" {
			errs = append(errs, errors.New("stats.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("stats.backend must be memory or redis, got %q", c.Stats.Backend))
	}

	if c.Ingress.Enabled && (c.Ingress.RPS <= 0 || c.Ingress.Burst <= 0) {
		errs = append(errs, errors.New("ingress.rps and ingress.burst must be positive when ingress is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// governorEnvSpecs maps the governance variables under prefix.
func governorEnvSpecs(prefix string) []EnvVarSpec {
	return []EnvVarSpec{
		{Name: prefix + "RATE_WINDOW_SECONDS", Path: []string{"governor", "window_seconds"}, Type: EnvString},
		{Name: prefix + "MAX_REQUESTS_PER_WINDOW", Path: []string{"governor", "max_requests_per_window"}, Type: EnvInt},
		{Name: prefix + "MIN_TICKER_INTERVAL_SECONDS", Path: []string{"governor", "min_ticker_interval_seconds"}, Type: EnvString},
		{Name: prefix + "CACHE_TTL_SECONDS", Path: []string{"governor", "cache_ttl_seconds"}, Type: EnvString},
		{Name: prefix + "MAX_RETRIES", Path: []string{"governor", "max_retries"}, Type: EnvInt},
		{Name: prefix + "BACKOFF_BASE_SECONDS", Path: []string{"governor", "backoff_base_seconds"}, Type: EnvString},
	}
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs(prefix string) []EnvVarSpec {
	specs := governorEnvSpecs(prefix)
	return append(specs, []EnvVarSpec{
		{Name: prefix + "COALESCE", Path: []string{"governor", "coalesce"}, Type: EnvBool},

		// Server configuration
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		// Upstream
		{Name: prefix + "UPSTREAM_BASE_URL", Path: []string{"upstream", "base_url"}, Type: EnvString},
		{Name: prefix + "UPSTREAM_COOKIE_URL", Path: []string{"upstream", "cookie_url"}, Type: EnvString},
		{Name: prefix + "UPSTREAM_TIMEOUT", Path: []string{"upstream", "timeout"}, Type: EnvString},
		{Name: prefix + "UPSTREAM_USER_AGENT", Path: []string{"upstream", "user_agent"}, Type: EnvString},

		// Stats backend
		{Name: prefix + "STATS_BACKEND", Path: []string{"stats", "backend"}, Type: EnvString},
		{Name: prefix + "STATS_TRACK_KEYS", Path: []string{"stats", "track_keys"}, Type: EnvBool},
		{Name: prefix + "REDIS_ADDR", Path: []string{"stats", "redis", "addr"}, Type: EnvString},
		{Name: prefix + "REDIS_USERNAME", Path: []string{"stats", "redis", "username"}, Type: EnvString},
		{Name: prefix + "REDIS_PASSWORD", Path: []string{"stats", "redis", "password"}, Type: EnvString},
		{Name: prefix + "REDIS_DB", Path: []string{"stats", "redis", "db"}, Type: EnvInt},
		{Name: prefix + "REDIS_PREFIX", Path: []string{"stats", "redis", "prefix"}, Type: EnvString},
		{Name: prefix + "REDIS_TTL", Path: []string{"stats", "redis", "ttl"}, Type: EnvString},

		// Ingress guard
		{Name: prefix + "INGRESS_ENABLED", Path: []string{"ingress", "enabled"}, Type: EnvBool},
		{Name: prefix + "INGRESS_RPS", Path: []string{"ingress", "rps"}, Type: EnvString},
		{Name: prefix + "INGRESS_BURST", Path: []string{"ingress", "burst"}, Type: EnvInt},

		// Logging configuration
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Metrics configuration
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health configuration
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},
	}...)
}

// mergeSettings copies src into dst, descending into nested maps.
func mergeSettings(dst, src map[string]any) {
	for key, value := range src {
		key = strings.ToLower(key)
		srcMap, srcIsMap := value.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeSettings(dstMap, srcMap)
			continue
		}
		if srcIsMap {
			copied := make(map[string]any, len(srcMap))
			mergeSettings(copied, srcMap)
			dst[key] = copied
			continue
		}
		dst[key] = value
	}
}

// DefaultConfigDir returns the XDG-compliant config directory.
func DefaultConfigDir() string {
	return gfconfig.GetAppConfigDir(AppName)
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := DefaultConfigDir()
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}
