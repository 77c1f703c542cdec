package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the FeedGuard service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Security      SecurityConfig      `mapstructure:"security"`
	Quota         QuotaConfig         `mapstructure:"quota"`
	Notifications NotificationConfig  `mapstructure:"notifications"`
	Jobs          JobsConfig          `mapstructure:"jobs"`
	Maintenance   MaintenanceConfig   `mapstructure:"maintenance"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServerConfig configures the HTTP server and its logs.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFile         string        `mapstructure:"log_file"`
	LogMaxSizeMB    int           `mapstructure:"log_max_size_mb"`
	LogMaxBackups   int           `mapstructure:"log_max_backups"`
	LogMaxAgeDays   int           `mapstructure:"log_max_age_days"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes the shared Redis backend and the in-process cache.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
	Local LocalCacheConfig `mapstructure:"local"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LocalCacheConfig bounds the process-local expiring cache.
type LocalCacheConfig struct {
	MaxEntries int `mapstructure:"max_entries"`
}

// AuthConfig captures token verification settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	TTL      time.Duration `mapstructure:"access_token_ttl"`
	Leeway   time.Duration `mapstructure:"leeway"`
}

// SecurityConfig groups request filtering and rate limiting.
type SecurityConfig struct {
	WAF       WAFConfig       `mapstructure:"waf"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Throttle  ThrottleConfig  `mapstructure:"throttle"`
}

// WAFConfig controls the request pattern scanner.
type WAFConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	ExemptPrefixes []string `mapstructure:"exempt_prefixes"`
	MaxDepth       int      `mapstructure:"max_depth"`
	MaxBodyBytes   int64    `mapstructure:"max_body_bytes"`
}

// RateLimitConfig sets the global per-IP request budget.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// ThrottleConfig sets the per-user token bucket on costly endpoints.
type ThrottleConfig struct {
	PerSecond float64       `mapstructure:"per_second"`
	Burst     int           `mapstructure:"burst"`
	IdleTTL   time.Duration `mapstructure:"idle_ttl"`
}

// QuotaConfig controls daily action limits.
type QuotaConfig struct {
	FailOpen bool `mapstructure:"fail_open"`
	// Timezone names the IANA zone whose midnight resets quotas.
	Timezone string `mapstructure:"timezone"`
	// Store selects the reservation counter: auto, sql or redis.
	Store string `mapstructure:"store"`
}

// NotificationConfig tunes background notification dispatch.
type NotificationConfig struct {
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
}

// JobsConfig schedules background jobs.
type JobsConfig struct {
	Trending             TrendingJobConfig `mapstructure:"trending"`
	CachePurgeSchedule   string            `mapstructure:"cache_purge_schedule"`
	CounterPurgeSchedule string            `mapstructure:"counter_purge_schedule"`
}

// TrendingJobConfig configures the ranker schedule and its HTTP trigger.
type TrendingJobConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
	Secret   string `mapstructure:"secret"`
}

// MaintenanceConfig configures retention jobs.
type MaintenanceConfig struct {
	AuditRetentionDays int    `mapstructure:"audit_retention_days"`
	AuditSchedule      string `mapstructure:"audit_schedule"`
}

// ObservabilityConfig enables error reporting and tracing.
type ObservabilityConfig struct {
	Sentry  SentryConfig  `mapstructure:"sentry"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// SentryConfig configures crash and failure reporting. An empty DSN disables it.
type SentryConfig struct {
	DSN              string  `mapstructure:"dsn"`
	Environment      string  `mapstructure:"environment"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate"`
}

// TracingConfig configures the OTLP HTTP exporter. An empty endpoint disables tracing.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("FEEDGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings that cannot be served.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Quota.Store)) {
	case "", "auto", "sql", "redis":
	default:
		return fmt.Errorf("config: quota.store must be auto, sql or redis, got %q", c.Quota.Store)
	}
	if strings.EqualFold(strings.TrimSpace(c.Quota.Store), "redis") && !c.Cache.Redis.Enabled {
		return errors.New("config: quota.store=redis requires cache.redis.enabled")
	}
	if tz := strings.TrimSpace(c.Quota.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("config: quota.timezone: %w", err)
		}
	}
	if c.Security.RateLimit.Requests < 0 {
		return errors.New("config: security.rate_limit.requests must not be negative")
	}
	return nil
}

// QuotaLocation resolves the configured quota time zone, defaulting to the process zone.
func (c QuotaConfig) QuotaLocation() *time.Location {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_file", "")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/feedguard.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")
	v.SetDefault("cache.local.max_entries", 1000)

	v.SetDefault("auth.jwt.issuer", "feedguard")
	v.SetDefault("auth.jwt.audience", "")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")
	v.SetDefault("auth.jwt.leeway", "30s")

	v.SetDefault("security.waf.enabled", true)
	v.SetDefault("security.waf.exempt_prefixes", []string{"/api/content", "/api/uploads"})
	v.SetDefault("security.waf.max_depth", 5)
	v.SetDefault("security.waf.max_body_bytes", 1<<20)
	v.SetDefault("security.rate_limit.requests", 100)
	v.SetDefault("security.rate_limit.window", "1m")
	v.SetDefault("security.throttle.per_second", 5)
	v.SetDefault("security.throttle.burst", 10)
	v.SetDefault("security.throttle.idle_ttl", "10m")

	v.SetDefault("quota.fail_open", false)
	v.SetDefault("quota.timezone", "")
	v.SetDefault("quota.store", "auto")

	v.SetDefault("notifications.dispatch_timeout", "5s")

	v.SetDefault("jobs.trending.enabled", true)
	v.SetDefault("jobs.trending.schedule", "@every 15m")
	v.SetDefault("jobs.trending.secret", "")
	v.SetDefault("jobs.cache_purge_schedule", "@hourly")
	v.SetDefault("jobs.counter_purge_schedule", "@daily")

	v.SetDefault("maintenance.audit_retention_days", 90)
	v.SetDefault("maintenance.audit_schedule", "@daily")

	v.SetDefault("observability.sentry.environment", "production")
	v.SetDefault("observability.sentry.traces_sample_rate", 0)
	v.SetDefault("observability.tracing.service_name", "feedguard")
	v.SetDefault("observability.tracing.sample_ratio", 0.1)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
