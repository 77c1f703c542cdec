package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/feedguard/internal/auth"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig("testdata")
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, 20*time.Second, cfg.Server.ShutdownTimeout)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5432, cfg.Database.Postgres.Port)

	require.True(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, "redis.example.com:6380", cfg.Cache.Redis.Address)
	require.Equal(t, 2, cfg.Cache.Redis.DB)
	require.Equal(t, 5*time.Second, cfg.Cache.Redis.Timeout)
	require.Equal(t, 250, cfg.Cache.Local.MaxEntries)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, 30*time.Minute, cfg.Auth.JWT.TTL)
	require.Equal(t, "feedguard", cfg.Auth.JWT.Issuer)

	require.True(t, cfg.Security.WAF.Enabled)
	require.Equal(t, []string{"/api/content", "/api/media"}, cfg.Security.WAF.ExemptPrefixes)
	require.Equal(t, 3, cfg.Security.WAF.MaxDepth)
	require.Equal(t, 60, cfg.Security.RateLimit.Requests)
	require.Equal(t, 30*time.Second, cfg.Security.RateLimit.Window)
	require.InDelta(t, 2.5, cfg.Security.Throttle.PerSecond, 0.0001)
	require.Equal(t, 4, cfg.Security.Throttle.Burst)

	require.True(t, cfg.Quota.FailOpen)
	require.Equal(t, "redis", cfg.Quota.Store)
	require.Equal(t, time.UTC.String(), cfg.Quota.QuotaLocation().String())

	require.Equal(t, 2*time.Second, cfg.Notifications.DispatchTimeout)

	require.True(t, cfg.Jobs.Trending.Enabled)
	require.Equal(t, "*/10 * * * *", cfg.Jobs.Trending.Schedule)
	require.Equal(t, "cron-secret", cfg.Jobs.Trending.Secret)
	require.Equal(t, "@hourly", cfg.Jobs.CachePurgeSchedule)
	require.Equal(t, 30, cfg.Maintenance.AuditRetentionDays)

	require.Equal(t, "staging", cfg.Observability.Sentry.Environment)
	require.Equal(t, "otel.example.com:4318", cfg.Observability.Tracing.Endpoint)
	require.Equal(t, "feedguard", cfg.Observability.Tracing.ServiceName)
	require.InDelta(t, 0.5, cfg.Observability.Tracing.SampleRatio, 0.0001)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.False(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, 1000, cfg.Cache.Local.MaxEntries)
	require.Equal(t, []string{"/api/content", "/api/uploads"}, cfg.Security.WAF.ExemptPrefixes)
	require.Equal(t, 5, cfg.Security.WAF.MaxDepth)
	require.Equal(t, 100, cfg.Security.RateLimit.Requests)
	require.Equal(t, time.Minute, cfg.Security.RateLimit.Window)
	require.False(t, cfg.Quota.FailOpen)
	require.Equal(t, "auto", cfg.Quota.Store)
	require.Equal(t, 5*time.Second, cfg.Notifications.DispatchTimeout)
	require.Equal(t, "@every 15m", cfg.Jobs.Trending.Schedule)
	require.Empty(t, cfg.Jobs.Trending.Secret)
	require.Equal(t, 90, cfg.Maintenance.AuditRetentionDays)
	require.Empty(t, cfg.Observability.Sentry.DSN)
	require.Empty(t, cfg.Observability.Tracing.Endpoint)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("FEEDGUARD_SERVER_PORT", "7070")
	t.Setenv("FEEDGUARD_QUOTA_FAIL_OPEN", "true")
	t.Setenv("FEEDGUARD_JOBS_TRENDING_SECRET", "from-env")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 7070, cfg.Server.Port)
	require.True(t, cfg.Quota.FailOpen)
	require.Equal(t, "from-env", cfg.Jobs.Trending.Secret)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Quota: QuotaConfig{Store: "memcached"}}
	require.ErrorContains(t, cfg.Validate(), "quota.store")

	cfg = Config{Quota: QuotaConfig{Store: "redis"}}
	require.ErrorContains(t, cfg.Validate(), "requires cache.redis.enabled")

	cfg = Config{Quota: QuotaConfig{Timezone: "Mars/Olympus"}}
	require.ErrorContains(t, cfg.Validate(), "quota.timezone")

	cfg = Config{Security: SecurityConfig{RateLimit: RateLimitConfig{Requests: -1}}}
	require.Error(t, cfg.Validate())

	cfg = Config{Quota: QuotaConfig{Store: "auto", Timezone: "UTC"}}
	require.NoError(t, cfg.Validate())
}

func TestQuotaLocationFallsBackToLocal(t *testing.T) {
	require.Equal(t, time.Local, QuotaConfig{}.QuotaLocation())
	require.Equal(t, time.Local, QuotaConfig{Timezone: "Nowhere/Invalid"}.QuotaLocation())
	require.Equal(t, "UTC", QuotaConfig{Timezone: "UTC"}.QuotaLocation().String())
}

func TestAuthConfigAdapters(t *testing.T) {
	cfg := AuthConfig{JWT: JWTSettings{Secret: "s", Issuer: "feedguard"}}
	jwtCfg := cfg.JWTServiceConfig()
	require.Equal(t, "s", jwtCfg.Secret)
	require.Equal(t, "feedguard", jwtCfg.Issuer)
	require.Equal(t, auth.DefaultAccessTokenTTL, jwtCfg.AccessTokenTTL)

	cfg.JWT.TTL = time.Hour
	require.Equal(t, time.Hour, cfg.JWTServiceConfig().AccessTokenTTL)
}

func TestCacheConfigRedisClientConfig(t *testing.T) {
	cfg := CacheConfig{Redis: RedisCacheConfig{Address: " 127.0.0.1:6379 ", DB: 3, Timeout: time.Second}}
	out := cfg.RedisClientConfig()
	require.Equal(t, "127.0.0.1:6379", out.Address)
	require.Equal(t, 3, out.DB)
	require.Equal(t, time.Second, out.Timeout)
}
