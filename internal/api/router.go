package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/charlesng35/feedguard/internal/app"
	iauth "github.com/charlesng35/feedguard/internal/auth"
	"github.com/charlesng35/feedguard/internal/cache"
	"github.com/charlesng35/feedguard/internal/handlers"
	"github.com/charlesng35/feedguard/internal/middleware"
	"github.com/charlesng35/feedguard/internal/realtime"
	"github.com/charlesng35/feedguard/internal/services"
)

// Dependencies are the collaborators the HTTP surface is built from.
type Dependencies struct {
	Config   *app.Config
	DB       *gorm.DB
	Redis    redis.UniversalClient
	Verifier *iauth.Verifier

	Interactions  *services.InteractionService
	Notifications *services.NotificationService
	Audit         *services.AuditService
	Trending      handlers.TrendingRunner
	Feed          handlers.TrendingReader
	Hub           *realtime.Hub

	// LocalCache backs the trending feed response cache.
	LocalCache *cache.Expiring
	// RateStore shares the global request budget across instances. Nil disables it.
	RateStore middleware.RateStore
	// Throttler guards costly authenticated endpoints. Nil disables it.
	Throttler *middleware.Throttler
}

func (d Dependencies) validate() error {
	switch {
	case d.Config == nil:
		return errors.New("config must be provided")
	case d.DB == nil:
		return errors.New("database handle must be provided")
	case d.Verifier == nil:
		return errors.New("token verifier must be provided")
	case d.Interactions == nil:
		return errors.New("interaction service must be provided")
	case d.Notifications == nil:
		return errors.New("notification service must be provided")
	case d.Trending == nil || d.Feed == nil:
		return errors.New("trending ranker must be provided")
	case d.Hub == nil:
		return errors.New("realtime hub must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}
	cfg := deps.Config

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger("/health", "/metrics"))
	r.Use(middleware.Metrics())
	if cfg.Observability.Tracing.Endpoint != "" {
		r.Use(otelgin.Middleware(cfg.Observability.Tracing.ServiceName))
	}
	r.Use(middleware.SecurityHeaders())
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws", "/metrics"})))
	r.Use(middleware.RateLimit(deps.RateStore, cfg.Security.RateLimit.Requests, rateWindow(cfg.Security.RateLimit.Window)))
	if cfg.Security.WAF.Enabled {
		wafCfg := middleware.WAFConfig{
			ExemptPrefixes: cfg.Security.WAF.ExemptPrefixes,
			MaxDepth:       cfg.Security.WAF.MaxDepth,
			MaxBodyBytes:   cfg.Security.WAF.MaxBodyBytes,
			Verifier:       deps.Verifier,
		}
		if deps.Audit != nil {
			wafCfg.Audit = deps.Audit
		}
		r.Use(middleware.WAF(wafCfg))
	}

	registerHealthRoutes(r, deps.DB, deps.Redis)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	registerJobRoutes(r, handlers.NewJobHandler(deps.Trending, cfg.Jobs.Trending.Secret), deps.Throttler)
	registerRealtimeRoutes(r, handlers.NewRealtimeHandler(deps.Hub), middleware.AuthWithQueryToken(deps.Verifier))

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.Verifier))

	registerActionRoutes(api, handlers.NewActionHandler(deps.Interactions), deps.Throttler)
	registerNotificationRoutes(api, handlers.NewNotificationHandler(deps.Notifications))
	registerFeedRoutes(api, handlers.NewFeedHandler(deps.Feed, deps.LocalCache))
	api.GET("/audit/me", handlers.NewAuditHandler(deps.Audit).Mine)

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func rateWindow(window time.Duration) time.Duration {
	if window <= 0 {
		return time.Minute
	}
	return window
}
