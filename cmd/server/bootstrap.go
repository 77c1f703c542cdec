package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/feedguard/internal/api"
	"github.com/charlesng35/feedguard/internal/app"
	"github.com/charlesng35/feedguard/internal/app/maintenance"
	iauth "github.com/charlesng35/feedguard/internal/auth"
	"github.com/charlesng35/feedguard/internal/cache"
	"github.com/charlesng35/feedguard/internal/database"
	"github.com/charlesng35/feedguard/internal/middleware"
	"github.com/charlesng35/feedguard/internal/quota"
	"github.com/charlesng35/feedguard/internal/ranking"
	"github.com/charlesng35/feedguard/internal/realtime"
	"github.com/charlesng35/feedguard/internal/services"
	"github.com/charlesng35/feedguard/pkg/logger"
)

const throttleJanitorInterval = time.Minute

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB            *gorm.DB
	Redis         *redis.Client
	Audit         *services.AuditService
	Notifications *services.NotificationService
	Scheduler     *maintenance.Scheduler
	RateStore     middleware.RateStore
	Router        *gin.Engine

	// QuotaStore names the counter backing daily reservations (sql|redis).
	QuotaStore string

	cancelBackground context.CancelFunc
}

// bootstrapRuntime initialises databases, caches, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisClient(cfg.Cache.RedisClientConfig()); err != nil {
			if strings.EqualFold(strings.TrimSpace(cfg.Quota.Store), "redis") {
				return nil, fmt.Errorf("quota store requires redis: %w", err)
			}
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(err))
			stack.Redis = nil
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	backgroundCtx, cancel := context.WithCancel(ctx)
	stack.cancelBackground = cancel

	verifier, err := iauth.NewVerifier(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise token verifier: %w", err)
	}

	local := cache.NewExpiring(cfg.Cache.Local.MaxEntries)
	hub := realtime.NewHub()
	dbStore := cache.NewDatabaseStore(stack.DB)

	stack.Audit, err = services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	rows, err := quota.NewGormRowCounter(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise quota row counter: %w", err)
	}
	counter, sqlCounter, err := selectQuotaCounter(cfg.Quota, stack.DB, stack.Redis)
	if err != nil {
		return nil, err
	}
	stack.QuotaStore = "redis"
	if sqlCounter != nil {
		stack.QuotaStore = "sql"
	}

	limiter, err := quota.NewLimiter(rows, counter,
		quota.WithLocation(cfg.Quota.QuotaLocation()),
		quota.WithFailOpen(cfg.Quota.FailOpen),
		quota.WithAuditSink(stack.Audit),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise quota limiter: %w", err)
	}

	stack.Notifications, err = services.NewNotificationService(stack.DB, hub,
		services.WithDispatchTimeout(cfg.Notifications.DispatchTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise notification service: %w", err)
	}

	interactions, err := services.NewInteractionService(stack.DB, limiter, stack.Notifications, local)
	if err != nil {
		return nil, fmt.Errorf("initialise interaction service: %w", err)
	}

	store, err := ranking.NewGormStore(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise ranking store: %w", err)
	}
	ranker, err := ranking.NewRanker(store, ranking.WithCache(local), ranking.WithPublisher(hub))
	if err != nil {
		return nil, fmt.Errorf("initialise trending ranker: %w", err)
	}

	if stack.Redis != nil {
		stack.RateStore = middleware.NewStoreRateStore(cache.NewRedisStore(stack.Redis))
	} else {
		stack.RateStore = middleware.NewStoreRateStore(dbStore)
	}

	var throttler *middleware.Throttler
	if cfg.Security.Throttle.PerSecond > 0 {
		throttler = middleware.NewThrottler(cfg.Security.Throttle.PerSecond, cfg.Security.Throttle.Burst,
			middleware.WithIdleTTL(cfg.Security.Throttle.IdleTTL))
		throttler.StartJanitor(backgroundCtx, throttleJanitorInterval)
	}

	schedulerOpts := []maintenance.Option{
		maintenance.WithCachePurge(dbStore, cfg.Jobs.CachePurgeSchedule),
		maintenance.WithAuditRetention(stack.Audit, cfg.Maintenance.AuditRetentionDays, cfg.Maintenance.AuditSchedule),
	}
	if cfg.Jobs.Trending.Enabled {
		schedulerOpts = append(schedulerOpts, maintenance.WithTrending(ranker, cfg.Jobs.Trending.Schedule))
	}
	if sqlCounter != nil {
		schedulerOpts = append(schedulerOpts, maintenance.WithCounterPurge(sqlCounter, cfg.Jobs.CounterPurgeSchedule))
	}
	stack.Scheduler = maintenance.NewScheduler(schedulerOpts...)
	if err := stack.Scheduler.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}
	log.Info("maintenance jobs scheduled", zap.Strings("jobs", stack.Scheduler.Jobs()))

	deps := api.Dependencies{
		Config:        cfg,
		DB:            stack.DB,
		Verifier:      verifier,
		Interactions:  interactions,
		Notifications: stack.Notifications,
		Audit:         stack.Audit,
		Trending:      ranker,
		Feed:          store,
		Hub:           hub,
		LocalCache:    local,
		RateStore:     stack.RateStore,
		Throttler:     throttler,
	}
	if stack.Redis != nil {
		deps.Redis = stack.Redis
	}

	stack.Router, err = api.NewRouter(deps)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// selectQuotaCounter picks the reservation counter for the configured store. The SQL
// counter is returned separately so its expired rows can be purged.
func selectQuotaCounter(cfg app.QuotaConfig, db *gorm.DB, client *redis.Client) (quota.Counter, *quota.SQLCounter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Store))

	if mode == "redis" || (mode != "sql" && client != nil) {
		if client == nil {
			return nil, nil, errors.New("quota store redis selected without a redis client")
		}
		counter, err := quota.NewRedisCounter(client)
		if err != nil {
			return nil, nil, fmt.Errorf("initialise redis quota counter: %w", err)
		}
		return counter, nil, nil
	}

	counter, err := quota.NewSQLCounter(db)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise sql quota counter: %w", err)
	}
	return counter, counter, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Scheduler != nil {
		select {
		case <-s.Scheduler.Stop().Done():
		case <-ctx.Done():
			log.Warn("maintenance jobs still running at shutdown")
		}
	}

	if s.cancelBackground != nil {
		s.cancelBackground()
	}

	if s.Notifications != nil {
		s.Notifications.Wait()
	}
	if s.Audit != nil {
		s.Audit.Wait()
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		applyAuth(&dbCfg, cfg.Database.Postgres)
	case "mysql":
		applyAuth(&dbCfg, cfg.Database.MySQL)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func applyAuth(dbCfg *database.Config, auth app.DBAuthConfig) {
	dbCfg.Host = strings.TrimSpace(auth.Host)
	dbCfg.Port = auth.Port
	dbCfg.Name = strings.TrimSpace(auth.Database)
	dbCfg.User = strings.TrimSpace(auth.Username)
	dbCfg.Password = auth.Password
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
