package testutil

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/feedguard/internal/api"
	"github.com/charlesng35/feedguard/internal/app"
	iauth "github.com/charlesng35/feedguard/internal/auth"
	"github.com/charlesng35/feedguard/internal/cache"
	sharedtestutil "github.com/charlesng35/feedguard/internal/database/testutil"
	"github.com/charlesng35/feedguard/internal/middleware"
	"github.com/charlesng35/feedguard/internal/models"
	"github.com/charlesng35/feedguard/internal/quota"
	"github.com/charlesng35/feedguard/internal/ranking"
	"github.com/charlesng35/feedguard/internal/realtime"
	"github.com/charlesng35/feedguard/internal/services"
	"github.com/charlesng35/feedguard/pkg/response"
	"github.com/charlesng35/feedguard/pkg/retry"
)

// JobSecret authorises the trending trigger in test environments.
const JobSecret = "test-job-secret"

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T             *testing.T
	DB            *gorm.DB
	Router        *gin.Engine
	Verifier      *iauth.Verifier
	Hub           *realtime.Hub
	Cache         *cache.Expiring
	Notifications *services.NotificationService
	Audit         *services.AuditService
	Ranker        *ranking.Ranker
}

// Option customises a test environment.
type Option func(*envOptions)

type envOptions struct {
	configure []func(*app.Config)
	rateStore middleware.RateStore
}

// WithConfig adjusts the application config before the router is built.
func WithConfig(fn func(*app.Config)) Option {
	return func(o *envOptions) {
		o.configure = append(o.configure, fn)
	}
}

// WithRateStore enables the global rate limit on store.
func WithRateStore(store middleware.RateStore) Option {
	return func(o *envOptions) {
		o.rateStore = store
	}
}

// NewEnv provisions a fresh handler test environment with migrations applied. Quotas are
// counted in UTC on the SQL counter; WAF and the global rate limit are off unless enabled.
func NewEnv(t *testing.T, opts ...Option) *Env {
	t.Helper()

	var options envOptions
	for _, opt := range opts {
		opt(&options)
	}

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate(), sharedtestutil.WithSingleConnection())

	cfg := &app.Config{
		Auth: app.AuthConfig{JWT: app.JWTSettings{
			Secret: "test-suite-super-secret-key-32-bytes!!",
			Issuer: "test-suite",
			TTL:    time.Hour,
		}},
		Jobs: app.JobsConfig{Trending: app.TrendingJobConfig{Enabled: true, Secret: JobSecret}},
	}
	for _, fn := range options.configure {
		fn(cfg)
	}

	verifier, err := iauth.NewVerifier(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	local := cache.NewExpiring(100)
	hub := realtime.NewHub()

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	rows, err := quota.NewGormRowCounter(db)
	require.NoError(t, err)
	counter, err := quota.NewSQLCounter(db)
	require.NoError(t, err)
	limiter, err := quota.NewLimiter(rows, counter,
		quota.WithLocation(time.UTC),
		quota.WithRetryPolicy(retry.Policy{Timeout: time.Second, Delay: time.Millisecond, Attempts: 2}),
		quota.WithAuditSink(audit),
	)
	require.NoError(t, err)

	notifications, err := services.NewNotificationService(db, hub)
	require.NoError(t, err)
	interactions, err := services.NewInteractionService(db, limiter, notifications, local)
	require.NoError(t, err)

	store, err := ranking.NewGormStore(db)
	require.NoError(t, err)
	ranker, err := ranking.NewRanker(store, ranking.WithCache(local), ranking.WithPublisher(hub))
	require.NoError(t, err)

	router, err := api.NewRouter(api.Dependencies{
		Config:        cfg,
		DB:            db,
		Verifier:      verifier,
		Interactions:  interactions,
		Notifications: notifications,
		Audit:         audit,
		Trending:      ranker,
		Feed:          store,
		Hub:           hub,
		LocalCache:    local,
		RateStore:     options.rateStore,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		notifications.Wait()
		audit.Wait()
	})

	return &Env{
		T:             t,
		DB:            db,
		Router:        router,
		Verifier:      verifier,
		Hub:           hub,
		Cache:         local,
		Notifications: notifications,
		Audit:         audit,
		Ranker:        ranker,
	}
}

// Token issues an access token for userID.
func (e *Env) Token(userID string) string {
	e.T.Helper()
	token, err := e.Verifier.Issue(iauth.IssueInput{UserID: userID})
	require.NoError(e.T, err)
	return token
}

// CreateProfile inserts a profile on the given plan.
func (e *Env) CreateProfile(id, plan string) *models.Profile {
	e.T.Helper()
	profile := &models.Profile{ID: id, Username: id, Plan: plan}
	require.NoError(e.T, e.DB.Create(profile).Error)
	return profile
}

// CreateContent inserts published content by author, published age ago.
func (e *Env) CreateContent(id, author string, age time.Duration) *models.Content {
	e.T.Helper()
	published := time.Now().Add(-age)
	content := &models.Content{
		BaseModel:   models.BaseModel{ID: id},
		AuthorID:    author,
		Title:       "content " + id,
		Status:      models.ContentPublished,
		PublishedAt: &published,
	}
	require.NoError(e.T, e.DB.Create(content).Error)
	return content
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and
// the bearer token when one is given.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(e.T, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
