package handlers_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/feedguard/internal/handlers/testutil"
	"github.com/charlesng35/feedguard/internal/models"
)

type jobPayload struct {
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
	Scanned int `json:"scanned"`
}

func runTrendingJob(t *testing.T, env *testutil.Env) jobPayload {
	t.Helper()
	w := env.Request(http.MethodPost, "/api/jobs/trending", nil, testutil.JobSecret)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var payload jobPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &payload)
	return payload
}

func TestTrendingJobScoresPublishedContent(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateContent("fresh", "author-1", time.Hour)
	env.CreateContent("older", "author-1", 48*time.Hour)
	require.NoError(t, env.DB.Create(&models.Content{
		BaseModel: models.BaseModel{ID: "draft"},
		AuthorID:  "author-1",
		Status:    models.ContentDraft,
	}).Error)
	require.NoError(t, env.DB.Model(&models.Content{}).Where("id = ?", "fresh").
		Updates(map[string]any{"views": 100, "likes": 10}).Error)

	w := env.Request(http.MethodPost, "/api/jobs/trending", nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	payload := runTrendingJob(t, env)
	require.Equal(t, 2, payload.Scanned)
	require.Equal(t, 2, payload.Updated)
	require.Zero(t, payload.Failed)

	var fresh models.Content
	require.NoError(t, env.DB.First(&fresh, "id = ?", "fresh").Error)
	require.Greater(t, fresh.TrendingScore, 0.0)
	require.NotNil(t, fresh.TrendingUpdatedAt)
}

func TestTrendingFeedIsCachedUntilNextRun(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateContent("first", "author-1", time.Hour)
	runTrendingJob(t, env)

	token := env.Token("reader-1")
	w := env.Request(http.MethodGet, "/api/feed/trending?limit=10", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var items []models.Content
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &items)
	require.Len(t, items, 1)
	require.Equal(t, "first", items[0].ID)

	env.CreateContent("second", "author-2", 2*time.Hour)

	w = env.Request(http.MethodGet, "/api/feed/trending?limit=10", nil, token)
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &items)
	require.Len(t, items, 1, "page is served from cache")

	runTrendingJob(t, env)

	w = env.Request(http.MethodGet, "/api/feed/trending?limit=10", nil, token)
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &items)
	require.Len(t, items, 2, "ranker run invalidates cached pages")
}

func TestTrendingFeedRequiresAuth(t *testing.T) {
	env := testutil.NewEnv(t)
	w := env.Request(http.MethodGet, "/api/feed/trending", nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
