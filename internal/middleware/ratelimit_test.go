package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/feedguard/internal/cache"
)

func serveRateLimited(t *testing.T, store RateStore, limit int, window time.Duration) func() *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RateLimit(store, limit, window))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	return func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		return w
	}
}

func TestRateLimitMiddlewareWithMemoryStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	send := serveRateLimited(t, NewMemoryRateStore(ctx), 2, 100*time.Millisecond)

	for i := 0; i < 2; i++ {
		w := send()
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := send()
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	time.Sleep(120 * time.Millisecond)

	require.Equal(t, http.StatusOK, send().Code)
}

func TestRateLimitMiddlewareWithRedisStore(t *testing.T) {
	server := miniredis.RunT(t)
	client, err := cache.NewRedisClient(cache.RedisConfig{Address: server.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	send := serveRateLimited(t, NewStoreRateStore(cache.NewRedisStore(client)), 1, time.Minute)

	require.Equal(t, http.StatusOK, send().Code)
	require.Equal(t, http.StatusTooManyRequests, send().Code)

	server.FastForward(time.Minute + time.Second)
	require.Equal(t, http.StatusOK, send().Code)
}

type failingRateStore struct{}

func (failingRateStore) Increment(context.Context, string, time.Duration) (int, time.Duration, error) {
	return 0, 0, errors.New("store down")
}

func TestRateLimitMiddlewareFailsOpenOnStoreError(t *testing.T) {
	send := serveRateLimited(t, failingRateStore{}, 1, time.Minute)

	require.Equal(t, http.StatusOK, send().Code)
	require.Equal(t, http.StatusOK, send().Code)
}
