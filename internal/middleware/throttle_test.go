package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestThrottlerAllowsBurstThenRefills(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	th := NewThrottler(1, 2)
	th.now = func() time.Time { return now }

	require.True(t, th.Allow("u1"))
	require.True(t, th.Allow("u1"))
	require.False(t, th.Allow("u1"))
	require.True(t, th.Allow("u2"), "buckets are per key")

	now = now.Add(time.Second)
	require.True(t, th.Allow("u1"))
}

func TestThrottlerCleanupDropsIdleBuckets(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	th := NewThrottler(1, 1, WithIdleTTL(time.Minute))
	th.now = func() time.Time { return now }

	th.Allow("a")
	now = now.Add(30 * time.Second)
	th.Allow("b")
	now = now.Add(45 * time.Second)

	th.Cleanup()
	require.Equal(t, 1, th.Len())
}

func TestThrottleMiddlewareRejectsWhenEmpty(t *testing.T) {
	gin.SetMode(gin.TestMode)

	th := NewThrottler(0.001, 1)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(CtxUserIDKey, c.GetHeader("X-User"))
		c.Next()
	})
	r.POST("/api/jobs/trending", Throttle(th), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	send := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/jobs/trending", nil)
		req.Header.Set("X-User", user)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusNoContent, send("alice"))
	require.Equal(t, http.StatusTooManyRequests, send("alice"))
	require.Equal(t, http.StatusNoContent, send("bob"))
	require.Equal(t, http.StatusNoContent, send(""))
	require.Equal(t, http.StatusTooManyRequests, send(""))
}
