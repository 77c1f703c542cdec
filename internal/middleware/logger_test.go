package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/feedguard/pkg/logger"
)

func TestLoggerAssignsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	require.NoError(t, logger.Init("debug"))

	r := gin.New()
	r.Use(Logger("/health"))
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(CtxRequestIDKey))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)
	generated := w.Header().Get(RequestIDHeader)
	require.NotEmpty(t, generated)
	require.Equal(t, generated, w.Body.String())

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "trace-42")
	r.ServeHTTP(w, req)
	require.Equal(t, "trace-42", w.Header().Get(RequestIDHeader))
}

func TestHasAnyPrefix(t *testing.T) {
	require.True(t, hasAnyPrefix("/health/ready", []string{"/metrics", "/health"}))
	require.False(t, hasAnyPrefix("/api/feed", []string{"/health"}))
	require.False(t, hasAnyPrefix("/api/feed", []string{""}))
}
