package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/feedguard/internal/auditctx"
	iauth "github.com/charlesng35/feedguard/internal/auth"
	"github.com/charlesng35/feedguard/pkg/response"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []auditctx.Entry
}

func (s *recordingSink) RecordAsync(_ context.Context, entry auditctx.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

func (s *recordingSink) all() []auditctx.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]auditctx.Entry(nil), s.entries...)
}

func newWAFRouter(sink auditctx.Sink) *gin.Engine {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(WAF(WAFConfig{ExemptPrefixes: []string{"/api/content", "api/uploads/"}, Audit: sink}))
	echo := func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, string(body))
	}
	r.GET("/api/search", echo)
	r.POST("/api/actions/:action", echo)
	r.POST("/api/content", echo)
	r.POST("/api/contentious", echo)
	return r
}

func TestWAFBlocksMaliciousQueryValue(t *testing.T) {
	sink := &recordingSink{}
	r := newWAFRouter(sink)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/search?q=%3Cscript%3Ealert(1)%3C/script%3E", nil))

	require.Equal(t, http.StatusForbidden, w.Code)
	var payload response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Equal(t, "REQUEST_BLOCKED", payload.Error.Code)

	entries := sink.all()
	require.Len(t, entries, 1)
	require.Equal(t, "waf.blocked", entries[0].Action)
	require.Equal(t, "XSS", entries[0].Metadata["category"])
	require.Equal(t, "url", entries[0].Metadata["source"])
}

func TestWAFAttributesBlockToBearer(t *testing.T) {
	gin.SetMode(gin.TestMode)

	verifier, err := iauth.NewVerifier(iauth.JWTConfig{Secret: "secret", AccessTokenTTL: time.Minute})
	require.NoError(t, err)
	token, err := verifier.Issue(iauth.IssueInput{UserID: "user-42"})
	require.NoError(t, err)

	sink := &recordingSink{}
	r := gin.New()
	r.Use(WAF(WAFConfig{Audit: sink, Verifier: verifier}))
	r.POST("/api/actions/:action", func(c *gin.Context) { c.Status(http.StatusCreated) })

	send := func(authorization string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/actions/comment",
			strings.NewReader(`{"target_id":"abc","body":"<script>alert(1)</script>"}`))
		req.Header.Set("Content-Type", "application/json")
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusForbidden, send("Bearer "+token))
	require.Equal(t, http.StatusForbidden, send("Bearer not-a-token"))
	require.Equal(t, http.StatusForbidden, send(""))

	entries := sink.all()
	require.Len(t, entries, 3)
	require.Equal(t, "user-42", entries[0].UserID)
	require.Empty(t, entries[1].UserID)
	require.Empty(t, entries[2].UserID)
}

func TestWAFAllowsCleanRequestsAndRestoresBody(t *testing.T) {
	r := newWAFRouter(nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/search?q=hello+world", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := `{"content_id":"abc","body":"A nice article about coding"}`
	req := httptest.NewRequest(http.MethodPost, "/api/actions/comment", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, body, w.Body.String())
}

func TestWAFBlocksMaliciousJSONBody(t *testing.T) {
	sink := &recordingSink{}
	r := newWAFRouter(sink)

	req := httptest.NewRequest(http.MethodPost, "/api/actions/comment",
		strings.NewReader(`{"content_id":"abc","meta":{"note":"'; DROP TABLE users;"}}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
	entries := sink.all()
	require.Len(t, entries, 1)
	require.Equal(t, "SQLi", entries[0].Metadata["category"])
	require.Equal(t, "body", entries[0].Metadata["source"])
}

func TestWAFExemptPrefixesSkipBodyButNotURL(t *testing.T) {
	r := newWAFRouter(nil)
	markup := `{"html":"<script>console.log('embed')</script>"}`

	req := httptest.NewRequest(http.MethodPost, "/api/content", strings.NewReader(markup))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, markup, w.Body.String())

	// prefix match respects path segments
	req = httptest.NewRequest(http.MethodPost, "/api/contentious", strings.NewReader(markup))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/content?redirect=javascript:alert(1)", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestWAFIgnoresNonJSONAndMalformedBodies(t *testing.T) {
	r := newWAFRouter(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/actions/comment", strings.NewReader("<script>"))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/actions/comment", strings.NewReader(`{"broken":`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, `{"broken":`, w.Body.String())
}
