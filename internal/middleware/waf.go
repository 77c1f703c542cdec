package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/feedguard/internal/auditctx"
	iauth "github.com/charlesng35/feedguard/internal/auth"
	"github.com/charlesng35/feedguard/internal/waf"
	"github.com/charlesng35/feedguard/pkg/errors"
	"github.com/charlesng35/feedguard/pkg/logger"
	"github.com/charlesng35/feedguard/pkg/metrics"
	"github.com/charlesng35/feedguard/pkg/response"
)

const defaultWAFMaxBodyBytes int64 = 1 << 20

// WAFConfig controls which requests the pattern scanner inspects.
type WAFConfig struct {
	// ExemptPrefixes skip body scanning; URLs are always scanned.
	ExemptPrefixes []string
	MaxDepth       int
	MaxBodyBytes   int64
	Audit          auditctx.Sink
	// Verifier attributes blocked requests to the bearer's user. The scan runs before Auth,
	// so a missing or invalid token only leaves the user empty.
	Verifier *iauth.Verifier
}

// WAF rejects requests whose URL or JSON body matches an attack signature.
func WAF(cfg WAFConfig) gin.HandlerFunc {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = waf.DefaultMaxDepth
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultWAFMaxBodyBytes
	}
	exempt := normalisePrefixes(cfg.ExemptPrefixes)
	log := logger.WithModule("waf")

	return func(c *gin.Context) {
		req := c.Request

		if res := waf.ScanURL(req.URL.EscapedPath(), waf.ParseQuery(req.URL.RawQuery)); res.Blocked {
			rejectBlocked(c, log, cfg, res, "url")
			return
		}

		if !scansBody(req) || hasExemptPrefix(req.URL.Path, exempt) {
			c.Next()
			return
		}

		raw, err := io.ReadAll(io.LimitReader(req.Body, cfg.MaxBodyBytes+1))
		if err != nil {
			c.Next()
			return
		}
		// the handler still sees the full body, including anything past the limit
		req.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(raw), req.Body), Closer: req.Body}

		if len(raw) == 0 || int64(len(raw)) > cfg.MaxBodyBytes {
			c.Next()
			return
		}

		var payload any
		if err := json.Unmarshal(raw, &payload); err != nil {
			c.Next()
			return
		}

		if res := waf.ScanTree(payload, cfg.MaxDepth); res.Blocked {
			rejectBlocked(c, log, cfg, res, "body")
			return
		}

		c.Next()
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}

func rejectBlocked(c *gin.Context, log *zap.Logger, cfg WAFConfig, res waf.Result, source string) {
	metrics.WAFBlocks.WithLabelValues(string(res.Reason), source).Inc()

	userID := blockedUserID(c, cfg.Verifier)
	log.Warn("request blocked",
		zap.String("category", string(res.Reason)),
		zap.String("source", source),
		zap.String("path", c.Request.URL.Path),
		zap.String("client_ip", c.ClientIP()),
		zap.String("user_id", userID),
	)

	if cfg.Audit != nil {
		cfg.Audit.RecordAsync(c.Request.Context(), auditctx.Entry{
			UserID:    userID,
			Action:    "waf.blocked",
			Resource:  c.Request.URL.Path,
			Result:    "blocked",
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			Metadata: map[string]any{
				"category": string(res.Reason),
				"pattern":  res.Pattern,
				"source":   source,
				"method":   c.Request.Method,
			},
		})
	}

	response.Error(c, errors.ErrRequestBlocked)
	c.Abort()
}

func blockedUserID(c *gin.Context, verifier *iauth.Verifier) string {
	if userID := c.GetString(CtxUserIDKey); userID != "" {
		return userID
	}
	if verifier == nil {
		return ""
	}
	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		return ""
	}
	claims, err := verifier.Verify(token)
	if err != nil {
		return ""
	}
	return claims.Identity()
}

func scansBody(req *http.Request) bool {
	if req.Body == nil || req.Body == http.NoBody {
		return false
	}
	switch req.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return false
	}
	contentType := strings.ToLower(req.Header.Get("Content-Type"))
	return contentType == "" || strings.Contains(contentType, "json")
}

func normalisePrefixes(prefixes []string) []string {
	out := make([]string, 0, len(prefixes))
	for _, prefix := range prefixes {
		prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
		if prefix == "" {
			continue
		}
		if !strings.HasPrefix(prefix, "/") {
			prefix = "/" + prefix
		}
		out = append(out, prefix)
	}
	return out
}

func hasExemptPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}
