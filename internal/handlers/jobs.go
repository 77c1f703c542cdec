package handlers

import (
	"context"
	"crypto/subtle"
	stdErrors "errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/feedguard/internal/ranking"
	"github.com/charlesng35/feedguard/pkg/errors"
	"github.com/charlesng35/feedguard/pkg/response"
)

var errRunInProgress = errors.New("JOB_RUNNING", "A trending run is already in progress", http.StatusConflict)

// TrendingRunner recomputes trending scores on demand.
type TrendingRunner interface {
	Run(ctx context.Context) (ranking.Report, error)
}

// JobHandler triggers background jobs from trusted schedulers.
type JobHandler struct {
	ranker TrendingRunner
	secret []byte
}

// NewJobHandler constructs a JobHandler. An empty secret disables the trigger.
func NewJobHandler(ranker TrendingRunner, secret string) *JobHandler {
	return &JobHandler{ranker: ranker, secret: []byte(strings.TrimSpace(secret))}
}

// Trending runs the ranker synchronously and reports how many items were updated.
func (h *JobHandler) Trending(c *gin.Context) {
	if !h.authorized(c.GetHeader("Authorization")) {
		c.Header("WWW-Authenticate", "Bearer")
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	if h.ranker == nil {
		response.Error(c, errors.ErrServiceUnavailable)
		return
	}

	report, err := h.ranker.Run(requestContext(c))
	if err != nil {
		if stdErrors.Is(err, ranking.ErrRunInProgress) {
			response.Error(c, errRunInProgress)
			return
		}
		response.Error(c, errors.ErrServiceUnavailable.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"updated":     report.Updated,
		"failed":      report.Failed,
		"scanned":     report.Scanned,
		"duration_ms": report.Duration.Milliseconds(),
	})
}

func (h *JobHandler) authorized(header string) bool {
	if len(h.secret) == 0 {
		return false
	}
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return false
	}
	presented := []byte(strings.TrimSpace(header[len(prefix):]))
	return subtle.ConstantTimeCompare(presented, h.secret) == 1
}
