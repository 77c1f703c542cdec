package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/feedguard/internal/cache"
	"github.com/charlesng35/feedguard/internal/models"
	"github.com/charlesng35/feedguard/internal/ranking"
	"github.com/charlesng35/feedguard/pkg/errors"
	"github.com/charlesng35/feedguard/pkg/response"
)

const (
	trendingFeedTTL      = 60
	defaultTrendingLimit = 20
	maxTrendingLimit     = 100
)

// TrendingReader loads the highest scored content.
type TrendingReader interface {
	Top(ctx context.Context, limit int) ([]models.Content, error)
}

// FeedHandler serves ranked feeds.
type FeedHandler struct {
	reader TrendingReader
	cache  *cache.Expiring
}

// NewFeedHandler constructs a FeedHandler. A nil cache gets a private one.
func NewFeedHandler(reader TrendingReader, c *cache.Expiring) *FeedHandler {
	if c == nil {
		c = cache.NewExpiring(cache.DefaultMaxEntries)
	}
	return &FeedHandler{reader: reader, cache: c}
}

// Trending returns top content. Pages are cached per limit until the next ranker run.
func (h *FeedHandler) Trending(c *gin.Context) {
	limit := parseIntQuery(c, "limit", defaultTrendingLimit)
	if limit <= 0 || limit > maxTrendingLimit {
		limit = defaultTrendingLimit
	}

	key := fmt.Sprintf("%s:%d", ranking.FeedCachePrefix, limit)
	items, err := cache.Cached(requestContext(c), h.cache, key, trendingFeedTTL, func(ctx context.Context) ([]models.Content, error) {
		return h.reader.Top(ctx, limit)
	})
	if err != nil {
		response.Error(c, errors.ErrServiceUnavailable.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, items)
}
