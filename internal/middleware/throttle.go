package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/charlesng35/feedguard/pkg/errors"
	"github.com/charlesng35/feedguard/pkg/response"
)

// Throttler keeps one token bucket per key. State is per process and only suitable for
// short ad-hoc throttles; durable limits belong to the quota store.
type Throttler struct {
	mu      sync.Mutex
	entries map[string]*throttleEntry
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ThrottlerOption customises a Throttler.
type ThrottlerOption func(*Throttler)

// WithIdleTTL sets how long an unused bucket is kept before the janitor drops it.
func WithIdleTTL(d time.Duration) ThrottlerOption {
	return func(t *Throttler) {
		if d > 0 {
			t.idleTTL = d
		}
	}
}

// NewThrottler allows perSecond events per key with the given burst.
func NewThrottler(perSecond float64, burst int, opts ...ThrottlerOption) *Throttler {
	if burst <= 0 {
		burst = 1
	}
	t := &Throttler{
		entries: make(map[string]*throttleEntry),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idleTTL: 15 * time.Minute,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Allow consumes a token for key.
func (t *Throttler) Allow(key string) bool {
	return t.limiter(key).AllowN(t.now(), 1)
}

func (t *Throttler) limiter(key string) *rate.Limiter {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.entries[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	lim := rate.NewLimiter(t.limit, t.burst)
	t.entries[key] = &throttleEntry{limiter: lim, lastSeen: now}
	return lim
}

// Cleanup drops buckets idle for longer than the idle TTL.
func (t *Throttler) Cleanup() {
	cutoff := t.now().Add(-t.idleTTL)

	t.mu.Lock()
	defer t.mu.Unlock()

	for key, entry := range t.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(t.entries, key)
		}
	}
}

// Len reports how many buckets are tracked.
func (t *Throttler) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// StartJanitor runs Cleanup every interval until ctx is done.
func (t *Throttler) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Cleanup()
			}
		}
	}()
}

// Throttle rejects requests once the caller's bucket is empty. The key is the
// authenticated user when present and the client IP otherwise.
func Throttle(t *Throttler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if t == nil {
			c.Next()
			return
		}

		key := c.GetString(CtxUserIDKey)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}

		if !t.Allow(key + "|" + c.FullPath()) {
			c.Header("Retry-After", strconv.Itoa(1))
			response.Error(c, errors.ErrRateLimit)
			c.Abort()
			return
		}
		c.Next()
	}
}
