package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/charlesng35/feedguard/pkg/metrics"
)

// DefaultMaxEntries bounds an Expiring cache constructed without an explicit capacity.
const DefaultMaxEntries = 1000

type expiringEntry struct {
	value     any
	expiresAt time.Time
	position  *list.Element
}

// Expiring is a process-local key/value cache with per-entry TTL and bounded capacity.
//
// Entries expire lazily: an expired entry is removed by the Get that observes it, there is
// no background sweep. When a new key would exceed capacity the oldest inserted key is
// evicted (FIFO). Reads do not refresh an entry's position. The cache is per instance and
// must not back cluster-wide guarantees.
type Expiring struct {
	mu         sync.Mutex
	entries    map[string]*expiringEntry
	order      *list.List
	maxEntries int
	now        func() time.Time
	flight     singleflight.Group
}

// ExpiringOption customises an Expiring cache.
type ExpiringOption func(*Expiring)

// WithClock overrides the clock used for expiry decisions.
func WithClock(now func() time.Time) ExpiringOption {
	return func(c *Expiring) {
		if now != nil {
			c.now = now
		}
	}
}

// NewExpiring constructs an empty cache holding at most maxEntries keys.
func NewExpiring(maxEntries int, opts ...ExpiringOption) *Expiring {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c := &Expiring{
		entries:    make(map[string]*expiringEntry),
		order:      list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value stored under key. An entry at or past its expiry is deleted and
// reported absent.
func (c *Expiring) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		c.removeLocked(key, entry)
		metrics.CacheLookups.WithLabelValues("expired").Inc()
		return nil, false
	}

	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return entry.value, true
}

// Set stores value under key for ttlSeconds. Overwriting an existing key keeps its original
// insertion position. A non-positive TTL removes the key instead.
func (c *Expiring) Set(key string, value any, ttlSeconds int) {
	if ttlSeconds <= 0 {
		c.Delete(key)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(time.Duration(ttlSeconds) * time.Second)

	if entry, ok := c.entries[key]; ok {
		entry.value = value
		entry.expiresAt = expiresAt
		return
	}

	if len(c.entries) >= c.maxEntries {
		if oldest := c.order.Front(); oldest != nil {
			oldestKey := oldest.Value.(string)
			c.removeLocked(oldestKey, c.entries[oldestKey])
			metrics.CacheEvictions.Inc()
		}
	}

	c.entries[key] = &expiringEntry{
		value:     value,
		expiresAt: expiresAt,
		position:  c.order.PushBack(key),
	}
}

// Delete removes key if present.
func (c *Expiring) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		c.removeLocked(key, entry)
	}
}

// DeleteByPrefix removes every key starting with prefix and returns how many were removed.
func (c *Expiring) DeleteByPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.removeLocked(key, entry)
			removed++
		}
	}
	return removed
}

// Clear drops every entry.
func (c *Expiring) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*expiringEntry)
	c.order.Init()
}

// Len reports the number of stored entries, including expired entries not yet observed.
func (c *Expiring) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

func (c *Expiring) removeLocked(key string, entry *expiringEntry) {
	if entry == nil {
		return
	}
	c.order.Remove(entry.position)
	delete(c.entries, key)
}

// Lookup is the typed form of Get. A stored value of a different type counts as a miss.
func Lookup[T any](c *Expiring, key string) (T, bool) {
	var zero T
	raw, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Cached returns the value under key, or runs producer, stores its result for ttlSeconds
// and returns it. Concurrent misses on the same key share one producer call. Producer
// errors are returned and nothing is stored.
func Cached[T any](ctx context.Context, c *Expiring, key string, ttlSeconds int, producer func(context.Context) (T, error)) (T, error) {
	if value, ok := Lookup[T](c, key); ok {
		return value, nil
	}

	result, err, _ := c.flight.Do(key, func() (any, error) {
		if value, ok := Lookup[T](c, key); ok {
			return value, nil
		}
		value, err := producer(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, value, ttlSeconds)
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, _ := result.(T)
	return typed, nil
}
