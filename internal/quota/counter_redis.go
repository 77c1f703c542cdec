package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/charlesng35/feedguard/internal/cache"
)

// reserveScript takes a slot when the counter is below the limit. A missing key with a
// negative seed reports {-1, 0} so the caller can compute the seed and run again. When a
// token key is given (ARGV[4] == '1') a slot already taken under that token is reported
// again without a second increment.
var reserveScript = redis.NewScript(`
local tokened = ARGV[4] == '1'
if tokened and redis.call('EXISTS', KEYS[2]) == 1 then
  return {tonumber(redis.call('GET', KEYS[1]) or '0'), 1}
end
local current = redis.call('GET', KEYS[1])
if not current then
  local seed = tonumber(ARGV[2])
  if seed < 0 then
    return {-1, 0}
  end
  redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3], 'NX')
  current = tonumber(redis.call('GET', KEYS[1]))
else
  current = tonumber(current)
end
if current >= tonumber(ARGV[1]) then
  return {current, 0}
end
local count = redis.call('INCR', KEYS[1])
if tokened then
  redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])
end
return {count, 1}
`)

// RedisCounter keeps reservation counters in Redis, expiring them after the day ends.
type RedisCounter struct {
	client redis.Scripter
	now    func() time.Time
}

// NewRedisCounter constructs a Counter on an existing go-redis client.
func NewRedisCounter(client redis.Scripter) (*RedisCounter, error) {
	if client == nil {
		return nil, errors.New("quota: redis client is required")
	}
	return &RedisCounter{client: client, now: time.Now}, nil
}

var _ Counter = (*RedisCounter)(nil)

// Reserve implements Counter.
func (c *RedisCounter) Reserve(ctx context.Context, key CounterKey, limit int, seed SeedFunc) (int64, bool, error) {
	redisKey := counterKey(key)
	keys := []string{redisKey, ""}
	if key.Token != "" {
		keys[1] = reservationKey(key)
	}
	ttl := key.ExpiresAt.Sub(c.now())
	if ttl < time.Minute {
		ttl = time.Minute
	}

	count, reserved, err := c.run(ctx, keys, limit, -1, ttl)
	if err != nil || count >= 0 {
		return count, reserved, err
	}

	var start int64
	if seed != nil {
		if start, err = seed(ctx); err != nil {
			return 0, false, err
		}
	}
	return c.run(ctx, keys, limit, start, ttl)
}

func (c *RedisCounter) run(ctx context.Context, keys []string, limit int, seed int64, ttl time.Duration) (int64, bool, error) {
	tokened := "0"
	if keys[1] != "" {
		tokened = "1"
	}
	values, err := reserveScript.Run(ctx, c.client, keys, limit, seed, ttl.Milliseconds(), tokened).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("quota: reserve script: %w", err)
	}
	if len(values) != 2 {
		return 0, false, fmt.Errorf("quota: reserve script returned %d values", len(values))
	}
	return values[0], values[1] == 1, nil
}

func counterKey(key CounterKey) string {
	return cache.Prefixed(fmt.Sprintf("quota:%s:%s:%s", key.Day, key.Action, key.UserID))
}

func reservationKey(key CounterKey) string {
	return counterKey(key) + ":res:" + key.Token
}
