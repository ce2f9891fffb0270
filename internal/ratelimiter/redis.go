package ratelimiter

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Sliding set in Redis keyed by identity. The whole decision runs as a
// single script so trim+count+insert is atomic per identity; on
// rejection it returns the key's remaining TTL in milliseconds.
const fixedWindowLua = `
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)

local count = redis.call("ZCARD", key)
if count >= limit then
  return redis.call("PTTL", key)
end

redis.call("ZADD", key, now, ARGV[1] .. "-" .. count)
redis.call("PEXPIRE", key, window)
return 0
`

// keyPrefix namespaces limiter entries away from other keys (the route
// config, notably) in a shared database.
const keyPrefix = "rl:"

// RedisLimiter shares one fixed window across gateway instances.
type RedisLimiter struct {
	client *redis.Client
	script *redis.Script
	limit  int
	window time.Duration
	log    *zap.SugaredLogger
}

// NewRedisLimiter creates a shared limiter on the given client.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration, log *zap.SugaredLogger) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		script: redis.NewScript(fixedWindowLua),
		limit:  limit,
		window: window,
		log:    log,
	}
}

// Allow runs the admission script. Script.Run uses EVALSHA and falls
// back to a full EVAL reload on NOSCRIPT. If Redis is unreachable the
// limiter fails open rather than turning a store outage into a client
// outage.
func (l *RedisLimiter) Allow(ctx context.Context, identity string) (bool, int) {
	nowMs := time.Now().UnixMilli()
	windowMs := l.window.Milliseconds()

	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	ttl, err := l.script.Run(ctx, l.client, []string{keyPrefix + identity},
		nowMs, windowMs, l.limit).Int64()
	if err != nil {
		l.log.Warnw("redis rate limiter unavailable, failing open", "err", err)
		return true, 0
	}
	if ttl > 0 {
		return false, int((ttl + 999) / 1000)
	}
	return true, 0
}

func (l *RedisLimiter) Remaining(ctx context.Context, identity string) int {
	key := keyPrefix + identity
	nowMs := time.Now().UnixMilli()

	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	if err := l.client.ZRemRangeByScore(ctx, key, "-inf",
		strconv.FormatInt(nowMs-l.window.Milliseconds(), 10)).Err(); err != nil {
		return l.limit
	}
	count, err := l.client.ZCard(ctx, key).Result()
	if err != nil {
		return l.limit
	}
	return max(0, l.limit-int(count))
}

func (l *RedisLimiter) Limit() int { return l.limit }

func (l *RedisLimiter) Stats() map[string]any {
	return map[string]any{
		"backend":        "redis",
		"limit":          l.limit,
		"window_seconds": l.window.Seconds(),
	}
}
