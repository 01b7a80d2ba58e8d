package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// fixedWindowScript increments the counter and starts the window on the first hit.
// Running both steps in one script keeps them atomic across processes.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RedisLimiter shares fixed-window counters between processes.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	logger zerolog.Logger
}

// NewRedisLimiter creates a limiter over an existing redis client.
func NewRedisLimiter(client redis.UniversalClient, logger zerolog.Logger) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: "payguard:ratelimit:",
		logger: logger,
	}
}

// Allow increments the shared counter. Redis failures allow the attempt and are logged.
func (l *RedisLimiter) Allow(ctx context.Context, key string, maxAttempts int, window time.Duration) bool {
	count, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + key}, window.Milliseconds()).Int64()
	if err != nil {
		l.logger.Warn().
			Err(err).
			Str("key", key).
			Msg("ratelimit.redis_unavailable")
		return true
	}
	return count <= int64(maxAttempts)
}
