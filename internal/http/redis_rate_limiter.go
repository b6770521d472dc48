package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix    = "sitedeploy:ratelimit:"
	redisAllowTimeout = 250 * time.Millisecond
)

// fixedWindow increments the counter, starts the window on the first hit and returns
// the count together with the milliseconds left in the window.
var fixedWindow = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

type redisRateLimiter struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisRateLimiter returns a limiter whose windows are shared by every API replica
// pointed at the same Redis. Redis errors fail open.
func NewRedisRateLimiter(addr, password string, db int, logger *slog.Logger) (RateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return newRedisRateLimiter(client, logger), nil
}

func newRedisRateLimiter(client *redis.Client, logger *slog.Logger) *redisRateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisRateLimiter{client: client, logger: logger.With("component", "rate_limiter")}
}

func (rl *redisRateLimiter) Allow(ctx context.Context, key string, rule rateRule) rateDecision {
	if rule.disabled() {
		return rateDecision{allowed: true}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, redisAllowTimeout)
	defer cancel()

	window := rule.windowOrDefault()
	res, err := fixedWindow.Run(ctx, rl.client, []string{redisKeyPrefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 2 {
		rl.logger.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
		return rateDecision{allowed: true}
	}
	count := int(res[0])
	return rateDecision{
		allowed: count <= rule.limit,
		count:   count,
		resetAt: time.Now().Add(time.Duration(res[1]) * time.Millisecond),
	}
}

func (rl *redisRateLimiter) Close() {
	if rl.client != nil {
		_ = rl.client.Close()
	}
}
