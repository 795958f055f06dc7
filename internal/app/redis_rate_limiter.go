package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeWindowScript increments the window counter and reports the remaining
// window in milliseconds. The expiry is set only by the first hit.
var consumeWindowScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local remaining = redis.call("PTTL", KEYS[1])
if remaining < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  remaining = tonumber(ARGV[1])
end
return {hits, remaining}
`)

// RateLimiter counts requests per scope and subject in a fixed window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// RedisRateLimiter is a fixed-window RateLimiter shared by every replica.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRateLimiter keys counters as <prefix>:<scope>:<subject>.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "escrow:rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: prefix}
}

func (l *RedisRateLimiter) windowKey(scope, subject string) string {
	return l.prefix + ":" + scope + ":" + subject
}

// ConsumeRateLimit records one hit and returns the hit count in the current
// window along with the seconds until it resets (at least one).
func (l *RedisRateLimiter) ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (int, int, error) {
	scope, subject = strings.TrimSpace(scope), strings.TrimSpace(subject)
	if l == nil || l.client == nil || limit <= 0 || window <= 0 || scope == "" || subject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	reply, err := consumeWindowScript.Run(ctx, l.client, []string{l.windowKey(scope, subject)}, windowMs).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(reply) != 2 {
		return 0, 0, fmt.Errorf("rate limit script returned %d values", len(reply))
	}

	hits, remainingMs := reply[0], reply[1]
	if remainingMs <= 0 {
		remainingMs = windowMs
	}
	retryAfter := int((remainingMs + 999) / 1000)
	return int(hits), retryAfter, nil
}
