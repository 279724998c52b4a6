package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Result is the outcome of a single Allow call.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Options configures a FixedWindowLimiter.
type Options struct {
	Prefix string
	Limit  int
	Window time.Duration
	// FailOpen admits requests when Redis is unreachable. Public lead
	// capture prefers availability; admin routes keep the default.
	FailOpen bool
}

// FixedWindowLimiter counts requests per key in Redis-backed fixed windows so
// every instance shares the same budget.
type FixedWindowLimiter struct {
	client   redis.UniversalClient
	prefix   string
	limit    int
	window   time.Duration
	failOpen bool
	now      func() time.Time
}

// NewFixedWindowLimiter builds a limiter on an existing Redis client.
func NewFixedWindowLimiter(client redis.UniversalClient, opts Options) (*FixedWindowLimiter, error) {
	if client == nil {
		return nil, errors.New("rate limiter redis client is required")
	}
	if opts.Limit <= 0 || opts.Window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = "leadhero:ratelimit"
	}
	return &FixedWindowLimiter{
		client:   client,
		prefix:   prefix,
		limit:    opts.Limit,
		window:   opts.Window,
		failOpen: opts.FailOpen,
		now:      time.Now,
	}, nil
}

// Allow consumes one request from key's current window.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (Result, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	nowMs := l.now().UTC().UnixMilli()
	slot := nowMs / windowMs
	retryAfter := time.Duration((slot+1)*windowMs-nowMs) * time.Millisecond

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)
	count, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return Result{Allowed: l.failOpen}, fmt.Errorf("rate limit: %w", err)
	}
	if count > int64(l.limit) {
		return Result{RetryAfter: retryAfter}, nil
	}
	return Result{Allowed: true, Remaining: l.limit - int(count)}, nil
}
