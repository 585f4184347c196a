package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/audience-crm/internal/pkg/logger"
)

// RateLimit caps vendor calls across every worker process. A zero field
// means no cap for that window.
type RateLimit struct {
	PerSecond int
	PerMinute int
}

// Enabled reports whether any window is capped.
func (l RateLimit) Enabled() bool { return l.PerSecond > 0 || l.PerMinute > 0 }

// Checks both windows before incrementing either, so a denied call never
// consumes budget. A limit of 0 disables that window.
const sendLimitLuaScript = `
local secondKey = KEYS[1]
local minuteKey = KEYS[2]
local secondLimit = tonumber(ARGV[1])
local minuteLimit = tonumber(ARGV[2])

local secCurrent = tonumber(redis.call("GET", secondKey) or "0")
local minCurrent = tonumber(redis.call("GET", minuteKey) or "0")

if secondLimit > 0 and secCurrent + 1 > secondLimit then
    return {0, 1}
end
if minuteLimit > 0 and minCurrent + 1 > minuteLimit then
    return {0, 2}
end

if redis.call("INCR", secondKey) == 1 then
    redis.call("EXPIRE", secondKey, 2)
end
if redis.call("INCR", minuteKey) == 1 then
    redis.call("EXPIRE", minuteKey, 120)
end
return {1, 0}
`

// RateLimiter is a fixed-window limiter shared through Redis. The check and
// increment run in one Lua script so concurrent workers cannot overshoot.
type RateLimiter struct {
	redis  *redis.Client
	script *redis.Script
	limit  RateLimit
	now    func() time.Time
}

// NewRateLimiter creates a limiter for limit.
func NewRateLimiter(client *redis.Client, limit RateLimit) *RateLimiter {
	return &RateLimiter{
		redis:  client,
		script: redis.NewScript(sendLimitLuaScript),
		limit:  limit,
		now:    time.Now,
	}
}

func (r *RateLimiter) keys(vendor string, now time.Time) (string, string) {
	return fmt.Sprintf("crm:ratelimit:%s:sec:%d", vendor, now.Unix()),
		fmt.Sprintf("crm:ratelimit:%s:min:%d", vendor, now.Unix()/60)
}

// Allow takes one unit of budget for vendor. When denied it returns how
// long to wait before the current window ends.
func (r *RateLimiter) Allow(ctx context.Context, vendor string) (bool, time.Duration, error) {
	now := r.now()
	secondKey, minuteKey := r.keys(vendor, now)

	result, err := r.script.Run(ctx, r.redis,
		[]string{secondKey, minuteKey},
		r.limit.PerSecond,
		r.limit.PerMinute,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}

	if result[0] == 1 {
		return true, 0, nil
	}
	if result[1] == 2 {
		return false, time.Duration(60-now.Second()) * time.Second, nil
	}
	return false, time.Second - time.Duration(now.Nanosecond()), nil
}

// Wait blocks until vendor has budget or ctx ends. Redis errors let the
// call through.
func (r *RateLimiter) Wait(ctx context.Context, vendor string) error {
	for {
		ok, wait, err := r.Allow(ctx, vendor)
		if err != nil {
			logger.Warn("rate limiter: check failed, allowing send", "vendor", vendor, "error", err)
			return nil
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Usage returns the counters for the current windows.
func (r *RateLimiter) Usage(ctx context.Context, vendor string) (map[string]int64, error) {
	secondKey, minuteKey := r.keys(vendor, r.now())

	pipe := r.redis.Pipeline()
	secCmd := pipe.Get(ctx, secondKey)
	minCmd := pipe.Get(ctx, minuteKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	second, _ := secCmd.Int64()
	minute, _ := minCmd.Int64()
	return map[string]int64{
		"second_current": second,
		"second_limit":   int64(r.limit.PerSecond),
		"minute_current": minute,
		"minute_limit":   int64(r.limit.PerMinute),
	}, nil
}
