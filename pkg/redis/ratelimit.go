package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimitResult is the outcome of one sliding-window check
type RateLimitResult struct {
	Allowed   bool
	Remaining int64
	RetryIn   time.Duration
}

// RateLimiter counts requests per key in a sliding window kept in a sorted set
type RateLimiter struct {
	client    *Client
	keyPrefix string
	limit     int64
	window    time.Duration
}

var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])
	local member = ARGV[5]

	redis.call("zremrangebyscore", key, "-inf", window_start)
	local current = redis.call("zcard", key)

	if current < limit then
		redis.call("zadd", key, now, member)
		redis.call("pexpire", key, window_ms)
		return {1, limit - current - 1, 0}
	end

	local oldest = redis.call("zrange", key, 0, 0, "WITHSCORES")
	if #oldest > 0 then
		return {0, 0, oldest[2]}
	end
	return {0, 0, 0}
`)

func NewRateLimiter(client *Client, keyPrefix string, limit int64, window time.Duration) *RateLimiter {
	if keyPrefix == "" {
		keyPrefix = "ratelimit:"
	}
	return &RateLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		limit:     limit,
		window:    window,
	}
}

// Allow records one request for key when it fits in the window
func (r *RateLimiter) Allow(ctx context.Context, key string) (RateLimitResult, error) {
	now := time.Now()
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()

	result, err := slidingWindow.Run(ctx, r.client.rdb, []string{r.keyPrefix + key},
		now.UnixMilli(),
		now.Add(-r.window).UnixMilli(),
		r.limit,
		r.window.Milliseconds(),
		member,
	).Slice()
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("rate limit check for %s: %w", key, err)
	}

	allowed, err := toInt64(result[0])
	if err != nil {
		return RateLimitResult{}, err
	}
	remaining, err := toInt64(result[1])
	if err != nil {
		return RateLimitResult{}, err
	}

	res := RateLimitResult{Allowed: allowed == 1, Remaining: remaining}
	if !res.Allowed {
		oldestMs, err := toInt64(result[2])
		if err != nil {
			return RateLimitResult{}, err
		}
		if oldestMs > 0 {
			res.RetryIn = time.UnixMilli(oldestMs).Add(r.window).Sub(now)
		}
	}
	return res, nil
}

// toInt64 normalizes Lua replies. Scores come back as strings.
func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err == nil {
			return parsed, nil
		}
		f, ferr := strconv.ParseFloat(n, 64)
		if ferr != nil {
			return 0, err
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}
