package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"

	"github.com/mike-walpole/d2g/pkg/middleware"
	"github.com/mike-walpole/d2g/pkg/redis"
)

type fakeLimiter struct {
	allowed int
	calls   map[string]int
	err     error
}

func (f *fakeLimiter) Allow(_ context.Context, key string) (redis.RateLimitResult, error) {
	if f.err != nil {
		return redis.RateLimitResult{}, f.err
	}
	f.calls[key]++
	if f.calls[key] > f.allowed {
		return redis.RateLimitResult{RetryIn: 1500 * time.Millisecond}, nil
	}
	return redis.RateLimitResult{Allowed: true, Remaining: int64(f.allowed - f.calls[key])}, nil
}

func TestRateLimit(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	t.Run("should refuse requests over the limit", func(t *testing.T) {
		limiter := &fakeLimiter{allowed: 1, calls: map[string]int{}}
		e := newTestServer(middleware.RateLimit(logger, limiter))

		first := do(e, "/whoami", nil)
		assert.Equal(t, http.StatusOK, first.Code)
		assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

		second := do(e, "/whoami", nil)
		assert.Equal(t, http.StatusTooManyRequests, second.Code)
		assert.Equal(t, "2", second.Header().Get("Retry-After"))
	})

	t.Run("should key by client address", func(t *testing.T) {
		limiter := &fakeLimiter{allowed: 1, calls: map[string]int{}}
		e := newTestServer(middleware.RateLimit(logger, limiter))

		first := do(e, "/whoami", map[string]string{"X-Real-IP": "10.0.0.1"})
		second := do(e, "/whoami", map[string]string{"X-Real-IP": "10.0.0.2"})

		assert.Equal(t, http.StatusOK, first.Code)
		assert.Equal(t, http.StatusOK, second.Code)
	})

	t.Run("should let requests through when the limiter fails", func(t *testing.T) {
		limiter := &fakeLimiter{err: errors.New("connection refused")}
		e := newTestServer(middleware.RateLimit(logger, limiter))

		rec := do(e, "/whoami", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
