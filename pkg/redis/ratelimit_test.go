package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mike-walpole/d2g/pkg/redis"
)

func TestRateLimiter_Allow(t *testing.T) {
	ctx := context.Background()

	t.Run("should allow up to the limit and then refuse", func(t *testing.T) {
		client, _ := getTestClient(t)
		limiter := redis.NewRateLimiter(client, "ratelimit:submissions:", 2, time.Minute)

		first, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, first.Allowed)
		assert.Equal(t, int64(1), first.Remaining)

		second, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, second.Allowed)
		assert.Equal(t, int64(0), second.Remaining)

		third, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.False(t, third.Allowed)
		assert.Greater(t, third.RetryIn, time.Duration(0))
		assert.LessOrEqual(t, third.RetryIn, time.Minute)
	})

	t.Run("should count keys separately", func(t *testing.T) {
		client, _ := getTestClient(t)
		limiter := redis.NewRateLimiter(client, "", 1, time.Minute)

		a, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		b, err := limiter.Allow(ctx, "10.0.0.2")
		require.NoError(t, err)

		assert.True(t, a.Allowed)
		assert.True(t, b.Allowed)
	})

	t.Run("should surface redis failures", func(t *testing.T) {
		client, mr := getTestClient(t)
		limiter := redis.NewRateLimiter(client, "", 1, time.Minute)
		mr.Close()

		_, err := limiter.Allow(ctx, "10.0.0.1")

		assert.Error(t, err)
	})
}
