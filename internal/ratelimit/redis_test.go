package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedisLimiter(t *testing.T, capacity int, rate float64) *RedisLimiter {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisLimiterWithClient(client, capacity, rate, time.Minute)
}

func TestRedisLimiter_BurstThenReject(t *testing.T) {
	t.Parallel()

	limiter := testRedisLimiter(t, 5, 1)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(ctx, "client-a")
		require.NoError(t, err)
		assert.True(t, result.Allowed, "request %d", i)
	}

	result, err := limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Greater(t, result.RetryAfter, time.Duration(0))
	assert.Equal(t, 5, result.Limit)
}

func TestRedisLimiter_IndependentKeys(t *testing.T) {
	t.Parallel()

	limiter := testRedisLimiter(t, 1, 0.001)
	ctx := context.Background()

	result, err := limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.True(t, result.Allowed)

	result, err = limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.False(t, result.Allowed)

	result, err = limiter.Allow(ctx, "client-b")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestRedisLimiter_Reset(t *testing.T) {
	t.Parallel()

	limiter := testRedisLimiter(t, 1, 0.001)
	ctx := context.Background()

	result, err := limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.True(t, result.Allowed)

	result, err = limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.False(t, result.Allowed)

	require.NoError(t, limiter.Reset(ctx, "client-a"))

	result, err = limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestRedisLimiter_Remaining(t *testing.T) {
	t.Parallel()

	limiter := testRedisLimiter(t, 10, 1)

	result, err := limiter.Allow(context.Background(), "client-a")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 9, result.Remaining)
}
