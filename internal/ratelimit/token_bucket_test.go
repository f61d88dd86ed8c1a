package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketLimiter_BurstThenReject(t *testing.T) {
	t.Parallel()

	limiter := NewTokenBucketLimiter(10, 5)
	defer limiter.Close()

	ctx := context.Background()

	// A fresh bucket starts full: the whole burst is admitted.
	for i := 0; i < 10; i++ {
		result, err := limiter.Allow(ctx, "client-a")
		require.NoError(t, err)
		assert.True(t, result.Allowed, "request %d", i)
	}

	// The 11th request is rejected with the time until the next token,
	// roughly 1/5s at 5 tokens per second.
	result, err := limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Greater(t, result.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, result.RetryAfter, 250*time.Millisecond)
}

func TestTokenBucketLimiter_RefillsOverTime(t *testing.T) {
	t.Parallel()

	limiter := NewTokenBucketLimiter(2, 10)
	defer limiter.Close()

	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := limiter.Allow(ctx, "client-a")
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}

	result, err := limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.False(t, result.Allowed)

	// 10 tokens/s refills one token within 100ms.
	time.Sleep(150 * time.Millisecond)

	result, err = limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestTokenBucketLimiter_RefillCappedAtCapacity(t *testing.T) {
	t.Parallel()

	limiter := NewTokenBucketLimiter(3, 50)
	defer limiter.Close()

	ctx := context.Background()

	// Drain, wait long enough to refill far past capacity, then verify
	// only capacity tokens are available.
	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(ctx, "client-a")
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}

	time.Sleep(200 * time.Millisecond)

	allowed := 0
	for i := 0; i < 10; i++ {
		result, err := limiter.Allow(ctx, "client-a")
		require.NoError(t, err)
		if result.Allowed {
			allowed++
		}
	}
	assert.LessOrEqual(t, allowed, 4)
}

func TestTokenBucketLimiter_IndependentKeys(t *testing.T) {
	t.Parallel()

	limiter := NewTokenBucketLimiter(1, 0.001)
	defer limiter.Close()

	ctx := context.Background()

	result, err := limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.True(t, result.Allowed)

	result, err = limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.False(t, result.Allowed)

	// Exhausting one key leaves other keys untouched.
	result, err = limiter.Allow(ctx, "client-b")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestTokenBucketLimiter_Reset(t *testing.T) {
	t.Parallel()

	limiter := NewTokenBucketLimiter(1, 0.001)
	defer limiter.Close()

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

func TestTokenBucketLimiter_EvictIdle(t *testing.T) {
	t.Parallel()

	limiter := NewTokenBucketLimiter(10, 5, WithIdleTTL(time.Minute))
	defer limiter.Close()

	ctx := context.Background()

	_, err := limiter.Allow(ctx, "client-a")
	require.NoError(t, err)
	_, err = limiter.Allow(ctx, "client-b")
	require.NoError(t, err)
	assert.Equal(t, 2, limiter.Size())

	limiter.evictIdle(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, limiter.Size())
}

func TestTokenBucketLimiter_ResultFields(t *testing.T) {
	t.Parallel()

	limiter := NewTokenBucketLimiter(10, 5)
	defer limiter.Close()

	result, err := limiter.Allow(context.Background(), "client-a")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 10, result.Limit)
	assert.Equal(t, 9, result.Remaining)
	assert.Zero(t, result.RetryAfter)
}

func TestNoopLimiter(t *testing.T) {
	t.Parallel()

	limiter := NewNoopLimiter()

	result, err := limiter.Allow(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.NoError(t, limiter.Reset(context.Background(), "anything"))
	assert.NoError(t, limiter.Close())
}
