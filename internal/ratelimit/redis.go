package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edgegw/edgegw/internal/config"
	"github.com/edgegw/edgegw/internal/observability"
)

// keyPrefix namespaces limiter keys inside a shared Redis instance.
const keyPrefix = "edgegw:ratelimit:"

// tokenBucketScript performs a full token-bucket admission check in one
// atomic round trip. State is a hash of fractional tokens plus the last
// refill timestamp in microseconds. Returns {allowed, remaining,
// retry_after_us, reset_after_us}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil then
	tokens = capacity
	last = now
end

local elapsed = now - last
if elapsed > 0 then
	tokens = math.min(capacity, tokens + elapsed / 1000000 * rate)
end

local allowed = 0
local retry_after = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
else
	retry_after = math.ceil((1 - tokens) / rate * 1000000)
end

redis.call('HMSET', key, 'tokens', tokens, 'last', now)
redis.call('EXPIRE', key, ttl)

local reset_after = math.ceil((capacity - tokens) / rate * 1000000)
return {allowed, math.floor(tokens), retry_after, reset_after}
`)

// RedisLimiter implements token-bucket rate limiting backed by Redis, so
// multiple gateway instances share one admission decision per key.
type RedisLimiter struct {
	client   redis.UniversalClient
	capacity int
	rate     float64
	ttl      time.Duration
	logger   observability.Logger
}

// RedisLimiterOption is a functional option for configuring the limiter.
type RedisLimiterOption func(*RedisLimiter)

// WithRedisLimiterLogger sets the logger for the limiter.
func WithRedisLimiterLogger(logger observability.Logger) RedisLimiterOption {
	return func(l *RedisLimiter) {
		l.logger = logger
	}
}

// NewRedisLimiter creates a Redis-backed token bucket limiter.
func NewRedisLimiter(cfg config.Redis, capacity int, refillPerSecond float64, ttl time.Duration, opts ...RedisLimiterOption) (*RedisLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Address, err)
	}

	l := &RedisLimiter{
		client:   client,
		capacity: capacity,
		rate:     refillPerSecond,
		ttl:      ttl,
		logger:   observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// NewRedisLimiterWithClient creates a limiter over an existing client.
// Used in tests and when the caller manages the connection.
func NewRedisLimiterWithClient(client redis.UniversalClient, capacity int, refillPerSecond float64, ttl time.Duration, opts ...RedisLimiterOption) *RedisLimiter {
	l := &RedisLimiter{
		client:   client,
		capacity: capacity,
		rate:     refillPerSecond,
		ttl:      ttl,
		logger:   observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	ttlSeconds := int64(l.ttl / time.Second)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	raw, err := tokenBucketScript.Run(ctx, l.client,
		[]string{keyPrefix + key},
		l.capacity,
		l.rate,
		time.Now().UnixMicro(),
		ttlSeconds,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("running token bucket script: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 4 {
		return nil, fmt.Errorf("unexpected token bucket script reply: %v", raw)
	}

	allowed, _ := values[0].(int64)
	remaining, _ := values[1].(int64)
	retryAfterUs, _ := values[2].(int64)
	resetAfterUs, _ := values[3].(int64)

	return &Result{
		Allowed:    allowed == 1,
		Limit:      l.capacity,
		Remaining:  int(remaining),
		RetryAfter: time.Duration(retryAfterUs) * time.Microsecond,
		ResetAfter: time.Duration(resetAfterUs) * time.Microsecond,
	}, nil
}

// Reset implements Limiter.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, keyPrefix+key).Err()
}

// Close implements Limiter.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
