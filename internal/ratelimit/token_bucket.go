package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/edgegw/edgegw/internal/observability"
)

// cleanupInterval bounds how often idle buckets are scanned for eviction.
const cleanupInterval = time.Minute

// bucket holds the refill state for one key. Tokens are only recomputed
// when the key is touched; an idle bucket costs nothing until evicted.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	lastAccess time.Time
}

// TokenBucketLimiter implements keyed token-bucket rate limiting with
// in-process state. Buckets start full and refill lazily at a constant
// rate, capped at capacity.
type TokenBucketLimiter struct {
	capacity float64
	rate     float64
	idleTTL  time.Duration
	logger   observability.Logger

	buckets sync.Map // key -> *bucket

	stopCh    chan struct{}
	stoppedCh chan struct{}
	closeOnce sync.Once
}

// TokenBucketOption is a functional option for configuring the limiter.
type TokenBucketOption func(*TokenBucketLimiter)

// WithTokenBucketLogger sets the logger for the limiter.
func WithTokenBucketLogger(logger observability.Logger) TokenBucketOption {
	return func(l *TokenBucketLimiter) {
		l.logger = logger
	}
}

// WithIdleTTL sets how long an untouched bucket survives before eviction.
func WithIdleTTL(ttl time.Duration) TokenBucketOption {
	return func(l *TokenBucketLimiter) {
		l.idleTTL = ttl
	}
}

// NewTokenBucketLimiter creates a token bucket limiter with the given
// capacity and refill rate in tokens per second.
func NewTokenBucketLimiter(capacity int, refillPerSecond float64, opts ...TokenBucketOption) *TokenBucketLimiter {
	l := &TokenBucketLimiter{
		capacity:  float64(capacity),
		rate:      refillPerSecond,
		idleTTL:   10 * time.Minute,
		logger:    observability.NopLogger(),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	go l.cleanupLoop()

	return l
}

// Allow implements Limiter. It takes one token from the key's bucket when
// available; otherwise the request is rejected with the time until the
// next token accrues.
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	now := time.Now()

	b := l.getBucket(key, now)

	b.mu.Lock()
	defer b.mu.Unlock()

	l.refill(b, now)
	b.lastAccess = now

	result := &Result{
		Limit: int(l.capacity),
	}

	if b.tokens >= 1 {
		b.tokens--
		result.Allowed = true
	} else {
		deficit := 1 - b.tokens
		result.RetryAfter = time.Duration(deficit / l.rate * float64(time.Second))
	}

	result.Remaining = int(math.Floor(b.tokens))
	result.ResetAfter = time.Duration((l.capacity - b.tokens) / l.rate * float64(time.Second))

	return result, nil
}

// Reset implements Limiter.
func (l *TokenBucketLimiter) Reset(ctx context.Context, key string) error {
	l.buckets.Delete(key)
	return nil
}

// Close implements Limiter. It stops the eviction loop.
func (l *TokenBucketLimiter) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopCh)
		<-l.stoppedCh
	})
	return nil
}

// getBucket returns the bucket for the key, creating a full one if needed.
func (l *TokenBucketLimiter) getBucket(key string, now time.Time) *bucket {
	if v, ok := l.buckets.Load(key); ok {
		return v.(*bucket)
	}

	fresh := &bucket{
		tokens:     l.capacity,
		lastRefill: now,
		lastAccess: now,
	}
	actual, _ := l.buckets.LoadOrStore(key, fresh)
	return actual.(*bucket)
}

// refill adds tokens accrued since the last refill, capped at capacity.
// The caller holds the bucket mutex.
func (l *TokenBucketLimiter) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}

	b.tokens = math.Min(l.capacity, b.tokens+elapsed.Seconds()*l.rate)
	b.lastRefill = now
}

// cleanupLoop evicts buckets that have not been touched within the idle
// TTL, bounding memory under churning key populations.
func (l *TokenBucketLimiter) cleanupLoop() {
	defer close(l.stoppedCh)

	interval := cleanupInterval
	if l.idleTTL > 0 && l.idleTTL < interval {
		interval = l.idleTTL
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.evictIdle(time.Now())
		}
	}
}

// evictIdle removes buckets idle past the TTL.
func (l *TokenBucketLimiter) evictIdle(now time.Time) {
	if l.idleTTL <= 0 {
		return
	}

	evicted := 0
	l.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		idle := now.Sub(b.lastAccess) > l.idleTTL
		b.mu.Unlock()
		if idle {
			l.buckets.Delete(key)
			evicted++
		}
		return true
	})

	if evicted > 0 {
		l.logger.Debug("evicted idle rate limit buckets",
			observability.Int("count", evicted),
		)
	}
}

// Size returns the number of tracked keys.
func (l *TokenBucketLimiter) Size() int {
	size := 0
	l.buckets.Range(func(_, _ any) bool {
		size++
		return true
	})
	return size
}
