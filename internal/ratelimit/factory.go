package ratelimit

import (
	"fmt"

	"github.com/edgegw/edgegw/internal/config"
	"github.com/edgegw/edgegw/internal/observability"
)

// New builds a limiter from configuration. A nil configuration yields a
// limiter that admits everything.
func New(cfg *config.RateLimit, logger observability.Logger) (Limiter, error) {
	if cfg == nil {
		return NewNoopLimiter(), nil
	}

	if cfg.Store != nil && cfg.Store.Type == config.StoreRedis {
		if cfg.Store.Redis == nil {
			return nil, fmt.Errorf("rate limit store %q requires redis settings", config.StoreRedis)
		}
		return NewRedisLimiter(
			*cfg.Store.Redis,
			cfg.Capacity,
			cfg.RefillPerSecond,
			cfg.IdleTTL.Duration(),
			WithRedisLimiterLogger(logger),
		)
	}

	return NewTokenBucketLimiter(
		cfg.Capacity,
		cfg.RefillPerSecond,
		WithTokenBucketLogger(logger),
		WithIdleTTL(cfg.IdleTTL.Duration()),
	), nil
}
