package circuitbreaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/edgegw/edgegw/internal/config"
	"github.com/edgegw/edgegw/internal/observability"
)

// Registry manages one breaker per backend host, created lazily on first
// use. A disabled registry executes everything directly.
type Registry struct {
	enabled     bool
	maxFailures int
	openTimeout time.Duration
	logger      observability.Logger

	breakers sync.Map // host address -> *Breaker
}

// NewRegistry creates a breaker registry from configuration. A nil or
// disabled configuration yields a pass-through registry.
func NewRegistry(cfg *config.CircuitBreaker, logger observability.Logger) *Registry {
	r := &Registry{
		maxFailures: DefaultMaxFailures,
		openTimeout: DefaultOpenTimeout,
		logger:      logger,
	}

	if cfg == nil || !cfg.Enabled {
		return r
	}

	r.enabled = true
	if cfg.MaxFailures > 0 {
		r.maxFailures = cfg.MaxFailures
	}
	if cfg.OpenTimeout > 0 {
		r.openTimeout = cfg.OpenTimeout.Duration()
	}

	return r
}

// Enabled reports whether breakers are active.
func (r *Registry) Enabled() bool {
	return r.enabled
}

// Execute runs fn under the breaker for the host. When breakers are
// disabled, fn runs directly.
func (r *Registry) Execute(host string, fn func() error) error {
	if !r.enabled {
		return fn()
	}
	return r.getOrCreate(host).Execute(fn)
}

// State returns the breaker state for the host, or closed when breakers
// are disabled or no breaker exists yet.
func (r *Registry) State(host string) gobreaker.State {
	if value, ok := r.breakers.Load(host); ok {
		return value.(*Breaker).State()
	}
	return gobreaker.StateClosed
}

// Remove drops the breaker for a host removed from its pool.
func (r *Registry) Remove(host string) {
	r.breakers.Delete(host)
}

func (r *Registry) getOrCreate(host string) *Breaker {
	if value, ok := r.breakers.Load(host); ok {
		return value.(*Breaker)
	}

	b := newBreaker(host, r.maxFailures, r.openTimeout, r.logger)
	actual, _ := r.breakers.LoadOrStore(host, b)
	return actual.(*Breaker)
}
