// Package circuitbreaker shields backend hosts from traffic while they
// are failing, using per-host breakers around proxy round trips.
package circuitbreaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/edgegw/edgegw/internal/observability"
)

// ErrOpen is returned when a host's breaker rejects the request.
var ErrOpen = errors.New("circuit breaker open")

// Default breaker settings when the configuration omits them.
const (
	DefaultMaxFailures = 5
	DefaultOpenTimeout = 30 * time.Second
)

// Breaker wraps a gobreaker.CircuitBreaker for one backend host.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// newBreaker creates a breaker that opens after maxFailures consecutive
// failures and probes half-open after openTimeout.
func newBreaker(name string, maxFailures int, openTimeout time.Duration, logger observability.Logger) *Breaker {
	threshold := safeIntToUint32(maxFailures)

	settings := gobreaker.Settings{
		Name:    name,
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				observability.String("host", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn under the breaker. A rejected call returns ErrOpen
// without invoking fn.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State returns the breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// safeIntToUint32 safely converts int to uint32.
func safeIntToUint32(n int) uint32 {
	if n <= 0 {
		return DefaultMaxFailures
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}
