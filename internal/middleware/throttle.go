package middleware

import (
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/edgegw/edgegw/internal/config"
)

// Throttle returns a middleware that caps the aggregate request rate of
// a listener. It is independent of the keyed rate limiter: the limiter
// enforces fairness per key, the throttle protects the process itself.
func Throttle(cfg *config.Throttle) func(http.Handler) http.Handler {
	if cfg == nil || cfg.RequestsPerSecond <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RequestsPerSecond
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = io.WriteString(w, `{"error":"server overloaded"}`)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
