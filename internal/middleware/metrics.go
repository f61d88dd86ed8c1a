package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/edgegw/edgegw/internal/observability"
	"github.com/edgegw/edgegw/internal/util"
)

// Metrics returns a middleware that records request counts, latencies,
// and in-flight gauge per matched route.
func Metrics(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// The engine matches on a cloned request; the slot carries the
			// route back across the clone boundary.
			r = r.WithContext(util.WithRouteSlot(r.Context()))

			metrics.RequestsInFlight.Inc()
			defer metrics.RequestsInFlight.Dec()

			rw := &responseWriter{
				ResponseWriter: w,
				status:         http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route, ok := util.RouteFromContext(r.Context())
			if !ok {
				route = "unmatched"
			}

			metrics.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rw.status)).Inc()
			metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}
