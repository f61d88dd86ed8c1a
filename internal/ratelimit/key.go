package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"github.com/edgegw/edgegw/internal/config"
	"github.com/edgegw/edgegw/internal/util"
)

// KeyFunc derives the bucket key for a request.
type KeyFunc func(r *http.Request) string

// KeyFuncFor returns the key function for a configured strategy. Unknown
// strategies fall back to per-IP keying.
func KeyFuncFor(strategy string) KeyFunc {
	switch strategy {
	case config.RateLimitKeyRoute:
		return RouteKey
	case config.RateLimitKeyIPRoute:
		return IPRouteKey
	default:
		return IPKey
	}
}

// IPKey keys buckets by client IP, so one aggressive client cannot starve
// others.
func IPKey(r *http.Request) string {
	return ClientIP(r)
}

// RouteKey keys buckets by the matched route prefix, capping aggregate
// traffic into one backend pool.
func RouteKey(r *http.Request) string {
	if route, ok := util.RouteFromContext(r.Context()); ok {
		return route
	}
	return r.URL.Path
}

// IPRouteKey combines client IP and route prefix, giving each client an
// independent budget per route.
func IPRouteKey(r *http.Request) string {
	return IPKey(r) + ":" + RouteKey(r)
}

// ClientIP extracts the client IP address, preferring forwarded headers
// set by an upstream proxy over the socket peer address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			xff = xff[:idx]
		}
		if ip := strings.TrimSpace(xff); ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
