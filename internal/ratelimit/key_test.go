package ratelimit

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edgegw/edgegw/internal/config"
	"github.com/edgegw/edgegw/internal/util"
)

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr",
			remoteAddr: "192.168.1.10:54321",
			want:       "192.168.1.10",
		},
		{
			name:       "x-forwarded-for single",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5"},
			want:       "203.0.113.5",
		},
		{
			name:       "x-forwarded-for chain takes first",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.2"},
			want:       "203.0.113.5",
		},
		{
			name:       "x-real-ip",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Real-IP": "198.51.100.7"},
			want:       "198.51.100.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest("GET", "/api/users", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}

			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}

func TestRouteKey(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/api/users/42", nil)
	r = r.WithContext(util.ContextWithRoute(r.Context(), "/api"))

	assert.Equal(t, "/api", RouteKey(r))
}

func TestRouteKey_NoRouteFallsBackToPath(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/api/users", nil)
	assert.Equal(t, "/api/users", RouteKey(r))
}

func TestIPRouteKey(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/api/users", nil)
	r.RemoteAddr = "192.168.1.10:54321"
	r = r.WithContext(util.ContextWithRoute(r.Context(), "/api"))

	assert.Equal(t, "192.168.1.10:/api", IPRouteKey(r))
}

func TestKeyFuncFor(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/api/users", nil)
	r.RemoteAddr = "192.168.1.10:54321"
	r = r.WithContext(util.ContextWithRoute(r.Context(), "/api"))

	assert.Equal(t, "192.168.1.10", KeyFuncFor(config.RateLimitKeyIP)(r))
	assert.Equal(t, "/api", KeyFuncFor(config.RateLimitKeyRoute)(r))
	assert.Equal(t, "192.168.1.10:/api", KeyFuncFor(config.RateLimitKeyIPRoute)(r))
	assert.Equal(t, "192.168.1.10", KeyFuncFor("unknown")(r))
}
