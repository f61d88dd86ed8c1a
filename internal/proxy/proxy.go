package proxy

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/edgegw/edgegw/internal/backend"
	"github.com/edgegw/edgegw/internal/circuitbreaker"
	"github.com/edgegw/edgegw/internal/observability"
	"github.com/edgegw/edgegw/internal/ratelimit"
	"github.com/edgegw/edgegw/internal/router"
	"github.com/edgegw/edgegw/internal/util"
)

// copyBufferSize bounds per-request proxy memory regardless of body size.
const copyBufferSize = 32 * 1024

// hopHeaders are connection-scoped headers that must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Engine is the request data path. It matches the route, applies rate
// limit admission, selects a backend host, and streams the exchange.
type Engine struct {
	router   *router.Router
	limiter  ratelimit.Limiter
	keyFunc  ratelimit.KeyFunc
	breakers *circuitbreaker.Registry
	logger   observability.Logger
	metrics  *observability.Metrics

	transport http.RoundTripper
	ws        *websocketProxy

	bufPool sync.Pool
}

// EngineOption is a functional option for configuring the engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger for the engine.
func WithEngineLogger(logger observability.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEngineMetrics sets the metrics sink for the engine.
func WithEngineMetrics(metrics *observability.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// WithTransport sets the upstream transport.
func WithTransport(transport http.RoundTripper) EngineOption {
	return func(e *Engine) {
		e.transport = transport
	}
}

// WithLimiter sets the admission limiter and its key derivation.
func WithLimiter(limiter ratelimit.Limiter, keyFunc ratelimit.KeyFunc) EngineOption {
	return func(e *Engine) {
		e.limiter = limiter
		e.keyFunc = keyFunc
	}
}

// WithBreakers sets the per-host circuit breaker registry.
func WithBreakers(breakers *circuitbreaker.Registry) EngineOption {
	return func(e *Engine) {
		e.breakers = breakers
	}
}

// NewEngine creates the proxy engine.
func NewEngine(r *router.Router, opts ...EngineOption) *Engine {
	e := &Engine{
		router:    r,
		logger:    observability.NopLogger(),
		transport: defaultTransport(),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.ws = &websocketProxy{logger: e.logger}
	e.bufPool = sync.Pool{
		New: func() any {
			buf := make([]byte, copyBufferSize)
			return &buf
		},
	}

	return e
}

// defaultTransport returns the upstream transport with keep-alive pooling.
func defaultTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// ServeHTTP implements http.Handler.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, err := e.router.Match(r.URL.Path)
	if err != nil {
		// No backend is contacted for unmatched paths.
		writeJSONError(w, http.StatusNotFound, "no matching route")
		return
	}

	r = r.WithContext(util.SetRoute(r.Context(), route.Prefix))

	if !e.admit(w, r, route) {
		return
	}

	if isWebSocketUpgrade(r) {
		e.serveWebSocket(w, r, route)
		return
	}

	e.serveHTTP(w, r, route)
}

// admit applies rate limit admission after route matching, so the route
// key strategies see the matched prefix. Limiter failures admit the
// request; an unreachable shared store must not take down the data path.
func (e *Engine) admit(w http.ResponseWriter, r *http.Request, route *router.Route) bool {
	if e.limiter == nil {
		return true
	}

	result, err := e.limiter.Allow(r.Context(), e.keyFunc(r))
	if err != nil {
		e.logger.Warn("rate limiter unavailable, admitting request",
			observability.String("route", route.Prefix),
			observability.Error(err),
		)
		return true
	}

	if result.Allowed {
		return true
	}

	if e.metrics != nil {
		e.metrics.RateLimitRejected.WithLabelValues(route.Prefix).Inc()
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(result.RetryAfter)))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

// retryAfterSeconds rounds up so clients never retry too early.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}

// serveHTTP forwards one request. A failed first attempt is retried once
// against a different host, but only while no request body bytes were
// consumed and no response bytes were written, so the retry is invisible
// to the client and never replays a partially sent body.
func (e *Engine) serveHTTP(w http.ResponseWriter, r *http.Request, route *router.Route) {
	body := newTrackingReader(r.Body)

	var tried []*backend.Host
	for attempt := 0; ; attempt++ {
		host := route.Pool.Pick(tried...)
		if host == nil {
			if attempt == 0 {
				writeJSONError(w, http.StatusServiceUnavailable, "no healthy backend available")
			} else {
				writeJSONError(w, http.StatusBadGateway, "upstream request failed")
			}
			return
		}
		tried = append(tried, host)

		resp, err := e.roundTrip(r, route, host, body)
		if err != nil {
			route.Pool.Release(host)

			if r.Context().Err() != nil {
				// Client disconnected or request deadline passed; the
				// upstream attempt was cancelled with it.
				e.writeUpstreamError(w, r, route, host, err)
				return
			}

			if attempt == 0 && !body.Consumed() {
				e.logger.Warn("upstream attempt failed, retrying on another host",
					observability.String("route", route.Prefix),
					observability.String("host", host.Address),
					observability.Error(err),
				)
				if e.metrics != nil {
					e.metrics.ProxyRetries.WithLabelValues(route.Prefix).Inc()
				}
				continue
			}

			e.writeUpstreamError(w, r, route, host, err)
			return
		}

		e.writeResponse(w, resp)
		route.Pool.Release(host)
		return
	}
}

// roundTrip executes one upstream attempt under the host's breaker.
func (e *Engine) roundTrip(r *http.Request, route *router.Route, host *backend.Host, body *trackingReader) (*http.Response, error) {
	out := e.buildUpstreamRequest(r, route, host, body)

	var resp *http.Response
	execute := func() error {
		var err error
		resp, err = e.transport.RoundTrip(out)
		return err
	}

	var err error
	if e.breakers != nil {
		err = e.breakers.Execute(host.Address, execute)
	} else {
		err = execute()
	}

	if err != nil {
		return nil, NewUpstreamError(route.Prefix, host.Address, err)
	}
	return resp, nil
}

// buildUpstreamRequest clones the inbound request for the upstream hop:
// rewritten path, stripped hop-by-hop headers, forwarding headers, and
// the tracked body so retry eligibility is observable.
func (e *Engine) buildUpstreamRequest(r *http.Request, route *router.Route, host *backend.Host, body *trackingReader) *http.Request {
	out := r.Clone(r.Context())
	out.URL.Scheme = "http"
	out.URL.Host = host.Address
	out.URL.Path = route.RewritePath(r.URL.Path)
	out.Host = host.Address
	out.RequestURI = ""
	out.Body = body

	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		out.Header.Set("X-Forwarded-For", clientIP)
	}
	if r.TLS != nil {
		out.Header.Set("X-Forwarded-Proto", "https")
	} else {
		out.Header.Set("X-Forwarded-Proto", "http")
	}
	out.Header.Set("X-Forwarded-Host", r.Host)

	return out
}

// writeResponse streams the upstream response to the client, flushing as
// bytes arrive so large and slow bodies never buffer in the gateway.
func (e *Engine) writeResponse(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()

	header := w.Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}

	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	bufPtr := e.bufPool.Get().(*[]byte)
	defer e.bufPool.Put(bufPtr)
	buf := *bufPtr

	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				// Client is gone; stop pulling from the upstream.
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				// Upstream died after the status line was sent. Abort
				// the connection so the client sees a truncated
				// response, not a silently complete one.
				panic(http.ErrAbortHandler)
			}
			return
		}
	}
}

// writeUpstreamError maps an exhausted upstream failure onto a response.
func (e *Engine) writeUpstreamError(w http.ResponseWriter, r *http.Request, route *router.Route, host *backend.Host, err error) {
	e.logger.Error("upstream request failed",
		observability.String("route", route.Prefix),
		observability.String("host", host.Address),
		observability.String("path", r.URL.Path),
		observability.Error(err),
	)

	switch {
	case errors.Is(err, context.Canceled):
		// Client disconnected; any write would be discarded.
	case isTimeout(err):
		writeJSONError(w, http.StatusGatewayTimeout, "upstream timed out")
	case errors.Is(err, circuitbreaker.ErrOpen):
		writeJSONError(w, http.StatusServiceUnavailable, "upstream circuit open")
	default:
		writeJSONError(w, http.StatusBadGateway, "upstream request failed")
	}
}

// isTimeout reports whether the error chain is a deadline or I/O timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isWebSocketUpgrade reports whether the request asks for a WebSocket
// upgrade.
func isWebSocketUpgrade(r *http.Request) bool {
	if !headerContainsToken(r.Header, "Connection", "upgrade") {
		return false
	}
	return headerContainsToken(r.Header, "Upgrade", "websocket")
}

// writeJSONError writes a small JSON error body with the given status.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `{"error":`+strconv.Quote(message)+`}`)
}
