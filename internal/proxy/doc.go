// Package proxy implements the streaming reverse proxy engine for the
// edge gateway.
//
// The engine matches each request to a route, admits it through the
// keyed rate limiter, selects a backend host, and streams bytes in both
// directions with bounded memory.
//
// # Features
//
//   - Longest-prefix route matching with optional prefix stripping
//   - Keyed token-bucket admission with Retry-After on rejection
//   - Weighted host selection with a single retry against another host
//     while the request body is still unconsumed
//   - Chunked response streaming with per-chunk flush
//   - Mid-stream upstream failure aborts the client connection
//   - Client disconnects cancel the upstream exchange
//   - WebSocket upgrades relayed bidirectionally
//
// # Usage
//
// The engine is an http.Handler wired from a router:
//
//	engine := proxy.NewEngine(rt,
//	    proxy.WithEngineLogger(logger),
//	    proxy.WithLimiter(limiter, ratelimit.KeyFuncFor("ip")),
//	)
//	server := &http.Server{Handler: engine}
package proxy
