// Package gateway assembles the data path and owns the process
// lifecycle: listeners, health probing, reload, and graceful shutdown.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgegw/edgegw/internal/backend"
	"github.com/edgegw/edgegw/internal/circuitbreaker"
	"github.com/edgegw/edgegw/internal/config"
	"github.com/edgegw/edgegw/internal/middleware"
	"github.com/edgegw/edgegw/internal/observability"
	"github.com/edgegw/edgegw/internal/proxy"
	"github.com/edgegw/edgegw/internal/ratelimit"
	"github.com/edgegw/edgegw/internal/router"
	gwtls "github.com/edgegw/edgegw/internal/tls"
)

// State represents the gateway lifecycle state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is running.
	StateRunning
	// StateStopping indicates the gateway is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// plane is one immutable generation of the data path. A reload builds a
// complete new plane and swaps it in; in-flight requests finish on the
// plane they started with.
type plane struct {
	handler  http.Handler
	router   *router.Router
	registry *backend.Registry
	limiter  ratelimit.Limiter
}

// Gateway is the top-level server.
type Gateway struct {
	logger  observability.Logger
	metrics *observability.Metrics

	mu  sync.RWMutex
	cfg *config.Config

	plane atomic.Pointer[plane]
	state atomic.Int32

	httpServer  *http.Server
	httpsServer *http.Server
	tlsProvider gwtls.Provider

	startTime time.Time
	errCh     chan error
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithMetrics sets the metrics registry for the gateway.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = metrics
	}
}

// New creates a gateway from validated configuration.
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	g := &Gateway{
		cfg:    cfg,
		logger: observability.NopLogger(),
		errCh:  make(chan error, 2),
	}

	for _, opt := range opts {
		opt(g)
	}

	g.state.Store(int32(StateStopped))

	return g, nil
}

// Start builds the data plane and starts the listeners. It returns once
// the listeners are accepting; fatal listener errors are delivered on
// Errors().
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("gateway is not in stopped state")
	}

	g.mu.RLock()
	cfg := g.cfg
	g.mu.RUnlock()

	p, err := g.buildPlane(cfg)
	if err != nil {
		g.state.Store(int32(StateStopped))
		return err
	}
	g.plane.Store(p)
	p.registry.StartProbers()

	if err := g.startListeners(ctx, cfg); err != nil {
		g.teardownPlane(p)
		g.state.Store(int32(StateStopped))
		return err
	}

	g.startTime = time.Now()
	g.state.Store(int32(StateRunning))

	g.logger.Info("gateway started",
		observability.Int("routes", len(cfg.Routes)),
	)

	return nil
}

// Stop drains the listeners within the grace period, then force-closes
// whatever remains.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return fmt.Errorf("gateway is not running")
	}

	g.mu.RLock()
	grace := g.cfg.ShutdownGracePeriod.Duration()
	g.mu.RUnlock()

	g.logger.Info("stopping gateway",
		observability.Duration("gracePeriod", grace),
	)

	graceCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	// Shutdown stops accepting immediately and waits for in-flight
	// requests. Requests still running when the grace period lapses are
	// cut off by Close.
	var wg sync.WaitGroup
	for _, srv := range []*http.Server{g.httpServer, g.httpsServer} {
		if srv == nil {
			continue
		}
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			if err := srv.Shutdown(graceCtx); err != nil {
				g.logger.Warn("grace period elapsed, closing listener",
					observability.String("addr", srv.Addr),
					observability.Error(err),
				)
				_ = srv.Close()
			}
		}(srv)
	}
	wg.Wait()

	if g.tlsProvider != nil {
		if err := g.tlsProvider.Close(); err != nil {
			g.logger.Warn("closing TLS provider", observability.Error(err))
		}
		g.tlsProvider = nil
	}

	if p := g.plane.Load(); p != nil {
		g.teardownPlane(p)
	}

	g.state.Store(int32(StateStopped))
	g.logger.Info("gateway stopped")

	return nil
}

// Reload atomically replaces the data plane from new configuration. The
// listeners keep running; only routing, pools, probing, and admission
// state change. Probe state starts fresh, so replaced hosts re-enter
// rotation as unknown.
func (g *Gateway) Reload(cfg *config.Config) error {
	if err := config.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	p, err := g.buildPlane(cfg)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()

	old := g.plane.Swap(p)
	p.registry.StartProbers()

	if old != nil {
		// Old probers and limiter are torn down after the swap so the
		// plane never has a gap.
		g.teardownPlane(old)
	}

	g.logger.Info("configuration reloaded",
		observability.Int("routes", len(cfg.Routes)),
	)

	return nil
}

// ServeHTTP delegates to the current data plane.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := g.plane.Load()
	if p == nil {
		http.Error(w, "gateway not ready", http.StatusServiceUnavailable)
		return
	}
	p.handler.ServeHTTP(w, r)
}

// Errors delivers fatal listener errors after Start has returned.
func (g *Gateway) Errors() <-chan error {
	return g.errCh
}

// State returns the current gateway state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// IsRunning returns true if the gateway is running.
func (g *Gateway) IsRunning() bool {
	return g.State() == StateRunning
}

// Uptime returns the time since the gateway started.
func (g *Gateway) Uptime() time.Duration {
	if g.startTime.IsZero() {
		return 0
	}
	return time.Since(g.startTime)
}

// Routes returns the current route table.
func (g *Gateway) Routes() []*router.Route {
	p := g.plane.Load()
	if p == nil {
		return nil
	}
	return p.router.Snapshot().Routes()
}

// Pools returns the current backend pools.
func (g *Gateway) Pools() []*backend.Pool {
	p := g.plane.Load()
	if p == nil {
		return nil
	}
	return p.registry.Pools()
}

// buildPlane constructs a complete data path generation from config.
func (g *Gateway) buildPlane(cfg *config.Config) (*plane, error) {
	registry := backend.NewRegistry(g.logger)
	routes := make([]*router.Route, 0, len(cfg.Routes))

	for _, routeCfg := range cfg.Routes {
		pool, err := backend.NewPool(routeCfg.Prefix, routeCfg.Targets,
			backend.WithPoolLogger(g.logger),
		)
		if err != nil {
			return nil, err
		}

		prober := backend.NewProber(pool, cfg.Probe,
			backend.WithProberLogger(g.logger),
			backend.WithProberMetrics(g.metrics),
		)

		if err := registry.Register(pool, prober); err != nil {
			return nil, err
		}

		routes = append(routes, &router.Route{
			Prefix:  routeCfg.Prefix,
			Rewrite: routeCfg.Rewrite,
			Pool:    pool,
		})
	}

	snapshot, err := router.NewSnapshot(routes)
	if err != nil {
		return nil, err
	}
	rt := router.New()
	rt.Swap(snapshot)

	limiter, err := ratelimit.New(cfg.RateLimit, g.logger)
	if err != nil {
		return nil, err
	}

	keyStrategy := ""
	if cfg.RateLimit != nil {
		keyStrategy = cfg.RateLimit.Key
	}

	engine := proxy.NewEngine(rt,
		proxy.WithEngineLogger(g.logger),
		proxy.WithEngineMetrics(g.metrics),
		proxy.WithLimiter(limiter, ratelimit.KeyFuncFor(keyStrategy)),
		proxy.WithBreakers(circuitbreaker.NewRegistry(cfg.CircuitBreaker, g.logger)),
	)

	middlewares := []func(http.Handler) http.Handler{
		middleware.Recovery(g.logger),
		middleware.RequestID(),
		middleware.Logging(g.logger),
		middleware.Throttle(cfg.Throttle),
	}
	if g.metrics != nil {
		middlewares = append(middlewares, middleware.Metrics(g.metrics))
	}

	return &plane{
		handler:  middleware.Chain(engine, middlewares...),
		router:   rt,
		registry: registry,
		limiter:  limiter,
	}, nil
}

// teardownPlane stops probing and releases limiter state for a retired
// plane.
func (g *Gateway) teardownPlane(p *plane) {
	p.registry.StopProbers()
	if err := p.limiter.Close(); err != nil {
		g.logger.Warn("closing rate limiter", observability.Error(err))
	}
}
