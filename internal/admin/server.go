// Package admin serves the operational surface: liveness, readiness,
// route and backend status, and Prometheus metrics.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edgegw/edgegw/internal/backend"
	"github.com/edgegw/edgegw/internal/observability"
	"github.com/edgegw/edgegw/internal/router"
)

// StatusSource exposes the gateway state the admin endpoints report.
type StatusSource interface {
	IsRunning() bool
	Uptime() time.Duration
	Routes() []*router.Route
	Pools() []*backend.Pool
}

// Server is the admin HTTP server.
type Server struct {
	addr    string
	source  StatusSource
	logger  observability.Logger
	metrics *observability.Metrics

	srv *http.Server
}

// ServerOption is a functional option for configuring the server.
type ServerOption func(*Server)

// WithServerLogger sets the logger for the admin server.
func WithServerLogger(logger observability.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithServerMetrics sets the metrics registry served at /metrics.
func WithServerMetrics(metrics *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = metrics
	}
}

// NewServer creates the admin server.
func NewServer(addr string, source StatusSource, opts ...ServerOption) *Server {
	s := &Server{
		addr:   addr,
		source: source,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	s.registerRoutes(engine)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("admin server started",
			observability.String("addr", s.addr),
		)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin server failed", observability.Error(err))
		}
	}()
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) registerRoutes(engine *gin.Engine) {
	engine.GET("/live", s.handleLive)
	engine.GET("/ready", s.handleReady)
	engine.GET("/routes", s.handleRoutes)
	engine.GET("/backends", s.handleBackends)

	if s.metrics != nil {
		engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
}

// handleLive reports process liveness.
func (s *Server) handleLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleReady reports readiness: the gateway is running and every route
// has at least one host in rotation.
func (s *Server) handleReady(c *gin.Context) {
	if !s.source.IsRunning() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not running"})
		return
	}

	for _, pool := range s.source.Pools() {
		if pool.HealthyCount() == 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "degraded",
				"route":  pool.Route(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"uptime": s.source.Uptime().String(),
	})
}

// handleRoutes lists the compiled route table in match order.
func (s *Server) handleRoutes(c *gin.Context) {
	routes := s.source.Routes()
	out := make([]gin.H, 0, len(routes))
	for _, route := range routes {
		out = append(out, gin.H{
			"prefix":  route.Prefix,
			"rewrite": route.Rewrite,
			"targets": len(route.Pool.Hosts()),
		})
	}
	c.JSON(http.StatusOK, gin.H{"routes": out})
}

// handleBackends lists every host with its health state.
func (s *Server) handleBackends(c *gin.Context) {
	pools := s.source.Pools()
	out := make([]gin.H, 0, len(pools))
	for _, pool := range pools {
		hosts := pool.Hosts()
		hostStates := make([]gin.H, 0, len(hosts))
		for _, host := range hosts {
			hostStates = append(hostStates, gin.H{
				"address":     host.Address,
				"weight":      host.Weight,
				"status":      host.Status().String(),
				"connections": host.Connections(),
				"lastProbe":   host.LastProbe().Format(time.RFC3339),
			})
		}
		out = append(out, gin.H{
			"route": pool.Route(),
			"hosts": hostStates,
		})
	}
	c.JSON(http.StatusOK, gin.H{"backends": out})
}
