package backend

import (
	"context"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/edgegw/edgegw/internal/config"
	"github.com/edgegw/edgegw/internal/observability"
)

// StatusChangeFunc is called when a host crosses a hysteresis threshold.
type StatusChangeFunc func(route, hostAddress string, healthy bool)

// Prober periodically checks the liveness of every host in a pool and
// flips health state only after the configured number of consecutive
// outcomes, preventing flapping. Unhealthy hosts keep being probed so
// recovery is detected.
type Prober struct {
	pool    *Pool
	cfg     config.Probe
	client  *http.Client
	logger  observability.Logger
	metrics *observability.Metrics

	stopCh    chan struct{}
	stoppedCh chan struct{}

	mu             sync.Mutex
	running        bool
	successCounts  map[*Host]int
	failureCounts  map[*Host]int
	onStatusChange StatusChangeFunc

	grpcMu    sync.Mutex
	grpcConns map[string]*grpc.ClientConn
}

// ProberOption is a functional option for configuring the prober.
type ProberOption func(*Prober)

// WithProberLogger sets the logger for the prober.
func WithProberLogger(logger observability.Logger) ProberOption {
	return func(p *Prober) {
		p.logger = logger
	}
}

// WithProberClient sets the HTTP client used for probes.
func WithProberClient(client *http.Client) ProberOption {
	return func(p *Prober) {
		p.client = client
	}
}

// WithProberMetrics sets the metrics sink for probe results.
func WithProberMetrics(metrics *observability.Metrics) ProberOption {
	return func(p *Prober) {
		p.metrics = metrics
	}
}

// WithStatusChangeCallback sets a callback for health state transitions.
func WithStatusChangeCallback(fn StatusChangeFunc) ProberOption {
	return func(p *Prober) {
		p.onStatusChange = fn
	}
}

// NewProber creates a prober for a pool.
func NewProber(pool *Pool, cfg config.Probe, opts ...ProberOption) *Prober {
	timeout := cfg.Timeout.Duration()
	if timeout == 0 {
		timeout = config.DefaultProbeTimeout
	}

	p := &Prober{
		pool:          pool,
		cfg:           cfg,
		client:        &http.Client{Timeout: timeout},
		logger:        observability.NopLogger(),
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
		successCounts: make(map[*Host]int),
		failureCounts: make(map[*Host]int),
		grpcConns:     make(map[string]*grpc.ClientConn),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Start starts the probe loop.
func (p *Prober) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.run()
}

// Stop stops the probe loop and waits for it to finish.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	<-p.stoppedCh
	p.closeAllGRPCConns()
}

// IsRunning returns true while the probe loop is active.
func (p *Prober) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// run is the main probe loop. One cycle probes every host in the pool.
func (p *Prober) run() {
	defer close(p.stoppedCh)

	interval := p.cfg.Interval.Duration()
	if interval == 0 {
		interval = config.DefaultProbeInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-p.stopCh
		cancel()
	}()

	p.probeAll(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

// probeAll probes every host of the pool concurrently. The host list is
// read fresh each cycle so instances added or removed at runtime are
// picked up without restarting the prober.
func (p *Prober) probeAll(ctx context.Context) {
	hosts := p.pool.Hosts()

	var wg sync.WaitGroup
	for _, host := range hosts {
		wg.Add(1)
		go func(h *Host) {
			defer wg.Done()
			p.probeHost(ctx, h)
		}(host)
	}
	wg.Wait()

	p.pruneCounts(hosts)
}

// probeHost issues a single liveness check against one host. A probe that
// exceeds its timeout counts as a failure for this cycle; there is no
// retry within the cycle.
func (p *Prober) probeHost(ctx context.Context, host *Host) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	defer host.MarkProbed(time.Now())

	if p.cfg.UseGRPC {
		p.probeGRPC(ctx, host)
		return
	}

	p.probeHTTP(ctx, host)
}

// probeHTTP performs an HTTP GET liveness check. Any 2xx response counts
// as success; timeouts, refused connections, and other status codes count
// as failure.
func (p *Prober) probeHTTP(ctx context.Context, host *Host) {
	timeout := p.cfg.Timeout.Duration()
	if timeout == 0 {
		timeout = config.DefaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := host.URL() + p.cfg.Path
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, http.NoBody)
	if err != nil {
		p.recordFailure(host, err)
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.recordFailure(host, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		p.recordSuccess(host)
	} else {
		p.recordFailure(host, nil)
	}
}

// probeGRPC performs a native gRPC health v1 check against one host.
func (p *Prober) probeGRPC(ctx context.Context, host *Host) {
	conn, err := p.getGRPCConn(host.Address)
	if err != nil {
		p.recordFailure(host, err)
		return
	}

	client := healthpb.NewHealthClient(conn)

	timeout := p.cfg.Timeout.Duration()
	if timeout == 0 {
		timeout = config.DefaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := client.Check(probeCtx, &healthpb.HealthCheckRequest{
		Service: p.cfg.GRPCService,
	})
	if err != nil {
		p.recordFailure(host, err)
		p.closeGRPCConn(host.Address)
		return
	}

	if resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
		p.recordSuccess(host)
	} else {
		p.recordFailure(host, nil)
	}
}

// getGRPCConn returns a pooled gRPC connection for the address.
func (p *Prober) getGRPCConn(addr string) (*grpc.ClientConn, error) {
	p.grpcMu.Lock()
	defer p.grpcMu.Unlock()

	if conn, ok := p.grpcConns[addr]; ok {
		state := conn.GetState()
		if state != connectivity.Shutdown && state != connectivity.TransientFailure {
			return conn, nil
		}
		if err := conn.Close(); err != nil {
			p.logger.Warn("failed to close stale gRPC connection",
				observability.String("addr", addr),
				observability.Error(err),
			)
		}
		delete(p.grpcConns, addr)
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	p.grpcConns[addr] = conn
	return conn, nil
}

// closeGRPCConn closes and removes a pooled gRPC connection.
func (p *Prober) closeGRPCConn(addr string) {
	p.grpcMu.Lock()
	defer p.grpcMu.Unlock()

	if conn, ok := p.grpcConns[addr]; ok {
		_ = conn.Close()
		delete(p.grpcConns, addr)
	}
}

// closeAllGRPCConns closes all pooled gRPC connections.
func (p *Prober) closeAllGRPCConns() {
	p.grpcMu.Lock()
	defer p.grpcMu.Unlock()

	for addr, conn := range p.grpcConns {
		_ = conn.Close()
		delete(p.grpcConns, addr)
	}
}

// recordSuccess counts a successful probe, flipping the host to healthy
// once the healthy threshold of consecutive successes is reached.
func (p *Prober) recordSuccess(host *Host) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.successCounts[host]++
	p.failureCounts[host] = 0

	if p.metrics != nil {
		p.metrics.ProbesTotal.WithLabelValues(p.pool.Route(), host.Address, "success").Inc()
	}

	if p.successCounts[host] >= p.healthyThreshold() && host.Status() != StatusHealthy {
		host.SetStatus(StatusHealthy)
		p.logger.Info("host became healthy",
			observability.String("route", p.pool.Route()),
			observability.String("host", host.Address),
		)
		if p.metrics != nil {
			p.metrics.BackendUp.WithLabelValues(p.pool.Route(), host.Address).Set(1)
		}
		if p.onStatusChange != nil {
			p.onStatusChange(p.pool.Route(), host.Address, true)
		}
	}
}

// recordFailure counts a failed probe, flipping the host to unhealthy
// once the unhealthy threshold of consecutive failures is reached.
func (p *Prober) recordFailure(host *Host, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failureCounts[host]++
	p.successCounts[host] = 0

	if p.metrics != nil {
		p.metrics.ProbesTotal.WithLabelValues(p.pool.Route(), host.Address, "failure").Inc()
	}

	if p.failureCounts[host] >= p.unhealthyThreshold() && host.Status() != StatusUnhealthy {
		host.SetStatus(StatusUnhealthy)
		p.logger.Warn("host became unhealthy",
			observability.String("route", p.pool.Route()),
			observability.String("host", host.Address),
			observability.Error(err),
		)
		if p.metrics != nil {
			p.metrics.BackendUp.WithLabelValues(p.pool.Route(), host.Address).Set(0)
		}
		if p.onStatusChange != nil {
			p.onStatusChange(p.pool.Route(), host.Address, false)
		}
	}
}

// pruneCounts drops hysteresis counters for hosts removed from the pool.
func (p *Prober) pruneCounts(hosts []*Host) {
	current := make(map[*Host]bool, len(hosts))
	for _, host := range hosts {
		current[host] = true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for host := range p.successCounts {
		if !current[host] {
			delete(p.successCounts, host)
		}
	}
	for host := range p.failureCounts {
		if !current[host] {
			delete(p.failureCounts, host)
		}
	}
}

func (p *Prober) healthyThreshold() int {
	if p.cfg.HealthyThreshold > 0 {
		return p.cfg.HealthyThreshold
	}
	return config.DefaultHealthyThreshold
}

func (p *Prober) unhealthyThreshold() int {
	if p.cfg.UnhealthyThreshold > 0 {
		return p.cfg.UnhealthyThreshold
	}
	return config.DefaultUnhealthyThreshold
}
