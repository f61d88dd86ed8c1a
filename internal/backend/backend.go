package backend

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgegw/edgegw/internal/config"
	"github.com/edgegw/edgegw/internal/observability"
)

// Status represents the health status of a backend host.
type Status int32

const (
	// StatusUnknown indicates the host has not been probed yet.
	StatusUnknown Status = iota
	// StatusHealthy indicates the host is in rotation.
	StatusHealthy
	// StatusUnhealthy indicates the host is out of rotation.
	StatusUnhealthy
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Host represents a single backend instance.
type Host struct {
	// Address is the host:port of the instance.
	Address string
	Weight  int

	status      atomic.Int32
	connections atomic.Int64
	lastProbe   atomic.Int64
}

// NewHost creates a new host with unknown health status.
func NewHost(address string, weight int) *Host {
	if weight <= 0 {
		weight = 1
	}
	h := &Host{
		Address: address,
		Weight:  weight,
	}
	h.status.Store(int32(StatusUnknown))
	return h
}

// URL returns the plaintext URL of the host.
func (h *Host) URL() string {
	return "http://" + h.Address
}

// Status returns the host status.
func (h *Host) Status() Status {
	return Status(h.status.Load())
}

// SetStatus sets the host status.
func (h *Host) SetStatus(status Status) {
	h.status.Store(int32(status))
}

// Eligible reports whether the host may receive traffic. Hosts that have
// not been probed yet stay in rotation until proven unhealthy.
func (h *Host) Eligible() bool {
	s := h.Status()
	return s == StatusHealthy || s == StatusUnknown
}

// Connections returns the current connection count.
func (h *Host) Connections() int64 {
	return h.connections.Load()
}

// IncrementConnections increments the connection count.
func (h *Host) IncrementConnections() {
	h.connections.Add(1)
}

// DecrementConnections decrements the connection count.
func (h *Host) DecrementConnections() {
	h.connections.Add(-1)
}

// MarkProbed records the time of the last completed probe.
func (h *Host) MarkProbed(t time.Time) {
	h.lastProbe.Store(t.UnixNano())
}

// LastProbe returns the time of the last completed probe.
func (h *Host) LastProbe() time.Time {
	return time.Unix(0, h.lastProbe.Load())
}

// Pool manages the hosts of a single route and selects among them.
type Pool struct {
	route    string
	balancer Balancer
	logger   observability.Logger

	mu    sync.RWMutex
	hosts []*Host
}

// PoolOption is a functional option for configuring a pool.
type PoolOption func(*Pool)

// WithPoolLogger sets the logger for the pool.
func WithPoolLogger(logger observability.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithBalancer sets the load balancer for the pool.
func WithBalancer(b Balancer) PoolOption {
	return func(p *Pool) {
		p.balancer = b
	}
}

// NewPool creates a pool for a route from target configuration.
func NewPool(route string, targets []config.Target, opts ...PoolOption) (*Pool, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("pool %s: at least one target is required", route)
	}

	p := &Pool{
		route:  route,
		logger: observability.NopLogger(),
		hosts:  make([]*Host, 0, len(targets)),
	}

	for _, opt := range opts {
		opt(p)
	}

	for _, target := range targets {
		p.hosts = append(p.hosts, NewHost(target.Address, target.Weight))
	}

	if p.balancer == nil {
		p.balancer = NewWeightedRoundRobin(p.hosts)
	} else {
		p.balancer.SetHosts(p.hosts)
	}

	return p, nil
}

// Route returns the route prefix the pool serves.
func (p *Pool) Route() string {
	return p.route
}

// Pick selects a host for a request, skipping any excluded hosts. It
// returns nil when no eligible host remains.
func (p *Pool) Pick(exclude ...*Host) *Host {
	host := p.balancer.Pick(exclude...)
	if host == nil {
		return nil
	}
	host.IncrementConnections()
	return host
}

// Release returns a host after its request completes.
func (p *Pool) Release(host *Host) {
	if host != nil {
		host.DecrementConnections()
	}
}

// Hosts returns a snapshot of the pool's hosts.
func (p *Pool) Hosts() []*Host {
	p.mu.RLock()
	defer p.mu.RUnlock()

	hosts := make([]*Host, len(p.hosts))
	copy(hosts, p.hosts)
	return hosts
}

// AddHost adds an instance to the pool at runtime (scale-up). Requests
// already bound to other hosts are unaffected.
func (p *Pool) AddHost(address string, weight int) *Host {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.hosts {
		if existing.Address == address {
			return existing
		}
	}

	host := NewHost(address, weight)
	p.hosts = append(p.hosts, host)
	p.balancer.SetHosts(p.hosts)

	p.logger.Info("added backend host",
		observability.String("route", p.route),
		observability.String("host", address),
	)

	return host
}

// RemoveHost removes an instance from the pool at runtime (scale-down).
// In-flight requests bound to the host complete undisturbed.
func (p *Pool) RemoveHost(address string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, host := range p.hosts {
		if host.Address == address {
			p.hosts = append(p.hosts[:i], p.hosts[i+1:]...)
			p.balancer.SetHosts(p.hosts)
			p.logger.Info("removed backend host",
				observability.String("route", p.route),
				observability.String("host", address),
			)
			return true
		}
	}

	return false
}

// HealthyCount returns the number of hosts currently in rotation.
func (p *Pool) HealthyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0
	for _, host := range p.hosts {
		if host.Eligible() {
			count++
		}
	}
	return count
}

// Registry holds the pools and probers of all configured routes.
type Registry struct {
	logger observability.Logger

	mu      sync.RWMutex
	pools   map[string]*Pool
	probers map[string]*Prober
}

// NewRegistry creates an empty backend registry.
func NewRegistry(logger observability.Logger) *Registry {
	return &Registry{
		logger:  logger,
		pools:   make(map[string]*Pool),
		probers: make(map[string]*Prober),
	}
}

// Register adds a pool and its prober to the registry.
func (r *Registry) Register(pool *Pool, prober *Prober) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	route := pool.Route()
	if _, exists := r.pools[route]; exists {
		return fmt.Errorf("pool already registered for route %s", route)
	}

	r.pools[route] = pool
	if prober != nil {
		r.probers[route] = prober
	}

	r.logger.Info("registered backend pool",
		observability.String("route", route),
		observability.Int("hosts", len(pool.Hosts())),
	)

	return nil
}

// Get returns the pool for a route.
func (r *Registry) Get(route string) (*Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pool, exists := r.pools[route]
	return pool, exists
}

// Pools returns all registered pools.
func (r *Registry) Pools() []*Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pools := make([]*Pool, 0, len(r.pools))
	for _, pool := range r.pools {
		pools = append(pools, pool)
	}
	return pools
}

// StartProbers starts health probing for all pools.
func (r *Registry) StartProbers() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, prober := range r.probers {
		prober.Start()
	}
}

// StopProbers stops health probing for all pools.
func (r *Registry) StopProbers() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, prober := range r.probers {
		prober.Stop()
	}
}
