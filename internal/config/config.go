package config

import "time"

// Rate limit key strategies.
const (
	// RateLimitKeyIP keys buckets by client IP address.
	RateLimitKeyIP = "ip"
	// RateLimitKeyRoute keys buckets by matched route prefix.
	RateLimitKeyRoute = "route"
	// RateLimitKeyIPRoute keys buckets by client IP and route prefix combined.
	RateLimitKeyIPRoute = "ip_route"
)

// Rate limit store types.
const (
	// StoreMemory keeps rate limit state in process memory.
	StoreMemory = "memory"
	// StoreRedis keeps rate limit state in Redis for multi-instance deployments.
	StoreRedis = "redis"
)

// Default values applied when fields are omitted.
const (
	DefaultHTTPAddress         = ":80"
	DefaultHTTPSAddress        = ":443"
	DefaultAdminAddress        = ":9090"
	DefaultProbePath           = "/healthz"
	DefaultProbeInterval       = 5 * time.Second
	DefaultProbeTimeout        = 2 * time.Second
	DefaultUnhealthyThreshold  = 3
	DefaultHealthyThreshold    = 2
	DefaultRateLimitIdleTTL    = 10 * time.Minute
	DefaultShutdownGracePeriod = 30 * time.Second
)

// Config is the root gateway configuration.
type Config struct {
	Listeners           Listeners       `yaml:"listeners"`
	Routes              []Route         `yaml:"routes"`
	Probe               Probe           `yaml:"probe"`
	RateLimit           *RateLimit      `yaml:"rateLimit,omitempty"`
	Throttle            *Throttle       `yaml:"throttle,omitempty"`
	CircuitBreaker      *CircuitBreaker `yaml:"circuitBreaker,omitempty"`
	Admin               *Admin          `yaml:"admin,omitempty"`
	ShutdownGracePeriod Duration        `yaml:"shutdownGracePeriod,omitempty"`
}

// Listeners holds the two external listener configurations.
type Listeners struct {
	HTTP  *Listener `yaml:"http,omitempty"`
	HTTPS *Listener `yaml:"https,omitempty"`
}

// Listener configures a single listening socket.
type Listener struct {
	Address string `yaml:"address"`
	TLS     *TLS   `yaml:"tls,omitempty"`
}

// TLS configures certificate material for a TLS listener.
type TLS struct {
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
	// MinVersion is the minimum accepted protocol version: "1.2" (default) or "1.3".
	MinVersion string `yaml:"minVersion,omitempty"`
}

// Route maps a path prefix to a pool of backend targets.
type Route struct {
	Prefix string `yaml:"prefix"`
	// Rewrite strips the matched prefix before forwarding.
	Rewrite bool     `yaml:"rewrite,omitempty"`
	Targets []Target `yaml:"targets"`
}

// Target is a single backend instance address.
type Target struct {
	Address string `yaml:"address"`
	Weight  int    `yaml:"weight,omitempty"`
}

// Probe configures active backend health probing.
type Probe struct {
	Interval Duration `yaml:"interval,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty"`
	Path     string   `yaml:"path,omitempty"`
	// UnhealthyThreshold is the number of consecutive failures before a host
	// is taken out of rotation.
	UnhealthyThreshold int `yaml:"unhealthyThreshold,omitempty"`
	// HealthyThreshold is the number of consecutive successes before a host
	// is returned to rotation.
	HealthyThreshold int `yaml:"healthyThreshold,omitempty"`
	// UseGRPC switches probing to the gRPC health v1 protocol.
	UseGRPC bool `yaml:"useGRPC,omitempty"`
	// GRPCService is the service name passed to gRPC health checks.
	GRPCService string `yaml:"grpcService,omitempty"`
}

// RateLimit configures keyed token-bucket admission control.
type RateLimit struct {
	Capacity        int      `yaml:"capacity"`
	RefillPerSecond float64  `yaml:"refillPerSecond"`
	Key             string   `yaml:"key,omitempty"`
	IdleTTL         Duration `yaml:"idleTTL,omitempty"`
	Store           *Store   `yaml:"store,omitempty"`
}

// Store configures the rate limit state store.
type Store struct {
	Type  string `yaml:"type"`
	Redis *Redis `yaml:"redis,omitempty"`
}

// Redis holds Redis connection settings.
type Redis struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// Throttle caps the aggregate request rate per listener, independent of
// the keyed rate limiter.
type Throttle struct {
	RequestsPerSecond int `yaml:"requestsPerSecond"`
	Burst             int `yaml:"burst,omitempty"`
}

// CircuitBreaker configures the per-host breaker around proxy round trips.
type CircuitBreaker struct {
	Enabled bool `yaml:"enabled"`
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures int `yaml:"maxFailures,omitempty"`
	// OpenTimeout is how long the breaker stays open before probing half-open.
	OpenTimeout Duration `yaml:"openTimeout,omitempty"`
}

// Admin configures the status and metrics server.
type Admin struct {
	Address string `yaml:"address,omitempty"`
}

// DefaultConfig returns a configuration with defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Listeners: Listeners{
			HTTP: &Listener{Address: DefaultHTTPAddress},
		},
		Probe: Probe{
			Interval:           Duration(DefaultProbeInterval),
			Timeout:            Duration(DefaultProbeTimeout),
			Path:               DefaultProbePath,
			UnhealthyThreshold: DefaultUnhealthyThreshold,
			HealthyThreshold:   DefaultHealthyThreshold,
		},
		ShutdownGracePeriod: Duration(DefaultShutdownGracePeriod),
	}
}

// ApplyDefaults fills zero-valued fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Listeners.HTTP == nil && c.Listeners.HTTPS == nil {
		c.Listeners.HTTP = &Listener{Address: DefaultHTTPAddress}
	}
	if c.Listeners.HTTP != nil && c.Listeners.HTTP.Address == "" {
		c.Listeners.HTTP.Address = DefaultHTTPAddress
	}
	if c.Listeners.HTTPS != nil && c.Listeners.HTTPS.Address == "" {
		c.Listeners.HTTPS.Address = DefaultHTTPSAddress
	}
	if c.Probe.Interval == 0 {
		c.Probe.Interval = Duration(DefaultProbeInterval)
	}
	if c.Probe.Timeout == 0 {
		c.Probe.Timeout = Duration(DefaultProbeTimeout)
	}
	if c.Probe.Path == "" {
		c.Probe.Path = DefaultProbePath
	}
	if c.Probe.UnhealthyThreshold == 0 {
		c.Probe.UnhealthyThreshold = DefaultUnhealthyThreshold
	}
	if c.Probe.HealthyThreshold == 0 {
		c.Probe.HealthyThreshold = DefaultHealthyThreshold
	}
	if c.RateLimit != nil {
		if c.RateLimit.Key == "" {
			c.RateLimit.Key = RateLimitKeyIP
		}
		if c.RateLimit.IdleTTL == 0 {
			c.RateLimit.IdleTTL = Duration(DefaultRateLimitIdleTTL)
		}
	}
	if c.Admin != nil && c.Admin.Address == "" {
		c.Admin.Address = DefaultAdminAddress
	}
	if c.ShutdownGracePeriod == 0 {
		c.ShutdownGracePeriod = Duration(DefaultShutdownGracePeriod)
	}
}
