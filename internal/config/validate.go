package config

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// ConfigError describes a configuration problem that is fatal at startup.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error: %s: %s", e.Field, e.Message)
	}
	return "config error: " + e.Message
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// ValidateConfig checks the configuration for startup-fatal problems:
// duplicate route prefixes, empty target pools, malformed addresses, and
// TLS listeners without certificate material.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return NewConfigError("", "configuration is nil")
	}

	if cfg.Listeners.HTTP == nil && cfg.Listeners.HTTPS == nil {
		return NewConfigError("listeners", "at least one listener is required")
	}

	if err := validateTLSListener(cfg.Listeners.HTTPS); err != nil {
		return err
	}

	if err := validateRoutes(cfg.Routes); err != nil {
		return err
	}

	if err := validateProbe(&cfg.Probe); err != nil {
		return err
	}

	if err := validateRateLimit(cfg.RateLimit); err != nil {
		return err
	}

	return nil
}

// validateTLSListener checks that a TLS listener carries usable cert material.
func validateTLSListener(l *Listener) error {
	if l == nil {
		return nil
	}
	if l.TLS == nil {
		return NewConfigError("listeners.https.tls", "TLS listener requires certificate configuration")
	}
	if l.TLS.CertFile == "" || l.TLS.KeyFile == "" {
		return NewConfigError("listeners.https.tls", "certFile and keyFile are required")
	}
	if _, err := os.Stat(l.TLS.CertFile); err != nil {
		return NewConfigError("listeners.https.tls.certFile", "certificate file not readable: "+err.Error())
	}
	if _, err := os.Stat(l.TLS.KeyFile); err != nil {
		return NewConfigError("listeners.https.tls.keyFile", "key file not readable: "+err.Error())
	}
	switch l.TLS.MinVersion {
	case "", "1.2", "1.3":
	default:
		return NewConfigError("listeners.https.tls.minVersion", "unsupported minimum version: "+l.TLS.MinVersion)
	}
	return nil
}

// validateRoutes rejects empty route tables, duplicate prefixes, and empty
// target pools. Duplicate prefixes would make longest-prefix matching
// ambiguous at equal length.
func validateRoutes(routes []Route) error {
	if len(routes) == 0 {
		return NewConfigError("routes", "at least one route is required")
	}

	seen := make(map[string]bool, len(routes))
	for i, route := range routes {
		field := fmt.Sprintf("routes[%d]", i)

		if route.Prefix == "" || !strings.HasPrefix(route.Prefix, "/") {
			return NewConfigError(field+".prefix", "prefix must start with /")
		}

		normalized := normalizePrefix(route.Prefix)
		if seen[normalized] {
			return NewConfigError(field+".prefix", "duplicate route prefix: "+route.Prefix)
		}
		seen[normalized] = true

		if len(route.Targets) == 0 {
			return NewConfigError(field+".targets", "at least one target is required")
		}

		for j, target := range route.Targets {
			if _, _, err := net.SplitHostPort(target.Address); err != nil {
				return NewConfigError(
					fmt.Sprintf("%s.targets[%d].address", field, j),
					"address must be host:port: "+err.Error(),
				)
			}
			if target.Weight < 0 {
				return NewConfigError(
					fmt.Sprintf("%s.targets[%d].weight", field, j),
					"weight must not be negative",
				)
			}
		}
	}

	return nil
}

// normalizePrefix strips a single trailing slash so /api/ and /api are
// treated as the same registration.
func normalizePrefix(prefix string) string {
	if prefix != "/" {
		return strings.TrimSuffix(prefix, "/")
	}
	return prefix
}

func validateProbe(p *Probe) error {
	if p.Interval.Duration() <= 0 {
		return NewConfigError("probe.interval", "interval must be positive")
	}
	if p.Timeout.Duration() <= 0 {
		return NewConfigError("probe.timeout", "timeout must be positive")
	}
	if p.UnhealthyThreshold < 1 {
		return NewConfigError("probe.unhealthyThreshold", "threshold must be at least 1")
	}
	if p.HealthyThreshold < 1 {
		return NewConfigError("probe.healthyThreshold", "threshold must be at least 1")
	}
	return nil
}

func validateRateLimit(rl *RateLimit) error {
	if rl == nil {
		return nil
	}
	if rl.Capacity < 1 {
		return NewConfigError("rateLimit.capacity", "capacity must be at least 1")
	}
	if rl.RefillPerSecond <= 0 {
		return NewConfigError("rateLimit.refillPerSecond", "refill rate must be positive")
	}
	switch rl.Key {
	case RateLimitKeyIP, RateLimitKeyRoute, RateLimitKeyIPRoute:
	default:
		return NewConfigError("rateLimit.key", "unknown key strategy: "+rl.Key)
	}
	if rl.Store != nil {
		switch rl.Store.Type {
		case StoreMemory:
		case StoreRedis:
			if rl.Store.Redis == nil || rl.Store.Redis.Address == "" {
				return NewConfigError("rateLimit.store.redis.address", "redis address is required")
			}
		default:
			return NewConfigError("rateLimit.store.type", "unknown store type: "+rl.Store.Type)
		}
	}
	return nil
}
