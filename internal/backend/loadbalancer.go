package backend

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
)

// Balancer is the interface for load balancing algorithms.
type Balancer interface {
	// Pick selects a host for a request, never returning a host that is
	// out of rotation or in the exclude list. Returns nil when no host
	// is eligible.
	Pick(exclude ...*Host) *Host
	// SetHosts replaces the candidate host set.
	SetHosts(hosts []*Host)
}

// WeightedRoundRobin implements smooth weighted round-robin selection.
// Each pick advances every eligible host's running weight by its configured
// weight and selects the largest; ties are broken randomly so equally
// weighted hosts do not depend on registration order.
type WeightedRoundRobin struct {
	mu      sync.Mutex
	hosts   []*Host
	current map[*Host]int
}

// NewWeightedRoundRobin creates a new weighted round-robin balancer.
func NewWeightedRoundRobin(hosts []*Host) *WeightedRoundRobin {
	b := &WeightedRoundRobin{
		current: make(map[*Host]int, len(hosts)),
	}
	b.SetHosts(hosts)
	return b
}

// SetHosts replaces the candidate host set, preserving running weights of
// hosts that remain.
func (b *WeightedRoundRobin) SetHosts(hosts []*Host) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := make(map[*Host]int, len(hosts))
	for _, host := range hosts {
		kept[host] = b.current[host]
	}

	b.hosts = make([]*Host, len(hosts))
	copy(b.hosts, hosts)
	b.current = kept
}

// Pick implements Balancer.
func (b *WeightedRoundRobin) Pick(exclude ...*Host) *Host {
	b.mu.Lock()
	defer b.mu.Unlock()

	eligible := make([]*Host, 0, len(b.hosts))
	total := 0
	for _, host := range b.hosts {
		if !host.Eligible() || excluded(host, exclude) {
			continue
		}
		eligible = append(eligible, host)
		total += host.Weight
	}

	if len(eligible) == 0 {
		return nil
	}

	var best []*Host
	bestWeight := 0
	for _, host := range eligible {
		b.current[host] += host.Weight
		switch {
		case len(best) == 0 || b.current[host] > bestWeight:
			best = best[:0]
			best = append(best, host)
			bestWeight = b.current[host]
		case b.current[host] == bestWeight:
			best = append(best, host)
		}
	}

	selected := best[0]
	if len(best) > 1 {
		selected = best[secureRandomInt(len(best))]
	}

	b.current[selected] -= total
	return selected
}

// RandomBalancer selects a random eligible host per request.
type RandomBalancer struct {
	mu    sync.RWMutex
	hosts []*Host
}

// NewRandomBalancer creates a new random balancer.
func NewRandomBalancer(hosts []*Host) *RandomBalancer {
	b := &RandomBalancer{}
	b.SetHosts(hosts)
	return b
}

// SetHosts replaces the candidate host set.
func (b *RandomBalancer) SetHosts(hosts []*Host) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hosts = make([]*Host, len(hosts))
	copy(b.hosts, hosts)
}

// Pick implements Balancer.
func (b *RandomBalancer) Pick(exclude ...*Host) *Host {
	b.mu.RLock()
	defer b.mu.RUnlock()

	eligible := make([]*Host, 0, len(b.hosts))
	for _, host := range b.hosts {
		if host.Eligible() && !excluded(host, exclude) {
			eligible = append(eligible, host)
		}
	}

	if len(eligible) == 0 {
		return nil
	}

	return eligible[secureRandomInt(len(eligible))]
}

// excluded reports whether host appears in the exclude list.
func excluded(host *Host, exclude []*Host) bool {
	for _, e := range exclude {
		if e == host {
			return true
		}
	}
	return false
}

// secureRandomInt returns a cryptographically secure random int in [0, n).
func secureRandomInt(n int) int {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return int(binary.LittleEndian.Uint64(b[:]) % uint64(n)) //nolint:gosec // bounds checked
}
