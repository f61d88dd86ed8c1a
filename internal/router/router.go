// Package router provides longest-prefix request routing over immutable
// route table snapshots.
package router

import (
	"errors"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/edgegw/edgegw/internal/backend"
)

// ErrNoRoute indicates that no registered prefix matches the request path.
var ErrNoRoute = errors.New("no matching route")

// ErrDuplicatePrefix indicates two routes registered the same prefix,
// which would make longest-prefix matching ambiguous.
var ErrDuplicatePrefix = errors.New("duplicate route prefix")

// Route is one compiled routing entry.
type Route struct {
	// Prefix is the registered path prefix, normalized without a
	// trailing slash (except the root route "/").
	Prefix string
	// Rewrite strips the matched prefix before forwarding.
	Rewrite bool
	// Pool is the backend pool serving the route.
	Pool *backend.Pool
}

// RewritePath returns the forwarded path for a matched request path.
func (rt *Route) RewritePath(path string) string {
	if !rt.Rewrite || rt.Prefix == "/" {
		return path
	}
	rewritten := strings.TrimPrefix(path, rt.Prefix)
	if rewritten == "" || rewritten[0] != '/' {
		rewritten = "/" + rewritten
	}
	return rewritten
}

// Snapshot is an immutable route table. Requests in flight always observe
// one consistent snapshot; configuration reloads build a new snapshot and
// swap it in atomically.
type Snapshot struct {
	// routes sorted by descending prefix length, so the first match is
	// the longest match.
	routes []*Route
}

// NewSnapshot compiles a route table, rejecting duplicate prefixes.
func NewSnapshot(routes []*Route) (*Snapshot, error) {
	compiled := make([]*Route, 0, len(routes))
	seen := make(map[string]bool, len(routes))

	for _, route := range routes {
		prefix := normalizePrefix(route.Prefix)
		if seen[prefix] {
			return nil, ErrDuplicatePrefix
		}
		seen[prefix] = true

		compiled = append(compiled, &Route{
			Prefix:  prefix,
			Rewrite: route.Rewrite,
			Pool:    route.Pool,
		})
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return len(compiled[i].Prefix) > len(compiled[j].Prefix)
	})

	return &Snapshot{routes: compiled}, nil
}

// Match returns the route with the longest matching prefix for the path,
// or ErrNoRoute when nothing matches. The result is independent of
// registration order.
func (s *Snapshot) Match(path string) (*Route, error) {
	for _, route := range s.routes {
		if matchPrefix(route.Prefix, path) {
			return route, nil
		}
	}
	return nil, ErrNoRoute
}

// Routes returns the compiled routes in match order.
func (s *Snapshot) Routes() []*Route {
	routes := make([]*Route, len(s.routes))
	copy(routes, s.routes)
	return routes
}

// normalizePrefix strips a single trailing slash so /api/ and /api are the
// same registration, keeping the root route intact.
func normalizePrefix(prefix string) string {
	if prefix != "/" {
		return strings.TrimSuffix(prefix, "/")
	}
	return prefix
}

// matchPrefix reports whether path falls under prefix at a path-segment
// boundary: /api/agent matches /api/agent and /api/agent/x, never
// /api/agentx.
func matchPrefix(prefix, path string) bool {
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// Router serves lookups against the current snapshot.
type Router struct {
	snapshot atomic.Pointer[Snapshot]
}

// New creates a router with an empty snapshot.
func New() *Router {
	r := &Router{}
	empty, _ := NewSnapshot(nil)
	r.snapshot.Store(empty)
	return r
}

// Swap atomically replaces the route table. In-flight requests keep the
// snapshot they started with.
func (r *Router) Swap(s *Snapshot) {
	r.snapshot.Store(s)
}

// Snapshot returns the current route table.
func (r *Router) Snapshot() *Snapshot {
	return r.snapshot.Load()
}

// Match resolves the path against the current snapshot.
func (r *Router) Match(path string) (*Route, error) {
	return r.snapshot.Load().Match(path)
}
