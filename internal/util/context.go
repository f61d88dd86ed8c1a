// Package util provides shared request context helpers.
package util

import "context"

type contextKey string

const routeKey contextKey = "route"

// routeHolder is a mutable slot for the matched route. The proxy engine
// matches on a cloned request, so a plain context value set there would
// never reach middleware reading the original request after the handler
// returns. Writing into a pre-installed slot does.
type routeHolder struct {
	route string
}

// WithRouteSlot installs an empty route slot unless one is already
// present. Middleware that reads the route after the handler returns
// must install the slot before calling it.
func WithRouteSlot(ctx context.Context) context.Context {
	if _, ok := ctx.Value(routeKey).(*routeHolder); ok {
		return ctx
	}
	return context.WithValue(ctx, routeKey, &routeHolder{})
}

// ContextWithRoute returns a context carrying the matched route prefix.
func ContextWithRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, routeKey, &routeHolder{route: route})
}

// SetRoute records the matched route prefix. An existing slot is
// updated in place so the value stays visible upstream of a request
// clone; otherwise a derived context carries it.
func SetRoute(ctx context.Context, route string) context.Context {
	if holder, ok := ctx.Value(routeKey).(*routeHolder); ok {
		holder.route = route
		return ctx
	}
	return ContextWithRoute(ctx, route)
}

// RouteFromContext returns the matched route prefix and whether one was
// recorded.
func RouteFromContext(ctx context.Context) (string, bool) {
	if holder, ok := ctx.Value(routeKey).(*routeHolder); ok && holder.route != "" {
		return holder.route, true
	}
	return "", false
}
