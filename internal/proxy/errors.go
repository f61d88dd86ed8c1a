package proxy

import (
	"errors"
	"fmt"
)

// Sentinel errors for proxy operations.
var (
	// ErrNoHealthyBackend indicates the route's pool has no eligible host.
	ErrNoHealthyBackend = errors.New("no healthy backend available")

	// ErrUpstreamUnavailable indicates the upstream could not be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// UpstreamError carries context about a failed upstream round trip.
type UpstreamError struct {
	Route  string
	Target string
	Cause  error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error route=%s target=%s: %v", e.Route, e.Target, e.Cause)
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// NewUpstreamError creates a new UpstreamError.
func NewUpstreamError(route, target string, cause error) *UpstreamError {
	return &UpstreamError{Route: route, Target: target, Cause: cause}
}
