package util

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouteContext(t *testing.T) {
	t.Parallel()

	ctx := ContextWithRoute(context.Background(), "/api")
	route, ok := RouteFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "/api", route)

	route, ok = RouteFromContext(context.Background())
	assert.False(t, ok)
	assert.Empty(t, route)
}

func TestSetRoute_WritesIntoInstalledSlot(t *testing.T) {
	t.Parallel()

	outer := WithRouteSlot(context.Background())

	// A derived context models the engine cloning the request: the write
	// must stay visible through the outer context.
	inner := context.WithValue(outer, contextKey("other"), "value")
	SetRoute(inner, "/api")

	route, ok := RouteFromContext(outer)
	assert.True(t, ok)
	assert.Equal(t, "/api", route)
}

func TestSetRoute_WithoutSlotDerives(t *testing.T) {
	t.Parallel()

	base := context.Background()
	derived := SetRoute(base, "/api")

	route, ok := RouteFromContext(derived)
	assert.True(t, ok)
	assert.Equal(t, "/api", route)

	_, ok = RouteFromContext(base)
	assert.False(t, ok)
}

func TestWithRouteSlot_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := WithRouteSlot(context.Background())
	assert.Equal(t, ctx, WithRouteSlot(ctx))

	_, ok := RouteFromContext(ctx)
	assert.False(t, ok)
}
