package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNoop(t *testing.T) {
	ctx := context.Background()
	var c Cache = Noop{}

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	_, err := c.Get(ctx, "k")
	require.ErrorIs(t, err, ErrMiss)
	require.NoError(t, c.Invalidate(ctx, "k"))
}

func TestNewRedisWithoutClient(t *testing.T) {
	// A missing Redis server degrades to the no-op cache instead of
	// failing every permission lookup.
	c := NewRedis(nil)
	_, err := c.Get(context.Background(), "k")
	require.ErrorIs(t, err, ErrMiss)
}
