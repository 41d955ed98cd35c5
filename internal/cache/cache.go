// Package cache defines the key-value cache consumed by the RBAC
// permission resolver.  It is an interface rather than a process-wide
// client so tests can substitute a deterministic fake and assert on
// invalidation calls, and so the resolver can degrade to a no-op when
// Redis is unavailable.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache is a TTL'd string cache.  Invalidate must remove the key before
// returning so a subsequent Get observes the miss.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Noop is a Cache that stores nothing.  Used when no Redis server is
// configured; every Get misses and the resolver reads straight through to
// the database.
type Noop struct{}

func (Noop) Get(ctx context.Context, key string) (string, error) { return "", ErrMiss }

func (Noop) Set(ctx context.Context, key, value string, ttl time.Duration) error { return nil }

func (Noop) Invalidate(ctx context.Context, key string) error { return nil }
