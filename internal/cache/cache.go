package cache

import (
	"context"
	"time"
)

// Cache stores raw provider responses for a short TTL so retried sync runs
// do not re-bill the provider
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}
