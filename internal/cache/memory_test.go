package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "news:budget", []byte(`{"articles":[]}`), time.Minute); err != nil {
		t.Fatal(err)
	}

	got, ok, err := c.Get(ctx, "news:budget")
	if err != nil || !ok || string(got) != `{"articles":[]}` {
		t.Fatalf("Get = %q, %v, %v", got, ok, err)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "news:budget"); ok {
		t.Error("entry should have expired")
	}
}

func TestMemoryCacheDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	_ = c.Set(ctx, "k", []byte("v"), 0)
	_ = c.Delete(ctx, "k")
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("deleted key still present")
	}
}

var _ Cache = (*MemoryCache)(nil)
var _ Cache = (*RedisClient)(nil)
