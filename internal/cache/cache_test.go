package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryExpiresAndInvalidates(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	c := NewMemory(time.Minute)
	c.now = func() time.Time { return now }

	c.Set(ctx, "p1", []byte("feed"))
	if got, ok := c.Get(ctx, "p1"); !ok || string(got) != "feed" {
		t.Fatalf("expected hit, got %q %v", got, ok)
	}

	now = now.Add(time.Minute)
	if _, ok := c.Get(ctx, "p1"); ok {
		t.Error("expected entry to expire after ttl")
	}

	c.Set(ctx, "p1", []byte("fresh"))
	c.Invalidate(ctx, "p1")
	if _, ok := c.Get(ctx, "p1"); ok {
		t.Error("expected miss after invalidate")
	}
}

func TestMemoryDefaultTTL(t *testing.T) {
	if c := NewMemory(0); c.ttl != DefaultTTL {
		t.Errorf("ttl = %s, want %s", c.ttl, DefaultTTL)
	}
}
