// Package cache holds rendered outbound feeds for a short time.
package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a rendered feed may be served before re-rendering.
const DefaultTTL = 5 * time.Minute

// FeedCache stores rendered feeds keyed by property ID.
type FeedCache interface {
	Get(ctx context.Context, propertyID string) ([]byte, bool)
	Set(ctx context.Context, propertyID string, feed []byte)
	Invalidate(ctx context.Context, propertyID string)
}

type entry struct {
	feed    []byte
	expires time.Time
}

// Memory is an in-process FeedCache.
type Memory struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

// NewMemory creates an in-process cache. A non-positive ttl uses DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns a cached feed that has not expired.
func (m *Memory) Get(_ context.Context, propertyID string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[propertyID]
	m.mu.RUnlock()

	if !ok || !m.now().Before(e.expires) {
		return nil, false
	}
	return e.feed, true
}

// Set stores a feed for the configured TTL.
func (m *Memory) Set(_ context.Context, propertyID string, feed []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[propertyID] = entry{feed: feed, expires: m.now().Add(m.ttl)}

	// Opportunistic sweep so abandoned properties do not accumulate.
	for id, e := range m.entries {
		if !m.now().Before(e.expires) {
			delete(m.entries, id)
		}
	}
}

// Invalidate drops the cached feed of a property.
func (m *Memory) Invalidate(_ context.Context, propertyID string) {
	m.mu.Lock()
	delete(m.entries, propertyID)
	m.mu.Unlock()
}
