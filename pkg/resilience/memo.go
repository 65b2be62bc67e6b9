package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type memoEntry struct {
	value   interface{}
	expires time.Time
}

// Memoizer caches successful results per key for a fixed TTL. Concurrent
// calls for the same missing key share a single invocation. Errors are
// never cached.
type Memoizer struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]memoEntry
}

// NewMemoizer creates a memoizer. A ttl <= 0 keeps entries until invalidated.
func NewMemoizer(ttl time.Duration) *Memoizer {
	return &Memoizer{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoEntry),
	}
}

// Do returns the cached value for key or calls fn to produce it. A shared
// invocation runs detached from any single caller's cancellation; each caller
// stops waiting when its own ctx is done.
func (m *Memoizer) Do(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	if v, ok := m.lookup(key); ok {
		return v, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (interface{}, error) {
		if v, ok := m.lookup(key); ok {
			return v, nil
		}

		v, err := fn(detached)
		if err != nil {
			return nil, err
		}

		entry := memoEntry{value: v}
		if m.ttl > 0 {
			entry.expires = m.now().Add(m.ttl)
		}
		m.mu.Lock()
		m.entries[key] = entry
		m.mu.Unlock()

		return v, nil
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Memoizer) lookup(key string) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !entry.expires.IsZero() && !m.now().Before(entry.expires) {
		delete(m.entries, key)
		return nil, false
	}
	return entry.value, true
}

// Invalidate drops the cached value for key
func (m *Memoizer) Invalidate(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Clear drops every cached value
func (m *Memoizer) Clear() {
	m.mu.Lock()
	m.entries = make(map[string]memoEntry)
	m.mu.Unlock()
}

// Len returns the number of cached entries, including expired ones not yet evicted
func (m *Memoizer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}
