package cache

import (
	"context"
	"sync"
	"time"
)

// Cache is the auxiliary key/value collaborator used for fast recent
// reads. Entries expire after their TTL; zero TTL means no expiry.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Expire(key string, ttl time.Duration) bool
	Delete(key string)
}

type item struct {
	value     any
	expiresAt time.Time
}

func (it item) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && now.After(it.expiresAt)
}

// Memory is an in-process Cache with lazy expiry plus an optional
// background sweeper.
type Memory struct {
	mu    sync.RWMutex
	items map[string]item
}

// NewMemory creates an empty cache.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]item)}
}

// Run sweeps expired entries until ctx is done.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *Memory) Get(key string) (any, bool) {
	m.mu.RLock()
	it, ok := m.items[key]
	m.mu.RUnlock()
	if !ok || it.expired(time.Now()) {
		return nil, false
	}
	return it.value, true
}

func (m *Memory) Set(key string, value any, ttl time.Duration) {
	it := item{value: value}
	if ttl > 0 {
		it.expiresAt = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.items[key] = it
	m.mu.Unlock()
}

// Expire resets the TTL of an existing entry. Returns false when the
// key is absent or already expired.
func (m *Memory) Expire(key string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok || it.expired(time.Now()) {
		return false
	}
	if ttl > 0 {
		it.expiresAt = time.Now().Add(ttl)
	} else {
		it.expiresAt = time.Time{}
	}
	m.items[key] = it
	return true
}

func (m *Memory) Delete(key string) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

func (m *Memory) sweep() {
	now := time.Now()
	m.mu.Lock()
	for key, it := range m.items {
		if it.expired(now) {
			delete(m.items, key)
		}
	}
	m.mu.Unlock()
}
