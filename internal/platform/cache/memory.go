package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Memory is an in-process TTL cache with lazy expiry. Entries are evicted
// only when read past their deadline; there is no background sweeper, so a
// stale entry that is never queried stays in memory until process exit.
type Memory[V any] struct {
	mu    sync.RWMutex
	store map[string]entry[V]
	now   func() time.Time
}

// NewMemory constructs an empty cache. One instance is expected per cached
// resource type, created at startup and injected into its consumers.
func NewMemory[V any]() *Memory[V] {
	return &Memory[V]{
		store: make(map[string]entry[V]),
		now:   time.Now,
	}
}

// Set stores value under key with an absolute expiry of now + ttl,
// overwriting any existing entry.
func (m *Memory[V]) Set(key string, value V, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[key] = entry[V]{value: value, expiresAt: m.now().Add(ttl)}
}

// Get returns the value for key when present and not expired. An expired
// entry is removed on the spot and reported as a miss.
func (m *Memory[V]) Get(key string) (V, bool) {
	m.mu.RLock()
	e, ok := m.store[key]
	m.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if m.now().After(e.expiresAt) {
		m.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have
		// refreshed the entry since the read above.
		if cur, still := m.store[key]; still && m.now().After(cur.expiresAt) {
			delete(m.store, key)
		}
		m.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

// Delete removes key regardless of expiry. It is the explicit invalidation
// point for callers that mutate the backing data.
func (m *Memory[V]) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
}

// Len reports the number of stored entries, expired ones included.
func (m *Memory[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.store)
}
