package cache

import (
	"sync"
	"time"
)

// Expiring is a generic key-value store where every entry carries its
// own absolute expiry. Expiry is lazy-checked on access; Sweep bounds
// memory growth from entries that are set but never read again.
type Expiring[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
}

type entry[V any] struct {
	value    V
	expireAt time.Time
}

// NewExpiring creates an empty store.
func NewExpiring[V any]() *Expiring[V] {
	return &Expiring[V]{entries: make(map[string]entry[V])}
}

// Set stores value under key with the given TTL, overwriting any prior
// entry. A non-positive TTL stores an already-expired entry.
func (c *Expiring[V]) Set(key string, value V, ttl time.Duration) {
	c.SetAt(key, value, ttl, time.Now())
}

// SetAt is Set with an explicit clock (for testing).
func (c *Expiring[V]) SetAt(key string, value V, ttl time.Duration, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expireAt: now.Add(ttl)}
}

// Get returns the value if the entry exists and has not expired. A
// read at or after the expiry instant is a miss and evicts the entry.
func (c *Expiring[V]) Get(key string) (V, bool) {
	return c.GetAt(key, time.Now())
}

// GetAt is Get with an explicit clock (for testing).
func (c *Expiring[V]) GetAt(key string, now time.Time) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !now.Before(e.expireAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes key unconditionally.
func (c *Expiring[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries.
func (c *Expiring[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

// Len returns the number of stored entries, expired ones included.
func (c *Expiring[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep evicts every entry whose expiry is at or before now and
// returns the number removed.
func (c *Expiring[V]) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expireAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
