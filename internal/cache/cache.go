// Package cache provides a process-local key/value store with per-entry
// expiry, used to memoize expensive lookups in front of the record store.
package cache

import (
	"fmt"
	"sync"
	"time"
)

// entry is a single cached value with an optional absolute expiry.
type entry struct {
	value  any
	expire time.Time // zero means the entry never expires
	timer  *time.Timer
}

// Cache is a TTL cache safe for concurrent use. Expired entries are
// reclaimed by a per-entry timer, so memory is freed even when a key is
// never read again. The zero value is not usable; call New.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

// Set stores a value under key. A positive ttl schedules eviction after
// that duration; ttl == 0 stores the value without expiry. A negative ttl
// is a caller error. Replacing an existing entry cancels its pending
// eviction timer.
func (c *Cache) Set(key string, value any, ttl time.Duration) error {
	if ttl < 0 {
		return fmt.Errorf("cache: ttl must be positive, got %s", ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok && old.timer != nil {
		old.timer.Stop()
	}

	e := &entry{value: value}
	if ttl > 0 {
		e.expire = time.Now().Add(ttl)
		e.timer = time.AfterFunc(ttl, func() {
			c.evict(key)
		})
	}
	c.entries[key] = e
	return nil
}

// Get returns the value for key and whether it was present. An entry past
// its expiry behaves as absent and is removed as a side effect.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expire.IsZero() && !e.expire.After(time.Now()) {
		// Stale entry the timer has not fired for yet.
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Delete removes key if present and reports whether a live entry was
// removed. Removing an already-expired entry reports false.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	expired := !e.expire.IsZero() && !e.expire.After(time.Now())
	delete(c.entries, key)
	return !expired
}

// Clear evicts everything and cancels all pending eviction timers.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	c.entries = make(map[string]*entry)
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evict is the timer callback. The entry may already have been replaced;
// only the original is removed.
func (c *Cache) evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return
	}
	if !e.expire.IsZero() && !e.expire.After(time.Now()) {
		delete(c.entries, key)
	}
}
