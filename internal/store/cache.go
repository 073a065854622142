// Package store holds the engine's external collaborators: the TTL cache the
// components write their projections through, and the host store owning the
// canonical host records.
package store

import (
	"sync"
	"time"
)

// Cache is an opaque key-value store with per-entry TTL. Misses mean
// "unknown, go fetch"; write failures are treated as non-fatal by callers.
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, ttl time.Duration) error
	Delete(key string)
}

// cacheEntry is one stored value with its expiry.
type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// MemoryCache is an in-process Cache with lazy expiry and a periodic sweep.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	done    chan struct{}
	once    sync.Once
}

// NewMemoryCache creates a cache whose sweeper runs at the given interval.
// A zero interval disables the sweeper; entries still expire lazily on Get.
func NewMemoryCache(sweepInterval time.Duration) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]cacheEntry),
		done:    make(chan struct{}),
	}
	if sweepInterval > 0 {
		go c.sweep(sweepInterval)
	}
	return c
}

// Get returns the value for key if present and unexpired.
func (c *MemoryCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.value, true
}

// Set stores value under key. A zero ttl means the entry never expires.
func (c *MemoryCache) Set(key string, value interface{}, ttl time.Duration) error {
	entry := cacheEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

// Delete removes key if present.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the sweeper.
func (c *MemoryCache) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *MemoryCache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, entry := range c.entries {
				if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
