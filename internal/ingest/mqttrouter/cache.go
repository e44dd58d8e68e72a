package mqttrouter

import (
	"sync"
	"time"
)

// nameCache is a small bounded TTL cache mapping a resolved friendly name to
// a sensor id, mirroring the router's friendly-name resolution cache
// (300s TTL, 256 entries). Eviction is lazy: an expired entry is reclaimed
// when Get finds it, and a full cache drops the entry closest to expiry on
// the next Set; there is no background sweep, since the router's call
// volume makes a sweep goroutine unnecessary overhead.
type nameCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[string]cacheEntry
}

type cacheEntry struct {
	sensorID int
	expires  time.Time
}

func newNameCache(ttl time.Duration, maxSize int) *nameCache {
	return &nameCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]cacheEntry),
	}
}

func (c *nameCache) Get(name string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[name]
	if !ok {
		return 0, false
	}
	if time.Now().After(e.expires) {
		delete(c.entries, name)
		return 0, false
	}
	return e.sensorID, true
}

func (c *nameCache) Set(name string, sensorID int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[name] = cacheEntry{sensorID: sensorID, expires: time.Now().Add(c.ttl)}
}

func (c *nameCache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, name)
}

func (c *nameCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// evictOldestLocked drops one entry when the cache is full. Called with the
// lock held. A linear scan is fine at maxSize <= 256.
func (c *nameCache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for k, e := range c.entries {
		if first || e.expires.Before(oldestAt) {
			oldestKey, oldestAt = k, e.expires
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}
