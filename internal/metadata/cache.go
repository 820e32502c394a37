package metadata

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// CacheEntry represents a cached key-value entry
type CacheEntry struct {
	Value     string
	ExpiresAt time.Time
}

// KVCache keeps recently read keys in memory for ttl. Writes through the
// owning manager update it; watch events invalidate it.
type KVCache struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry
	ttl     time.Duration
	stopCh  chan struct{}
	stop    sync.Once

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewKVCache creates a new key-value cache
func NewKVCache(ttl time.Duration) *KVCache {
	cache := &KVCache{
		entries: make(map[string]*CacheEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go cache.cleanup()
	return cache
}

// Get retrieves an unexpired value
func (c *KVCache) Get(key string) (string, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists || time.Now().After(entry.ExpiresAt) {
		c.misses.Add(1)
		return "", false
	}
	c.hits.Add(1)
	return entry.Value, true
}

// Set stores a value
func (c *KVCache) Set(key, value string) {
	c.mu.Lock()
	c.entries[key] = &CacheEntry{Value: value, ExpiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// Delete removes a key
func (c *KVCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// DeletePrefix removes all keys with the given prefix
func (c *KVCache) DeletePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// Clear removes all entries
func (c *KVCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*CacheEntry)
	c.mu.Unlock()
}

func (c *KVCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.entries {
				if now.After(entry.ExpiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine; safe to call twice
func (c *KVCache) Stop() {
	c.stop.Do(func() { close(c.stopCh) })
}

// CacheStats is a snapshot of cache usage
type CacheStats struct {
	Entries int     `json:"entries"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	TTL     float64 `json:"ttl_seconds"`
}

// Stats returns cache statistics
func (c *KVCache) Stats() CacheStats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return CacheStats{
		Entries: n,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		TTL:     c.ttl.Seconds(),
	}
}
