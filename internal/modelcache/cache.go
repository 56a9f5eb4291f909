// Package modelcache keeps recently used serialized classifier models
// in memory so the hot prediction path can skip the durable store. The
// cache holds no authority: every entry can be rebuilt from the store.
package modelcache

import (
	"sync"
	"time"
)

// Defaults match a deployment that keeps a handful of category models
// warm per worker process.
const (
	DefaultMaxEntries = 5
	DefaultMaxSize    = 6
	DefaultTTL        = time.Hour

	// entryWeight is the unit size charged per entry against MaxSize.
	entryWeight = 1
)

// Cache is a bounded, age-expiring cache of serialized models keyed by
// category description. Entries past their TTL are treated as misses on
// the next Get; there is no background sweep.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	maxEntries int
	maxSize    int
	ttl        time.Duration
	size       int

	hits   int64
	misses int64
}

type entry struct {
	model      string
	insertedAt time.Time
	lastUsed   time.Time
	weight     int
}

// New creates a cache with the given bounds. Zero or negative values
// fall back to the defaults.
func New(maxEntries, maxSize int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
		maxSize:    maxSize,
		ttl:        ttl,
	}
}

// Get returns the cached model for a description. An entry older than
// the TTL counts as a miss and is dropped in place.
func (c *Cache) Get(description string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[description]
	if !exists {
		c.misses++
		return "", false
	}
	if time.Since(e.insertedAt) > c.ttl {
		c.size -= e.weight
		delete(c.entries, description)
		c.misses++
		return "", false
	}

	e.lastUsed = time.Now()
	c.hits++
	return e.model, true
}

// Put stores a model under a description, evicting least-recently-used
// entries until both the entry-count and size bounds hold.
func (c *Cache) Put(description, model string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if existing, exists := c.entries[description]; exists {
		existing.model = model
		existing.insertedAt = now
		existing.lastUsed = now
		return
	}

	c.entries[description] = &entry{
		model:      model,
		insertedAt: now,
		lastUsed:   now,
		weight:     entryWeight,
	}
	c.size += entryWeight

	c.evictIfNeeded()
}

// Delete removes a description from the cache.
func (c *Cache) Delete(description string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, exists := c.entries[description]; exists {
		c.size -= e.weight
		delete(c.entries, description)
	}
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.size = 0
}

// Len returns the number of resident entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictIfNeeded drops least-recently-used entries while either bound is
// exceeded. Caller must hold the write lock.
func (c *Cache) evictIfNeeded() {
	for len(c.entries) > c.maxEntries || c.size > c.maxSize {
		oldestKey := ""
		var oldestUsed time.Time
		for key, e := range c.entries {
			if oldestKey == "" || e.lastUsed.Before(oldestUsed) {
				oldestKey = key
				oldestUsed = e.lastUsed
			}
		}
		if oldestKey == "" {
			return
		}
		c.size -= c.entries[oldestKey].weight
		delete(c.entries, oldestKey)
	}
}

// Stats returns cache statistics for monitoring.
func (c *Cache) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"entries":     len(c.entries),
		"max_entries": c.maxEntries,
		"size":        c.size,
		"max_size":    c.maxSize,
		"ttl_seconds": int(c.ttl.Seconds()),
		"hits":        c.hits,
		"misses":      c.misses,
	}
}
