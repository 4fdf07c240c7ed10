package macro

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefinitionCache caches macros parsed from files, keyed by path, with LRU
// eviction and TTL. Definitions are immutable so cached macros can be
// shared by concurrent renders.
type DefinitionCache struct {
	entries    map[string]*cacheEntry
	mutex      sync.Mutex
	maxEntries int
	ttl        time.Duration
	// LRU list with sentinel head and tail
	head *cacheEntry
	tail *cacheEntry
	// Statistics tracking (atomic for thread safety)
	hits          int64
	misses        int64
	sets          int64
	evictions     int64
	invalidations int64
}

type cacheEntry struct {
	path       string
	macros     []*Macro
	modTime    time.Time
	createdAt  time.Time
	accessedAt time.Time
	prev       *cacheEntry
	next       *cacheEntry
}

// DefinitionCacheStats is a snapshot of cache counters.
type DefinitionCacheStats struct {
	Entries       int
	Hits          int64
	Misses        int64
	Sets          int64
	Evictions     int64
	Invalidations int64
}

// NewDefinitionCache creates a cache holding at most maxEntries files.
// A ttl of zero disables expiry.
func NewDefinitionCache(maxEntries int, ttl time.Duration) *DefinitionCache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	c := &DefinitionCache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		head:       &cacheEntry{},
		tail:       &cacheEntry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head

	return c
}

// Get returns the macros cached for path. An entry recorded for a different
// modification time or older than the TTL is a miss and is dropped.
func (c *DefinitionCache) Get(path string, modTime time.Time) ([]*Macro, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, ok := c.entries[path]
	if !ok {
		atomic.AddInt64(&c.misses, 1)

		return nil, false
	}
	if !entry.modTime.Equal(modTime) || c.expired(entry) {
		c.remove(entry)
		atomic.AddInt64(&c.misses, 1)

		return nil, false
	}

	c.moveToFront(entry)
	entry.accessedAt = time.Now()
	atomic.AddInt64(&c.hits, 1)

	return entry.macros, true
}

// Set stores the macros parsed from path.
func (c *DefinitionCache) Set(path string, modTime time.Time, macros []*Macro) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	if entry, ok := c.entries[path]; ok {
		entry.macros = macros
		entry.modTime = modTime
		entry.createdAt = now
		entry.accessedAt = now
		c.moveToFront(entry)
		atomic.AddInt64(&c.sets, 1)

		return
	}

	for len(c.entries) >= c.maxEntries && c.tail.prev != c.head {
		c.remove(c.tail.prev)
		atomic.AddInt64(&c.evictions, 1)
	}

	entry := &cacheEntry{
		path:       path,
		macros:     macros,
		modTime:    modTime,
		createdAt:  now,
		accessedAt: now,
	}
	c.entries[path] = entry
	c.addToFront(entry)
	atomic.AddInt64(&c.sets, 1)
}

// Invalidate drops the entry for path and reports whether there was one.
func (c *DefinitionCache) Invalidate(path string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, ok := c.entries[path]
	if !ok {
		return false
	}
	c.remove(entry)
	atomic.AddInt64(&c.invalidations, 1)

	return true
}

// Clear drops every entry and resets the statistics.
func (c *DefinitionCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.head.next = c.tail
	c.tail.prev = c.head

	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
	atomic.StoreInt64(&c.sets, 0)
	atomic.StoreInt64(&c.evictions, 0)
	atomic.StoreInt64(&c.invalidations, 0)
}

// Len returns the number of cached files.
func (c *DefinitionCache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *DefinitionCache) Stats() DefinitionCacheStats {
	return DefinitionCacheStats{
		Entries:       c.Len(),
		Hits:          atomic.LoadInt64(&c.hits),
		Misses:        atomic.LoadInt64(&c.misses),
		Sets:          atomic.LoadInt64(&c.sets),
		Evictions:     atomic.LoadInt64(&c.evictions),
		Invalidations: atomic.LoadInt64(&c.invalidations),
	}
}

func (c *DefinitionCache) expired(entry *cacheEntry) bool {
	return c.ttl > 0 && time.Since(entry.createdAt) > c.ttl
}

func (c *DefinitionCache) remove(entry *cacheEntry) {
	c.removeFromList(entry)
	delete(c.entries, entry.path)
}

// LRU doubly-linked list operations
func (c *DefinitionCache) addToFront(entry *cacheEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *DefinitionCache) removeFromList(entry *cacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
}

func (c *DefinitionCache) moveToFront(entry *cacheEntry) {
	c.removeFromList(entry)
	c.addToFront(entry)
}
