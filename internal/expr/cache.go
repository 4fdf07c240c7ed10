package expr

import (
	"sync/atomic"

	"github.com/alphadose/haxmap"
)

// cacheEntry stores the outcome of one compilation, errors included, so a
// malformed source yields the same error value everywhere it is used.
type cacheEntry struct {
	compiled *Compiled
	err      error
}

// Cache memoizes compiled expressions by exact source text. It is safe for
// concurrent use; racing compilations of one source settle on the first
// stored entry.
type Cache struct {
	entries   *haxmap.Map[string, *cacheEntry]
	constants map[string]any
	hits      int64
	misses    int64
}

// CacheStats reports cache usage.
type CacheStats struct {
	Entries int
	Hits    int64
	Misses  int64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithConstants registers named constants usable as expression segments.
func WithConstants(constants map[string]any) CacheOption {
	return func(c *Cache) {
		c.constants = make(map[string]any, len(constants))
		for k, v := range constants {
			c.constants[k] = v
		}
	}
}

// NewCache creates an empty expression cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{entries: haxmap.New[string, *cacheEntry]()}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Compile returns the compiled form of src, compiling it on first use.
func (c *Cache) Compile(src string) (*Compiled, error) {
	if e, ok := c.entries.Get(src); ok {
		atomic.AddInt64(&c.hits, 1)

		return e.compiled, e.err
	}
	atomic.AddInt64(&c.misses, 1)

	compiled, err := compile(src, c.constants)
	e, _ := c.entries.GetOrSet(src, &cacheEntry{compiled: compiled, err: err})

	return e.compiled, e.err
}

// Len returns the number of cached sources.
func (c *Cache) Len() int {
	return int(c.entries.Len())
}

// Stats returns a snapshot of cache usage.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Entries: c.Len(),
		Hits:    atomic.LoadInt64(&c.hits),
		Misses:  atomic.LoadInt64(&c.misses),
	}
}
