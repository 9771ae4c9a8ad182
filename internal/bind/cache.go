package bind

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/finder/internal/ir"
)

// DefaultCacheSize bounds the metadata cache when no size is configured.
const DefaultCacheSize = 256

// MetadataCache memoizes Metadata per (method identity, query text).
//
// Lookups are safe for concurrent use. Computation runs outside the cache
// lock; when two callers race on the same key, both compute and the first
// value stored wins, so every caller observes the same *Metadata.
type MetadataCache struct {
	entries *lru.Cache[string, *Metadata]
	observe func(hit bool)
}

// CacheOption configures a MetadataCache.
type CacheOption func(*MetadataCache)

// WithObserver reports every lookup as a hit or miss.
func WithObserver(fn func(hit bool)) CacheOption {
	return func(c *MetadataCache) {
		c.observe = fn
	}
}

// NewMetadataCache creates a cache holding at most size entries.
func NewMetadataCache(size int, opts ...CacheOption) (*MetadataCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, *Metadata](size)
	if err != nil {
		return nil, fmt.Errorf("metadata cache: %w", err)
	}
	c := &MetadataCache{entries: entries, observe: func(bool) {}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the cached metadata for the key, computing it on a miss.
func (c *MetadataCache) Get(methodID, text string, compute func() (*Metadata, error)) (*Metadata, error) {
	key := ir.MetadataKey(methodID, text)
	if md, ok := c.entries.Get(key); ok {
		c.observe(true)
		return md, nil
	}
	c.observe(false)

	md, err := compute()
	if err != nil {
		return nil, err
	}
	if prev, ok, _ := c.entries.PeekOrAdd(key, md); ok {
		return prev, nil
	}
	return md, nil
}

// Len returns the number of cached entries.
func (c *MetadataCache) Len() int { return c.entries.Len() }

// Purge drops all entries.
func (c *MetadataCache) Purge() { c.entries.Purge() }
