package bpe

import (
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Cache memoizes merge results by chunk text. Entries are never
// invalidated since ranks never change. A Cache is safe for concurrent use
// and may be shared by Encoders built from the same Ranks.
type Cache struct {
	mu      sync.RWMutex
	entries map[string][]string

	// bounded is set when the cache has a size limit
	bounded *lru.Cache[string, []string]

	group singleflight.Group

	hits, misses atomic.Uint64
}

type CacheStats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}

// NewCache returns an unbounded cache when size <= 0, otherwise a cache that
// evicts the least recently used chunk beyond size entries.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		return &Cache{entries: make(map[string][]string)}, nil
	}

	bounded, err := lru.New[string, []string](size)
	if err != nil {
		return nil, fmt.Errorf("create merge cache: %w", err)
	}

	return &Cache{bounded: bounded}, nil
}

func (c *Cache) get(key string) ([]string, bool) {
	if c.bounded != nil {
		return c.bounded.Get(key)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *Cache) add(key string, v []string) {
	if c.bounded != nil {
		c.bounded.Add(key, v)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		c.entries[key] = v
	}
}

// GetOrCompute returns the cached symbols for chunk, computing and storing
// them with fn on a miss. Concurrent misses on one chunk share a single call.
// The returned slice must not be modified.
func (c *Cache) GetOrCompute(chunk string, fn func(string) []string) []string {
	if v, ok := c.get(chunk); ok {
		c.hits.Add(1)
		return v
	}

	// only the caller that runs fn counts a miss; callers that wait on it
	// or find the entry on the second lookup count a hit
	var computed bool
	v, _, _ := c.group.Do(chunk, func() (any, error) {
		if v, ok := c.get(chunk); ok {
			return v, nil
		}

		computed = true
		c.misses.Add(1)
		v := fn(chunk)
		c.add(chunk, v)
		return v, nil
	})

	if !computed {
		c.hits.Add(1)
	}

	return v.([]string)
}

func (c *Cache) Len() int {
	if c.bounded != nil {
		return c.bounded.Len()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.Len(),
	}
}
