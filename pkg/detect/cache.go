package detect

import "sync"

// defaultCacheEntries bounds how many page fingerprints a Detector remembers
const defaultCacheEntries = 256

// resultCache remembers detections for recently seen pages, keyed by content hash.
// When full, the oldest entry is dropped.
type resultCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]Result
	order    []string
}

func newResultCache(capacity int) *resultCache {
	if capacity <= 0 {
		capacity = defaultCacheEntries
	}
	return &resultCache{capacity: capacity, entries: make(map[string]Result, capacity)}
}

func (c *resultCache) get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[key]
	return r, ok
}

func (c *resultCache) set(key string, r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		if len(c.order) >= c.capacity {
			delete(c.entries, c.order[0])
			c.order = c.order[1:]
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = r
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
