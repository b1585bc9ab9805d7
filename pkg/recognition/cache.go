package recognition

import "sync"

// DefaultCacheSize bounds the number of cached descriptors.
const DefaultCacheSize = 4096

type cacheKey struct {
	digest  string
	backend Backend
}

// DescriptorCache memoizes descriptors by image digest and detector backend.
// Entries are evicted oldest first.
type DescriptorCache struct {
	mu      sync.Mutex
	max     int
	entries map[cacheKey]Descriptor
	order   []cacheKey
	hits    uint64
	misses  uint64
}

// NewDescriptorCache creates a cache holding at most size entries.
func NewDescriptorCache(size int) *DescriptorCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &DescriptorCache{
		max:     size,
		entries: make(map[cacheKey]Descriptor),
	}
}

func (c *DescriptorCache) get(key cacheKey) (Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return d, ok
}

func (c *DescriptorCache) put(key cacheKey, d Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		c.entries[key] = d
		return
	}
	for len(c.order) >= c.max {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
	c.entries[key] = d
	c.order = append(c.order, key)
}

// Len returns the number of cached descriptors.
func (c *DescriptorCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns hit and miss counters.
func (c *DescriptorCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Clear drops all entries.
func (c *DescriptorCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[cacheKey]Descriptor)
	c.order = nil
}
