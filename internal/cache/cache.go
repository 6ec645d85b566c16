package cache

import (
	"sync"
	"sync/atomic"
)

// Cache maps a 64-bit identifier to a value and evicts in insertion order.
// Re-inserting a present key replaces the value but keeps its queue
// position, so eviction order is least-recently-inserted, not
// least-recently-used.
//
// Remove scans the queue and is O(n) in the number of cached entries.
// Callers that remove often should keep the cache small.
type Cache[V any] struct {
	mu       sync.Mutex
	entries  map[uint64]V
	queue    []uint64 // oldest first
	capacity int

	// Stats
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

const (
	MinCacheSize = 16 // Minimum: hold a root-to-leaf path plus siblings
)

// New creates a cache holding at most capacity entries
func New[V any](capacity int) *Cache[V] {
	capacity = max(capacity, MinCacheSize)
	return &Cache[V]{
		entries:  make(map[uint64]V, capacity),
		queue:    make([]uint64, 0, capacity),
		capacity: capacity,
	}
}

// Insert stores value under key, returning the previous value if any. A new
// key that pushes the cache over capacity evicts the oldest entry.
func (c *Cache[V]) Insert(key uint64, value V) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, exists := c.entries[key]
	c.entries[key] = value
	if exists {
		return old, true
	}
	c.queue = append(c.queue, key)
	if len(c.entries) > c.capacity {
		c.popLocked()
	}
	return old, false
}

func (c *Cache[V]) Get(key uint64) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Remove deletes key and returns its value
func (c *Cache[V]) Remove(key uint64) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return v, false
	}
	delete(c.entries, key)
	for i, k := range c.queue {
		if k == key {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			break
		}
	}
	return v, true
}

// PopLowestPriority removes and returns the oldest inserted entry
func (c *Cache[V]) PopLowestPriority() (uint64, V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.popLocked()
}

func (c *Cache[V]) popLocked() (uint64, V, bool) {
	var zero V
	if len(c.queue) == 0 {
		return 0, zero, false
	}
	key := c.queue[0]
	c.queue = c.queue[1:]
	v := c.entries[key]
	delete(c.entries, key)
	c.evictions.Add(1)
	return key, v, true
}

// Len returns the number of cached entries
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache statistics
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      len(c.entries),
	}
}

type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
}
