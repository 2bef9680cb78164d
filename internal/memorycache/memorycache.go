// Package memorycache implements an LRU image cache bounded by both cost
// and count, with TTL, memory-pressure purge, and background-transition
// shrink.
//
// It is built on hashicorp/golang-lru/v2's expirable.LRU — the teacher's
// own (previously indirect, here promoted to direct) dependency — for the
// count bound, recency ordering, and TTL, and adds cost-based eviction on
// top since expirable.LRU only bounds by entry count.
package memorycache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// unboundedCount is used as the expirable.LRU size when the cache has no
// configured count limit; cost accounting still bounds total memory.
const unboundedCount = 1 << 20

type entry[V any] struct {
	value V
	cost  int64
}

// Cache is a cost- and count-bounded, TTL-aware, thread-safe LRU.
type Cache[V any] struct {
	mu        sync.Mutex
	lru       *expirable.LRU[string, entry[V]]
	costFn    func(V) int64
	costLimit int64
	totalCost atomic.Int64
}

// New builds a Cache. costLimit bounds total bytes (computed by the
// caller from whatever memory budget it wants to give the cache, and
// passed in here); countLimit<=0 means unbounded count. ttl<=0 disables
// expiry. costFn computes an entry's cost (e.g. bitmap byte footprint).
func New[V any](costLimit int64, countLimit int, ttl time.Duration, costFn func(V) int64) *Cache[V] {
	size := countLimit
	if size <= 0 {
		size = unboundedCount
	}

	c := &Cache[V]{costFn: costFn, costLimit: costLimit}
	c.lru = expirable.NewLRU[string, entry[V]](size, c.onEvict, ttl)
	return c
}

func (c *Cache[V]) onEvict(_ string, e entry[V]) {
	// expirable.LRU's own TTL-driven cleanup evicts entries on its own
	// goroutine without c.mu held, racing this against Add/OnBackground's
	// totalCost updates; totalCost is therefore atomic rather than
	// mu-guarded so every eviction path (Add, RemoveOldest, Purge, and
	// this background one) can adjust it safely.
	c.totalCost.Add(-e.cost)
}

// Get returns the cached value for key, if present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Contains reports presence without affecting recency order.
func (c *Cache[V]) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(key)
}

// Add inserts or replaces key, then evicts by recency until total cost is
// back within costLimit (count and TTL bounds are enforced by the
// underlying expirable.LRU on every Add).
func (c *Cache[V]) Add(key string, value V) {
	cost := int64(0)
	if c.costFn != nil {
		cost = c.costFn(value)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.lru.Peek(key); ok {
		c.totalCost.Add(-old.cost)
	}
	c.lru.Add(key, entry[V]{value: value, cost: cost})
	c.totalCost.Add(cost)

	c.evictOverCostLocked()
}

func (c *Cache[V]) evictOverCostLocked() {
	if c.costLimit <= 0 {
		return
	}
	for c.totalCost.Load() > c.costLimit {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			return
		}
	}
}

// Remove deletes key if present.
func (c *Cache[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Cost returns the current total cost of all live entries.
func (c *Cache[V]) Cost() int64 {
	return c.totalCost.Load()
}

// OnMemoryPressure drops all entries, for a caller reacting to a
// low-memory signal from its host process/OS.
func (c *Cache[V]) OnMemoryPressure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.totalCost.Store(0)
}

// OnBackground shrinks the cache to 20% of its cost limit, for a caller
// reacting to its host application backgrounding.
func (c *Cache[V]) OnBackground() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.costLimit <= 0 {
		return
	}
	target := c.costLimit / 5
	for c.totalCost.Load() > target {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			return
		}
	}
}
