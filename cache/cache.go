// Package cache provides a generic, thread-safe LRU cache that collapses
// concurrent computations of the same key. Generators use it to share
// completed snapshots keyed by canonical URL.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 1024

// Cache is a generic thread-safe LRU cache with built-in metrics.
type Cache[K comparable, V any] struct {
	mu       sync.RWMutex
	items    map[K]*list.Element
	order    *list.List
	capacity int

	// version is the source version the items were computed from.
	version uint64

	group singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
	evicts atomic.Uint64
	sets   atomic.Uint64
	shared atomic.Uint64
	purges atomic.Uint64
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// New creates a new Cache with the specified capacity.
func New[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache[K, V]{
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
		capacity: capacity,
	}
}

// Get retrieves a value and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	c.order.MoveToFront(el)
	return el.Value.(*entry[K, V]).value, true
}

// Set adds or updates a value, evicting the least recently used item when
// the cache is full.
func (c *Cache[K, V]) Set(key K, value V) {
	c.sets.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value)
}

func (c *Cache[K, V]) setLocked(key K, value V) {
	if el, ok := c.items[key]; ok {
		el.Value.(*entry[K, V]).value = value
		c.order.MoveToFront(el)
		return
	}

	if len(c.items) >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			delete(c.items, oldest.Value.(*entry[K, V]).key)
			c.order.Remove(oldest)
			c.evicts.Add(1)
		}
	}
	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value})
}

// Do returns the cached value for key or runs fn to compute it. Concurrent
// callers asking for the same missing key share a single fn invocation.
// Values are only stored when fn succeeds; errors are never cached.
//
// fn must not call Do with the same key.
func (c *Cache[K, V]) Do(key K, fn func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	res, err, shared := c.group.Do(fmt.Sprint(key), func() (any, error) {
		// Another caller may have finished between Get and Do.
		c.mu.RLock()
		el, ok := c.items[key]
		version := c.version
		c.mu.RUnlock()
		if ok {
			return el.Value.(*entry[K, V]).value, nil
		}

		v, err := fn()
		if err != nil {
			return nil, err
		}
		c.sets.Add(1)
		c.mu.Lock()
		if c.version == version {
			c.setLocked(key, v)
		}
		c.mu.Unlock()
		return v, nil
	})
	if shared {
		c.shared.Add(1)
	}
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Delete removes an item from the cache.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		delete(c.items, key)
		c.order.Remove(el)
	}
}

// Len returns the current number of items in the cache.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear removes all items from the cache.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *Cache[K, V]) clearLocked() {
	c.items = make(map[K]*list.Element, c.capacity)
	c.order.Init()
	c.purges.Add(1)
}

// Expire clears the cache when its items were computed from a source
// version other than version, and records version as current. It reports
// whether the cache was cleared. Values computed by Do calls that started
// before an Expire are returned but not stored.
func (c *Cache[K, V]) Expire(version uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.version == version {
		return false
	}
	c.clearLocked()
	c.version = version
	return true
}

// Version returns the source version recorded by the last Expire.
func (c *Cache[K, V]) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Keys returns all keys, most recently used first.
func (c *Cache[K, V]) Keys() []K {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]K, 0, len(c.items))
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[K, V]).key)
	}
	return keys
}

// Stats holds cache statistics.
type Stats struct {
	Size     int
	Capacity int
	Hits     uint64
	Misses   uint64
	Evicts   uint64
	Sets     uint64
	Shared   uint64
	Purges   uint64
	HitRate  float64
}

// Stats returns cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.RLock()
	size := len(c.items)
	c.mu.RUnlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Size:     size,
		Capacity: c.capacity,
		Hits:     hits,
		Misses:   misses,
		Evicts:   c.evicts.Load(),
		Sets:     c.sets.Load(),
		Shared:   c.shared.Load(),
		Purges:   c.purges.Load(),
		HitRate:  hitRate,
	}
}
