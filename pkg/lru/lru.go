// Package lru provides a generic thread-safe LRU cache with a bounded
// capacity and an optional eviction callback.
package lru

import (
	"container/list"
	"sync"
)

// Cache is a thread-safe LRU cache. When the cache exceeds its capacity
// the least recently used entry is evicted and, if set, the eviction
// callback is invoked with the evicted key and value.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[K]*list.Element
	onEvict  func(key K, value V)
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// New creates a new LRU cache with the given capacity. A capacity of zero
// or less means unbounded. onEvict may be nil.
func New[K comparable, V any](capacity int, onEvict func(key K, value V)) *Cache[K, V] {
	return &Cache[K, V]{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[K]*list.Element),
		onEvict:  onEvict,
	}
}

// Get retrieves a value by key and marks it as recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry[K, V]).value, true
}

// Set stores a value by key, evicting the least recently used entry if
// the cache is over capacity.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry[K, V]).value = value
		c.ll.MoveToFront(el)
		c.mu.Unlock()
		return
	}

	c.items[key] = c.ll.PushFront(&entry[K, V]{key: key, value: value})

	var evicted *entry[K, V]
	if c.capacity > 0 && c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			evicted = oldest.Value.(*entry[K, V])
			delete(c.items, evicted.key)
		}
	}
	c.mu.Unlock()

	// Callback runs outside the lock so it may re-enter the cache.
	if evicted != nil && c.onEvict != nil {
		c.onEvict(evicted.key, evicted.value)
	}
}

// Delete removes a key from the cache without invoking the eviction
// callback. It reports whether the key was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.ll.Remove(el)
	delete(c.items, key)
	return true
}

// Len returns the number of entries in the cache.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Keys returns all keys ordered from most to least recently used.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[K, V]).key)
	}
	return keys
}

// Clear removes all entries without invoking the eviction callback.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[K]*list.Element)
}
