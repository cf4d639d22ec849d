// Package lru provides a bounded key/value cache with least-recently-used
// eviction and read-time removal of stale entries.
package lru

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Staler is implemented by values that can be soft-invalidated. A stale
// value is dropped on Get instead of being returned.
type Staler interface {
	Stale() bool
}

// Cache is a bounded cache keyed by K. Both Get and Set refresh recency.
type Cache[K comparable, V any] struct {
	inner *lru.Cache[K, V]
}

// New creates a cache holding at most capacity entries.
func New[K comparable, V any](capacity int) (*Cache[K, V], error) {
	return NewWithEvict[K, V](capacity, nil)
}

// NewWithEvict creates a cache that calls onEvict for every entry pushed
// out by capacity or removed explicitly.
func NewWithEvict[K comparable, V any](capacity int, onEvict func(K, V)) (*Cache[K, V], error) {
	inner, err := lru.NewWithEvict[K, V](capacity, onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}
	return &Cache[K, V]{inner: inner}, nil
}

// Get returns the value for key. A value reporting Stale() is removed and
// reported as a miss.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, ok := c.inner.Get(key)
	if !ok {
		return v, false
	}
	if s, isStaler := any(v).(Staler); isStaler && s.Stale() {
		c.inner.Remove(key)
		var zero V
		return zero, false
	}
	return v, true
}

// Peek returns the value for key without refreshing it and without
// dropping stale values.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	return c.inner.Peek(key)
}

// Set stores value under key, evicting the least recently touched entry
// when the cache is full, and returns value.
func (c *Cache[K, V]) Set(key K, value V) V {
	c.inner.Add(key, value)
	return value
}

// Remove deletes key, reporting whether it was present.
func (c *Cache[K, V]) Remove(key K) bool {
	return c.inner.Remove(key)
}

// Keys returns the keys from oldest to newest.
func (c *Cache[K, V]) Keys() []K {
	return c.inner.Keys()
}

// Values returns the values from oldest to newest.
func (c *Cache[K, V]) Values() []V {
	return c.inner.Values()
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	return c.inner.Len()
}

// Clear removes all entries.
func (c *Cache[K, V]) Clear() {
	c.inner.Purge()
}
