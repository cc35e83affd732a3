package container

import (
	"reflect"
	"sync"
)

type typePair struct {
	from, to reflect.Type
}

// TypeCache memoizes assignability checks between bean types.
type TypeCache struct {
	mu    sync.RWMutex
	cache map[typePair]bool
}

// NewTypeCache creates an empty cache.
func NewTypeCache() *TypeCache {
	return &TypeCache{cache: make(map[typePair]bool)}
}

// Assignable reports whether a value of type from can be used as a to.
func (c *TypeCache) Assignable(from, to reflect.Type) bool {
	if from == nil || to == nil {
		return false
	}
	key := typePair{from: from, to: to}

	c.mu.RLock()
	v, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return v
	}

	v = from.AssignableTo(to)
	c.mu.Lock()
	c.cache[key] = v
	c.mu.Unlock()
	return v
}

// Len returns the number of cached entries.
func (c *TypeCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Clear empties the cache.
func (c *TypeCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.cache)
}
