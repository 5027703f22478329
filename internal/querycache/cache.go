// Package querycache is the shared in-memory cache of fetched API data.
// Screens read from it; the session machine clears it wholesale on logout so
// no user data outlives the session that fetched it.
package querycache

import "sync"

// Cache is a thread-safe key-value cache.
type Cache struct {
	mu   sync.RWMutex
	data map[string]any
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{data: make(map[string]any)}
}

// Set stores a value under key, replacing any previous value.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

// Get returns the cached value for key.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

// Delete removes a single entry.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]any)
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
