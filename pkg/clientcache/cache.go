// Package clientcache holds lazily constructed vendor clients keyed by string.
//
// A client is built at most once per key even when many goroutines request it
// concurrently. Entries stay until invalidated, which is the hook used when
// credentials rotate.
package clientcache

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// BuildFunc constructs the value for a key.
type BuildFunc[V any] func(ctx context.Context) (V, error)

// Cache is a keyed, concurrency-safe cache of constructed clients.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]V
	group   singleflight.Group
	// generation guards against a build that started before Invalidate
	// storing a stale value afterwards.
	generation map[string]uint64

	onEvict func(key string, value V)
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithOnEvict registers fn to be called with every value removed by
// Invalidate or Purge, typically to close connections.
func WithOnEvict[V any](fn func(key string, value V)) Option[V] {
	return func(c *Cache[V]) {
		c.onEvict = fn
	}
}

// New creates an empty cache.
func New[V any](opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		entries:    make(map[string]V),
		generation: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key, building it with build on first use.
// Concurrent callers for the same key share a single build. Failed builds are
// not cached.
func (c *Cache[V]) Get(ctx context.Context, key string, build BuildFunc[V]) (V, error) {
	if v, ok := c.Peek(key); ok {
		return v, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.Peek(key); ok {
			return v, nil
		}

		c.mu.RLock()
		gen := c.generation[key]
		c.mu.RUnlock()

		v, err := c.safeBuild(ctx, key, build)
		if err != nil {
			return v, err
		}

		c.mu.Lock()
		if c.generation[key] == gen {
			c.entries[key] = v
		}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return result.(V), nil
}

func (c *Cache[V]) safeBuild(ctx context.Context, key string, build BuildFunc[V]) (v V, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("building client %q panicked: %v", key, rec)
		}
	}()
	return build(ctx)
}

// Peek returns the cached value without building.
func (c *Cache[V]) Peek(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Set stores value under key, replacing (and evicting) any previous value.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	old, existed := c.entries[key]
	c.entries[key] = value
	c.generation[key]++
	c.mu.Unlock()

	if existed && c.onEvict != nil {
		c.onEvict(key, old)
	}
}

// Invalidate removes key so the next Get rebuilds it. It reports whether a value was removed.
func (c *Cache[V]) Invalidate(key string) bool {
	c.mu.Lock()
	old, existed := c.entries[key]
	delete(c.entries, key)
	c.generation[key]++
	c.mu.Unlock()

	if existed && c.onEvict != nil {
		c.onEvict(key, old)
	}
	return existed
}

// Purge removes every entry.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	old := c.entries
	c.entries = make(map[string]V)
	for key := range old {
		c.generation[key]++
	}
	c.mu.Unlock()

	if c.onEvict != nil {
		for key, v := range old {
			c.onEvict(key, v)
		}
	}
}

// Keys returns the cached keys, sorted.
func (c *Cache[V]) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	c.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
