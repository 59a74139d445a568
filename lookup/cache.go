// Package lookup provides the bounded read-through caches shared by the
// property store, the prototype catalog and the definition store.
package lookup

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/andreyvit/propdb/internal/metrics"
)

// DefaultSize is used when Options.Size is not positive.
const DefaultSize = 10000

// LoadFunc fetches a missing entry. found=false means the key does not
// exist; nothing is cached in that case.
type LoadFunc[K comparable, V any] func(ctx context.Context, key K) (v V, found bool, err error)

type Options struct {
	Name    string
	Size    int
	Metrics *metrics.Metrics
}

// Cache is a read-through LRU cache. Concurrent misses for the same key
// share one load. Entries are replaced by key, never mutated in place, so
// callers must treat cached values as read-only.
type Cache[K comparable, V any] struct {
	name    string
	lru     *lru.Cache[K, V]
	group   singleflight.Group
	load    LoadFunc[K, V]
	metrics *metrics.Metrics

	// gen changes on every write so that a load racing with Set or Delete
	// does not install a stale value.
	gen atomic.Uint64
}

func New[K comparable, V any](opt Options, load LoadFunc[K, V]) *Cache[K, V] {
	if opt.Size <= 0 {
		opt.Size = DefaultSize
	}
	if opt.Metrics == nil {
		opt.Metrics = metrics.Nop()
	}
	c := &Cache[K, V]{
		name:    opt.Name,
		load:    load,
		metrics: opt.Metrics,
	}
	l, err := lru.NewWithEvict[K, V](opt.Size, func(K, V) {
		c.metrics.CacheEvictionsTotal.WithLabelValues(c.name).Inc()
	})
	if err != nil {
		panic(fmt.Errorf("lookup: %s: %w", opt.Name, err))
	}
	c.lru = l
	return c
}

func (c *Cache[K, V]) Name() string {
	return c.name
}

// Get returns the cached value or loads it.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	if v, ok := c.lru.Get(key); ok {
		c.metrics.CacheHitsTotal.WithLabelValues(c.name).Inc()
		return v, true, nil
	}
	c.metrics.CacheMissesTotal.WithLabelValues(c.name).Inc()

	type result struct {
		v     V
		found bool
	}
	gen := c.gen.Load()
	r, err, _ := c.group.Do(flightKey(key), func() (any, error) {
		v, found, err := c.load(ctx, key)
		if err != nil {
			return nil, err
		}
		if found && c.gen.Load() == gen {
			c.lru.Add(key, v)
			c.updateSize()
		}
		return result{v, found}, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	res := r.(result)
	return res.v, res.found, nil
}

// Peek returns a cached value without loading or touching recency.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	return c.lru.Peek(key)
}

func (c *Cache[K, V]) Set(key K, v V) {
	c.gen.Add(1)
	c.lru.Add(key, v)
	c.updateSize()
}

func (c *Cache[K, V]) Delete(key K) {
	c.gen.Add(1)
	c.lru.Remove(key)
	c.updateSize()
}

func (c *Cache[K, V]) Purge() {
	c.gen.Add(1)
	c.lru.Purge()
	c.updateSize()
}

func (c *Cache[K, V]) Len() int {
	return c.lru.Len()
}

// Keys returns the cached keys from oldest to newest.
func (c *Cache[K, V]) Keys() []K {
	return c.lru.Keys()
}

func (c *Cache[K, V]) updateSize() {
	c.metrics.CacheEntries.WithLabelValues(c.name).Set(float64(c.lru.Len()))
}

// flightKey renders key unambiguously; %#v quotes strings inside structs.
func flightKey(key any) string {
	return fmt.Sprintf("%#v", key)
}
