// Package cache provides a concurrent-safe, sharded LRU cache with optional
// TTL expiration, shared by the geo resolver and the discovery result cache.
package cache

import (
	"hash/fnv"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Stats contains cache performance statistics.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	shards int
	now    func() time.Time
}

// WithShards sets the number of independently locked shards. Eviction order
// is kept per shard, so with more than one shard LRU order is approximate.
func WithShards(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.shards = n
		}
	}
}

// WithClock overrides the time source used for TTL checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Cache is a string-keyed LRU split across shards. A zero ttl disables expiry.
// Expiry is checked against the configured clock on read.
type Cache[V any] struct {
	shards     []*lru.Cache[string, entry[V]]
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	hits       atomic.Int64
	misses     atomic.Int64
}

type entry[V any] struct {
	value     V
	createdAt time.Time
}

// New creates a Cache holding at most maxEntries values.
func New[V any](maxEntries int, ttl time.Duration, opts ...Option) *Cache[V] {
	o := options{shards: 1, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if maxEntries <= 0 {
		maxEntries = 1
	}
	if o.shards > maxEntries {
		o.shards = maxEntries
	}

	perShard := (maxEntries + o.shards - 1) / o.shards
	c := &Cache[V]{
		shards:     make([]*lru.Cache[string, entry[V]], o.shards),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        o.now,
	}
	for i := range c.shards {
		// lru.New only fails for a non-positive size.
		c.shards[i], _ = lru.New[string, entry[V]](perShard)
	}
	return c
}

func (c *Cache[V]) shardFor(key string) *lru.Cache[string, entry[V]] {
	if len(c.shards) == 1 {
		return c.shards[0]
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum64()%uint64(len(c.shards))]
}

func (c *Cache[V]) expired(e entry[V]) bool {
	return c.ttl > 0 && c.now().Sub(e.createdAt) > c.ttl
}

// Get returns the cached value for key. Expired entries count as misses and are removed.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	s := c.shardFor(key)
	e, ok := s.Get(key)
	if ok && c.expired(e) {
		s.Remove(key)
		ok = false
	}
	if !ok {
		c.misses.Add(1)
		return zero, false
	}
	c.hits.Add(1)
	return e.value, true
}

// Peek is Get without touching LRU order or hit counters.
func (c *Cache[V]) Peek(key string) (V, bool) {
	var zero V
	e, ok := c.shardFor(key).Peek(key)
	if !ok || c.expired(e) {
		return zero, false
	}
	return e.value, true
}

// Put stores value under key, evicting the least recently used entry of the
// shard when it is full.
func (c *Cache[V]) Put(key string, value V) {
	c.shardFor(key).Add(key, entry[V]{value: value, createdAt: c.now()})
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.shardFor(key).Remove(key)
}

// Len returns the number of stored entries, including not yet reaped expired ones.
func (c *Cache[V]) Len() int {
	n := 0
	for _, s := range c.shards {
		n += s.Len()
	}
	return n
}

// Purge drops every entry. Counters are kept.
func (c *Cache[V]) Purge() {
	for _, s := range c.shards {
		s.Purge()
	}
}

// Stats returns cache performance statistics.
func (c *Cache[V]) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Entries:    c.Len(),
		MaxEntries: c.maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}
