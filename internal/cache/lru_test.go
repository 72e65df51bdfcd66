package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestCache_BasicGetPut(t *testing.T) {
	c := New[string](100, time.Hour)

	_, ok := c.Get("78701")
	assert.False(t, ok)

	c.Put("78701", "austin")
	got, ok := c.Get("78701")
	require.True(t, ok)
	assert.Equal(t, "austin", got)

	_, ok = c.Get("78702")
	assert.False(t, ok)
}

func TestCache_TTLExpiration(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[int](100, time.Minute, WithClock(clock.Now))

	c.Put("k", 1)
	_, ok := c.Get("k")
	assert.True(t, ok)

	clock.Advance(61 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)

	// Expired entry is reaped on read.
	assert.Equal(t, 0, c.Len())
}

func TestCache_ZeroTTLNeverExpires(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[int](10, 0, WithClock(clock.Now))

	c.Put("k", 1)
	clock.Advance(24 * 365 * time.Hour)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestCache_LRUEviction(t *testing.T) {
	c := New[string](3, time.Hour)

	c.Put("a", "1")
	c.Put("b", "2")
	c.Put("c", "3")
	c.Put("d", "4")

	_, ok := c.Get("a")
	assert.False(t, ok)
	for _, k := range []string{"b", "c", "d"} {
		_, ok := c.Get(k)
		assert.True(t, ok, k)
	}
}

func TestCache_LRUEviction_AccessOrder(t *testing.T) {
	c := New[string](3, time.Hour)

	c.Put("a", "1")
	c.Put("b", "2")
	c.Put("c", "3")

	// Touch "a" so "b" becomes the oldest.
	c.Get("a")
	c.Put("d", "4")

	_, ok := c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestCache_PeekDoesNotCount(t *testing.T) {
	c := New[int](10, time.Hour)
	c.Put("k", 7)

	v, ok := c.Peek("k")
	require.True(t, ok)
	assert.Equal(t, 7, v)

	stats := c.Stats()
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
}

func TestCache_UpdateExistingKey(t *testing.T) {
	c := New[string](100, time.Hour)

	c.Put("a", "old")
	c.Put("a", "new")

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "new", got)
	assert.Equal(t, 1, c.Len())
}

func TestCache_DeleteAndPurge(t *testing.T) {
	c := New[int](10, time.Hour, WithShards(4))
	for i := range 8 {
		c.Put(fmt.Sprintf("k%d", i), i)
	}

	c.Delete("k3")
	_, ok := c.Get("k3")
	assert.False(t, ok)
	assert.Equal(t, 7, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestCache_Stats(t *testing.T) {
	c := New[int](100, time.Hour)

	c.Put("a", 1)
	c.Put("b", 2)

	c.Get("a") // hit
	c.Get("b") // hit
	c.Get("c") // miss

	stats := c.Stats()
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, 100, stats.MaxEntries)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.6667, stats.HitRate, 0.01)
}

func TestCache_ShardedBound(t *testing.T) {
	c := New[int](64, time.Hour, WithShards(8))
	for i := range 1000 {
		c.Put(fmt.Sprintf("key-%d", i), i)
	}
	assert.LessOrEqual(t, c.Len(), 64)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New[int](1000, time.Hour, WithShards(16))

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("%05d", n)
			c.Put(key, n)
			c.Get(key)
		}(i)
	}
	wg.Wait()

	stats := c.Stats()
	assert.LessOrEqual(t, stats.Entries, 1000)
	assert.Equal(t, int64(100), stats.Hits+stats.Misses)
}
