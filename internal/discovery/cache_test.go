package discovery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_BucketsBudget(t *testing.T) {
	c := NewResultCache(10, time.Hour)

	a := kitchenRequest()
	b := kitchenRequest()
	b.ID = "bid-2"
	b.BudgetMax = ptr(20300)
	assert.Equal(t, c.Fingerprint(a), c.Fingerprint(b), "same bucket, different id")

	b.BudgetMax = ptr(21600)
	assert.NotEqual(t, c.Fingerprint(a), c.Fingerprint(b))
}

func TestFingerprint_Fields(t *testing.T) {
	c := NewResultCache(10, time.Hour)
	base := c.Fingerprint(kitchenRequest())

	tests := []struct {
		name string
		mut  func(*Request)
		same bool
	}{
		{"category case and space", func(r *Request) { r.ProjectCategory = "  Kitchen " }, true},
		{"urgency week vs month", func(r *Request) { r.Urgency = UrgencyWeek }, true},
		{"emergency", func(r *Request) { r.Urgency = UrgencyEmergency }, false},
		{"postal", func(r *Request) { r.PostalCode = "78702" }, false},
		{"candidates", func(r *Request) { r.CandidatesNeeded = 6 }, false},
		{"category", func(r *Request) { r.ProjectCategory = "bathroom" }, false},
		{"tags", func(r *Request) { r.ProjectTags = []string{"granite"} }, false},
		{"no budget", func(r *Request) { r.BudgetMax = nil }, false},
		{"min falls back", func(r *Request) { r.BudgetMax = nil; r.BudgetMin = ptr(20000) }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := kitchenRequest()
			tt.mut(&r)
			if tt.same {
				assert.Equal(t, base, c.Fingerprint(r))
			} else {
				assert.NotEqual(t, base, c.Fingerprint(r))
			}
		})
	}
}

func TestFingerprint_TagOrderIgnored(t *testing.T) {
	c := NewResultCache(10, time.Hour)
	a, b := kitchenRequest(), kitchenRequest()
	a.ProjectTags = []string{"tile", "granite"}
	b.ProjectTags = []string{" Granite", "tile"}
	assert.Equal(t, c.Fingerprint(a), c.Fingerprint(b))
}

func TestFingerprint_CustomBucket(t *testing.T) {
	c := NewResultCache(10, time.Hour, WithBudgetBucket(5000))
	a, b := kitchenRequest(), kitchenRequest()
	b.BudgetMax = ptr(21500)
	assert.Equal(t, c.Fingerprint(a), c.Fingerprint(b))
}

func TestGetOrCompute_HitAndStats(t *testing.T) {
	c := NewResultCache(10, time.Hour)
	ctx := context.Background()
	var calls int
	fn := func(context.Context) (*Result, error) {
		calls++
		return &Result{RequestID: "bid-1"}, nil
	}

	first, hit, err := c.GetOrCompute(ctx, "k", fn)
	require.NoError(t, err)
	assert.False(t, hit)

	second, hit, err := c.GetOrCompute(ctx, "k", fn)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestGetOrCompute_TTLExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	c := NewResultCache(10, time.Hour, WithResultClock(clock))

	var calls int
	fn := func(context.Context) (*Result, error) { calls++; return &Result{}, nil }

	_, _, err := c.GetOrCompute(context.Background(), "k", fn)
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(61 * time.Minute)
	mu.Unlock()

	_, hit, err := c.GetOrCompute(context.Background(), "k", fn)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, calls)
}

func TestGetOrCompute_ErrorsNotCached(t *testing.T) {
	c := NewResultCache(10, time.Hour)
	boom := errors.New("boom")

	_, _, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (*Result, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	res, hit, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (*Result, error) {
		return &Result{RequestID: "ok"}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "ok", res.RequestID)
}

func TestGetOrCompute_CollapsesConcurrentMisses(t *testing.T) {
	c := NewResultCache(10, time.Hour)
	var calls atomic.Int32
	release := make(chan struct{})

	fn := func(context.Context) (*Result, error) {
		calls.Add(1)
		<-release
		return &Result{RequestID: "shared"}, nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]*Result, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _, err := c.GetOrCompute(context.Background(), "k", fn)
			assert.NoError(t, err)
			results[i] = res
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestGetOrCompute_WaiterHonorsContext(t *testing.T) {
	c := NewResultCache(10, time.Hour)
	release := make(chan struct{})
	defer close(release)

	go func() {
		_, _, _ = c.GetOrCompute(context.Background(), "k", func(context.Context) (*Result, error) {
			<-release
			return &Result{}, nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := c.GetOrCompute(ctx, "k", func(context.Context) (*Result, error) {
		t.Error("second caller must join the flight")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetOrCompute_ComputationOutlivesCaller(t *testing.T) {
	c := NewResultCache(10, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	fnErr := make(chan error, 1)

	go func() {
		_, _, _ = c.GetOrCompute(ctx, "k", func(fctx context.Context) (*Result, error) {
			close(started)
			time.Sleep(50 * time.Millisecond)
			fnErr <- fctx.Err()
			return &Result{RequestID: "bid-1"}, nil
		})
	}()
	<-started
	cancel()

	assert.NoError(t, <-fnErr)
	assert.Eventually(t, func() bool {
		_, ok := c.results.Peek("k")
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestIndexAndLookup(t *testing.T) {
	c := NewResultCache(10, time.Hour)
	res := &Result{RequestID: "bid-1"}
	_, _, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (*Result, error) { return res, nil })
	require.NoError(t, err)

	_, ok := c.Lookup("bid-1")
	assert.False(t, ok, "not indexed yet")

	c.Index("bid-1", "k")
	got, ok := c.Lookup("bid-1")
	require.True(t, ok)
	assert.Same(t, res, got)

	before := c.Stats()
	c.Lookup("bid-1")
	assert.Equal(t, before.Hits, c.Stats().Hits, "lookup does not count")

	c.Purge()
	_, ok = c.Lookup("bid-1")
	assert.False(t, ok)
}
