package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sells-group/contractor-match/internal/cache"
)

// Result cache defaults.
const (
	DefaultCacheTTL        = time.Hour
	DefaultCacheMaxEntries = 2048
	DefaultBudgetBucket    = 1000.0
)

// ResultCache holds discovery results keyed by request fingerprint. Budgets
// are bucketed so near-duplicate requests share an entry. Concurrent misses
// for one key run the computation once.
type ResultCache struct {
	results   *cache.Cache[*Result]
	byRequest *cache.Cache[string]
	group     singleflight.Group
	bucket    float64
}

// ResultCacheOption configures a ResultCache.
type ResultCacheOption func(*resultCacheOptions)

type resultCacheOptions struct {
	bucket float64
	shards int
	now    func() time.Time
}

// WithBudgetBucket sets the budget bucket width in currency units.
func WithBudgetBucket(width float64) ResultCacheOption {
	return func(o *resultCacheOptions) {
		if width > 0 {
			o.bucket = width
		}
	}
}

// WithResultShards sets the number of cache shards.
func WithResultShards(n int) ResultCacheOption {
	return func(o *resultCacheOptions) { o.shards = n }
}

// WithResultClock overrides the clock used for TTL expiry.
func WithResultClock(now func() time.Time) ResultCacheOption {
	return func(o *resultCacheOptions) { o.now = now }
}

// NewResultCache creates a cache of at most maxEntries results, each valid
// for ttl.
func NewResultCache(maxEntries int, ttl time.Duration, opts ...ResultCacheOption) *ResultCache {
	o := resultCacheOptions{bucket: DefaultBudgetBucket, shards: 16, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	copts := []cache.Option{cache.WithShards(o.shards), cache.WithClock(o.now)}
	return &ResultCache{
		results:   cache.New[*Result](maxEntries, ttl, copts...),
		byRequest: cache.New[string](maxEntries, ttl, copts...),
		bucket:    o.bucket,
	}
}

// Fingerprint returns the stable cache key of req. Urgency and raw tags take
// part only when they change the search (emergency radius, tag set).
func (c *ResultCache) Fingerprint(req Request) string {
	bucket := "none"
	if amount, ok := req.Budget(); ok {
		bucket = strconv.FormatInt(int64(math.Round(amount/c.bucket)), 10)
	}

	parts := []string{
		strings.ToLower(strings.TrimSpace(req.ProjectCategory)),
		strings.TrimSpace(req.PostalCode),
		bucket,
		strconv.Itoa(req.CandidatesNeeded),
	}
	if req.Urgency == UrgencyEmergency {
		parts = append(parts, "emergency")
	}
	if len(req.ProjectTags) > 0 {
		tags := make([]string, len(req.ProjectTags))
		for i, t := range req.ProjectTags {
			tags[i] = strings.ToLower(strings.TrimSpace(t))
		}
		sort.Strings(tags)
		parts = append(parts, "tags="+strings.Join(tags, ","))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// GetOrCompute returns the cached result for key, or runs fn and caches its
// result. hit reports whether the value came from the cache. Errors are not
// cached. Waiting for a computation in flight honors ctx, but fn itself runs
// detached from ctx's cancellation since other callers may be waiting on it;
// fn must bound its own running time.
func (c *ResultCache) GetOrCompute(ctx context.Context, key string, fn func(ctx context.Context) (*Result, error)) (res *Result, hit bool, err error) {
	if res, ok := c.results.Get(key); ok {
		return res, true, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		if res, ok := c.results.Peek(key); ok {
			return res, nil
		}
		res, err := fn(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.results.Put(key, res)
		return res, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, false, r.Err
		}
		return r.Val.(*Result), false, nil
	}
}

// Index remembers that requestID resolved to the entry under key.
func (c *ResultCache) Index(requestID, key string) {
	c.byRequest.Put(requestID, key)
}

// Lookup returns the cached result a request id resolved to, if both the
// index entry and the result are still live. It does not affect hit stats.
func (c *ResultCache) Lookup(requestID string) (*Result, bool) {
	key, ok := c.byRequest.Peek(requestID)
	if !ok {
		return nil, false
	}
	return c.results.Peek(key)
}

// Stats reports result cache hits, misses and hit rate.
func (c *ResultCache) Stats() cache.Stats { return c.results.Stats() }

// Purge drops every cached result.
func (c *ResultCache) Purge() {
	c.results.Purge()
	c.byRequest.Purge()
}
