package geo

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/contractor-match/internal/cache"
)

// Default cache sizes.
const (
	DefaultPointCacheSize  = 4096
	DefaultRadiusCacheSize = 512
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithPointCacheSize bounds the postal → centroid cache.
func WithPointCacheSize(n int) Option {
	return func(r *Resolver) { r.pointSize = n }
}

// WithRadiusCacheSize bounds the (center, radius) → postal set cache.
func WithRadiusCacheSize(n int) Option {
	return func(r *Resolver) { r.radiusSize = n }
}

// WithCacheShards sets the shard count of both caches.
func WithCacheShards(n int) Option {
	return func(r *Resolver) { r.shards = n }
}

// WithWarmConcurrency bounds concurrent lookups during Warm.
func WithWarmConcurrency(n int) Option {
	return func(r *Resolver) { r.warmConcurrency = n }
}

// Resolver resolves postal codes and expands radius sets over a Dataset.
// Reference data is static, so cached entries never expire. Safe for
// concurrent use.
type Resolver struct {
	dataset Dataset

	pointSize       int
	radiusSize      int
	shards          int
	warmConcurrency int

	points *cache.Cache[Point]
	radius *cache.Cache[[]string]
}

// NewResolver creates a Resolver over ds.
func NewResolver(ds Dataset, opts ...Option) *Resolver {
	r := &Resolver{
		dataset:         ds,
		pointSize:       DefaultPointCacheSize,
		radiusSize:      DefaultRadiusCacheSize,
		shards:          16,
		warmConcurrency: 4,
	}
	for _, o := range opts {
		o(r)
	}
	r.points = cache.New[Point](r.pointSize, 0, cache.WithShards(r.shards))
	r.radius = cache.New[[]string](r.radiusSize, 0, cache.WithShards(r.shards))
	return r
}

// Resolve returns the centroid of postal. Unknown codes return ErrNotFound;
// dataset failures return a *LookupError.
func (r *Resolver) Resolve(ctx context.Context, postal string) (Point, error) {
	postal = normalizePostal(postal)
	if p, ok := r.points.Get(postal); ok {
		return p, nil
	}

	p, err := r.dataset.Lookup(ctx, postal)
	if errors.Is(err, ErrNotFound) {
		return Point{}, ErrNotFound
	}
	if err != nil {
		return Point{}, &LookupError{Postal: postal, Op: "resolve", Err: err}
	}

	r.points.Put(postal, p)
	return p, nil
}

// Expand returns every postal code within radiusKM of center. The center is
// always the first element, including when an error is returned alongside.
func (r *Resolver) Expand(ctx context.Context, center string, radiusKM float64) ([]string, error) {
	center = normalizePostal(center)
	key := radiusKey(center, radiusKM)
	if codes, ok := r.radius.Get(key); ok {
		return append([]string(nil), codes...), nil
	}

	origin, err := r.Resolve(ctx, center)
	if err != nil {
		var le *LookupError
		if !errors.As(err, &le) {
			le = &LookupError{Postal: center, Op: "expand", Err: err}
		}
		return []string{center}, le
	}

	var within []string
	if rq, ok := r.dataset.(RadiusQuerier); ok {
		within, err = rq.WithinRadius(ctx, origin, radiusKM)
	} else {
		within, err = r.scan(ctx, origin, radiusKM)
	}
	if err != nil {
		return []string{center}, &LookupError{Postal: center, Op: "expand", Err: err}
	}

	codes := make([]string, 0, len(within)+1)
	codes = append(codes, center)
	for _, c := range within {
		if c != center {
			codes = append(codes, c)
		}
	}

	r.radius.Put(key, codes)
	return append([]string(nil), codes...), nil
}

// scan computes radius membership with pairwise haversine over the full
// reference set. Results are sorted by distance, then postal code.
func (r *Resolver) scan(ctx context.Context, origin Point, radiusKM float64) ([]string, error) {
	all, err := r.dataset.All(ctx)
	if err != nil {
		return nil, err
	}

	type hit struct {
		postal string
		dist   float64
	}
	var hits []hit
	for postal, p := range all {
		if d := HaversineKM(origin, p); d <= radiusKM {
			hits = append(hits, hit{postal, d})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].postal < hits[j].postal
	})

	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.postal
	}
	return out, nil
}

// Warm pre-populates both caches for the given postal codes. Failures are
// logged and skipped.
func (r *Resolver) Warm(ctx context.Context, codes []string, radiusKM float64) {
	log := zap.L().With(zap.String("component", "geo.resolver"))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, r.warmConcurrency))
	for _, code := range codes {
		g.Go(func() error {
			if _, err := r.Expand(gctx, code, radiusKM); err != nil {
				log.Warn("geo: warm failed", zap.String("postal", code), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("geo: caches warmed",
		zap.Int("postal_codes", len(codes)),
		zap.Int("radius_entries", r.radius.Len()),
	)
}

// PointStats returns the point cache statistics.
func (r *Resolver) PointStats() cache.Stats { return r.points.Stats() }

// RadiusStats returns the radius cache statistics.
func (r *Resolver) RadiusStats() cache.Stats { return r.radius.Stats() }

func radiusKey(center string, radiusKM float64) string {
	return center + "|" + strconv.FormatFloat(radiusKM, 'f', 3, 64)
}
