package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contractor-match/internal/db"
	"github.com/sells-group/contractor-match/internal/discovery"
	"github.com/sells-group/contractor-match/internal/geo"
	"github.com/sells-group/contractor-match/internal/metrics"
	"github.com/sells-group/contractor-match/internal/resilience"
	"github.com/sells-group/contractor-match/internal/specialty"
	"github.com/sells-group/contractor-match/pkg/acquire"
)

// candidateBackend is the store behind Tiers 1 and 2. Both drivers also
// persist selections and own their schema.
type candidateBackend interface {
	discovery.CandidateStore
	discovery.SelectionStore
	UpsertCandidates(ctx context.Context, records []discovery.Record) (int64, error)
	Migrate(ctx context.Context) error
}

// discoveryEnv holds everything the serve and discover commands need.
// Callers should defer env.Close().
type discoveryEnv struct {
	Engine   *discovery.Engine
	Resolver *geo.Resolver
	Backend  candidateBackend
	Metrics  *metrics.Collector

	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (e *discoveryEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

// openBackend opens the configured candidate store. The pool is returned
// for reuse by the postgres geo dataset and is nil for sqlite.
func openBackend(ctx context.Context, env *discoveryEnv) (candidateBackend, *pgxpool.Pool, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		st, err := discovery.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		env.closers = append(env.closers, func() { _ = st.Close() })
		return st, nil, nil
	case "postgres":
		pool, err := db.Open(ctx, cfg.Store.DatabaseURL, db.DefaultPoolOptions())
		if err != nil {
			return nil, nil, err
		}
		env.closers = append(env.closers, pool.Close)
		return discovery.NewPostgresStore(pool), pool, nil
	default:
		return nil, nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openDataset loads the configured postal-code reference dataset.
func openDataset(ctx context.Context, env *discoveryEnv, pool *pgxpool.Pool) (geo.Dataset, error) {
	switch cfg.Geo.Source {
	case "gazetteer":
		return geo.LoadGazetteer(cfg.Geo.DatasetPath)
	case "shapefile":
		return geo.LoadShapefile(cfg.Geo.DatasetPath)
	case "postgres":
		if pool == nil {
			p, err := db.Open(ctx, cfg.Store.DatabaseURL, db.DefaultPoolOptions())
			if err != nil {
				return nil, err
			}
			env.closers = append(env.closers, p.Close)
			pool = p
		}
		return geo.NewPostgresDataset(pool), nil
	default:
		return nil, eris.Errorf("unsupported geo source: %s", cfg.Geo.Source)
	}
}

func newResolver(ds geo.Dataset) *geo.Resolver {
	return geo.NewResolver(ds,
		geo.WithPointCacheSize(cfg.Geo.PointCacheSize),
		geo.WithRadiusCacheSize(cfg.Geo.RadiusCacheSize),
		geo.WithCacheShards(cfg.Geo.CacheShards),
		geo.WithWarmConcurrency(cfg.Geo.WarmConcurrency),
	)
}

func newNormalizer() (*specialty.Normalizer, error) {
	opts := []specialty.Option{specialty.WithMaxTags(cfg.Specialty.MaxTags)}
	if cfg.Specialty.SynonymsPath != "" {
		table, err := specialty.LoadTable(cfg.Specialty.SynonymsPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, specialty.WithTable(table))
	}
	return specialty.NewNormalizer(opts...), nil
}

// initDiscovery builds the engine with its stores, geo resolver, caches and
// tier providers. scope selects which config keys are validated.
func initDiscovery(ctx context.Context, scope string) (*discoveryEnv, error) {
	if err := cfg.Validate(scope); err != nil {
		return nil, err
	}

	env := &discoveryEnv{Metrics: metrics.NewCollector()}
	fail := func(err error) (*discoveryEnv, error) {
		env.Close()
		return nil, err
	}

	backend, pool, err := openBackend(ctx, env)
	if err != nil {
		return fail(err)
	}
	env.Backend = backend

	ds, err := openDataset(ctx, env, pool)
	if err != nil {
		return fail(err)
	}
	env.Resolver = newResolver(ds)
	if len(cfg.Geo.WarmPostalCodes) > 0 {
		env.Resolver.Warm(ctx, cfg.Geo.WarmPostalCodes, cfg.Geo.DefaultRadiusKM)
	}

	normalizer, err := newNormalizer()
	if err != nil {
		return fail(err)
	}

	d := cfg.Discovery
	tier1, err := discovery.NewStoreTier(discovery.Tier1, backend, discovery.WithCap(d.Tier1Cap))
	if err != nil {
		return fail(err)
	}
	tier2, err := discovery.NewStoreTier(discovery.Tier2, backend,
		discovery.WithCap(d.Tier2Cap),
		discovery.WithCooldown(time.Duration(d.Tier2CooldownDays)*24*time.Hour),
	)
	if err != nil {
		return fail(err)
	}

	opts := []discovery.Option{
		discovery.WithTier(tier1),
		discovery.WithTier(tier2),
		discovery.WithMetrics(env.Metrics),
		discovery.WithRadii(cfg.Geo.DefaultRadiusKM, cfg.Geo.EmergencyRadiusKM),
		discovery.WithEscalation(discovery.Escalation(d.Escalation)),
		discovery.WithCache(discovery.NewResultCache(
			d.CacheMaxEntries,
			time.Duration(d.CacheTTLSecs)*time.Second,
			discovery.WithBudgetBucket(float64(d.BudgetBucket)),
		)),
		discovery.WithComputeTimeout(time.Duration(cfg.Server.RequestTimeoutSecs) * time.Second),
	}
	for _, t := range discovery.Tiers {
		if timeout := d.TierTimeout(int(t)); timeout > 0 {
			opts = append(opts, discovery.WithTierTimeout(t, timeout))
		}
	}

	if cfg.Acquisition.Enabled {
		opts = append(opts, discovery.WithTier(newAcquisitionTier(normalizer, env.Metrics)))
		zap.L().Info("tier 3 acquisition enabled", zap.String("base_url", cfg.Acquisition.BaseURL))
	} else {
		zap.L().Debug("acquisition disabled, tier 3 will not be invoked")
	}

	env.Engine = discovery.NewEngine(env.Resolver, normalizer, discovery.NewScorer(cfg.Scoring), opts...)
	return env, nil
}

func newAcquisitionTier(normalizer discovery.Normalizer, m *metrics.Collector) *discovery.AcquisitionTier {
	client := acquire.NewClient(cfg.Acquisition.BaseURL,
		acquire.WithAPIKey(cfg.Acquisition.Key),
		acquire.WithRateLimit(cfg.Acquisition.RateLimit),
		acquire.WithRetryPolicy(resilience.PolicyFromConfig(cfg.Resilience)),
	)

	bc := resilience.BreakerFromConfig(cfg.Resilience)
	bc.OnStateChange = func(from, to resilience.State) {
		m.SetBreakerState("acquisition", string(to))
		zap.L().Warn("acquisition circuit state changed",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
	}
	m.SetBreakerState("acquisition", string(resilience.StateClosed))

	return discovery.NewAcquisitionTier(client,
		discovery.WithBreaker(resilience.NewBreaker(bc)),
		discovery.WithAcquisitionNormalizer(normalizer),
		discovery.WithAcquisitionRadii(cfg.Geo.DefaultRadiusKM, cfg.Geo.EmergencyRadiusKM),
	)
}
