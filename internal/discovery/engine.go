package discovery

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/contractor-match/internal/metrics"
)

// PostalExpander expands a postal code into the set of codes within a
// radius. The center is always returned, also alongside an error.
type PostalExpander interface {
	Expand(ctx context.Context, center string, radiusKM float64) ([]string, error)
}

// Normalizer maps raw tags and a project category onto canonical specialty
// tags. The result is never empty for a non-empty category.
type Normalizer interface {
	Normalize(rawTags []string, projectCategory string) []string
}

// Escalation controls how tiers past Tier 1 are invoked.
type Escalation string

// Escalation modes.
const (
	// EscalationSequential runs Tier 2 only when Tier 1 is short, then Tier 3
	// only when Tiers 1 and 2 together are short.
	EscalationSequential Escalation = "sequential"
	// EscalationParallel runs Tier 2 and Tier 3 together once Tier 1 is short.
	EscalationParallel Escalation = "parallel"
)

// Default radii and tier timeouts.
const (
	DefaultRadiusKM          = 40.0
	DefaultEmergencyRadiusKM = 25.0
	DefaultTier1Timeout      = 2500 * time.Millisecond
	DefaultTier2Timeout      = 2500 * time.Millisecond
	DefaultTier3Timeout      = 9 * time.Second
	DefaultComputeTimeout    = 20 * time.Second
)

// Engine is the discovery orchestrator. It is safe for concurrent use; the
// only shared mutable state lives in the injected caches.
type Engine struct {
	geo        PostalExpander
	normalizer Normalizer
	scorer     *Scorer
	tiers      map[Tier]TierProvider
	cache      *ResultCache
	metrics    *metrics.Collector
	now        func() time.Time

	defaultRadiusKM   float64
	emergencyRadiusKM float64
	timeouts          map[Tier]time.Duration
	computeTimeout    time.Duration
	escalation        Escalation
}

// Option configures an Engine.
type Option func(*Engine)

// WithTier registers p for its tier, replacing any earlier provider.
func WithTier(p TierProvider) Option {
	return func(e *Engine) {
		if p != nil {
			e.tiers[p.Tier()] = p
		}
	}
}

// WithCache enables result caching.
func WithCache(c *ResultCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithMetrics records discovery metrics on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithNow overrides the clock used for ComputedAt and ProcessingDuration.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRadii sets the search radius for normal and emergency requests.
func WithRadii(defaultKM, emergencyKM float64) Option {
	return func(e *Engine) {
		if defaultKM > 0 {
			e.defaultRadiusKM = defaultKM
		}
		if emergencyKM > 0 {
			e.emergencyRadiusKM = emergencyKM
		}
	}
}

// WithTierTimeout bounds each call to tier. Zero leaves the tier bounded by
// the caller's context only.
func WithTierTimeout(tier Tier, d time.Duration) Option {
	return func(e *Engine) { e.timeouts[tier] = d }
}

// WithComputeTimeout bounds a cached discovery computation. It runs detached
// from any single caller, so this is its only deadline.
func WithComputeTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.computeTimeout = d
		}
	}
}

// WithEscalation sets the escalation mode.
func WithEscalation(mode Escalation) Option {
	return func(e *Engine) {
		if mode == EscalationParallel || mode == EscalationSequential {
			e.escalation = mode
		}
	}
}

// NewEngine creates an Engine. Tiers are registered with WithTier.
func NewEngine(geo PostalExpander, normalizer Normalizer, scorer *Scorer, opts ...Option) *Engine {
	e := &Engine{
		geo:               geo,
		normalizer:        normalizer,
		scorer:            scorer,
		tiers:             make(map[Tier]TierProvider),
		now:               time.Now,
		defaultRadiusKM:   DefaultRadiusKM,
		emergencyRadiusKM: DefaultEmergencyRadiusKM,
		timeouts: map[Tier]time.Duration{
			Tier1: DefaultTier1Timeout,
			Tier2: DefaultTier2Timeout,
			Tier3: DefaultTier3Timeout,
		},
		computeTimeout: DefaultComputeTimeout,
		escalation:     EscalationSequential,
	}
	if e.scorer == nil {
		e.scorer = NewScorer(DefaultScoring())
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Discover returns the ranked candidates for req. Errors are either an
// *InvalidRequestError or a *DiscoveryError; no partial result is returned.
// Cached results are shared between callers and must not be modified.
func (e *Engine) Discover(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		e.metrics.RecordDiscovery(metrics.OutcomeInvalid, 0, 0)
		return nil, err
	}

	if e.cache == nil {
		res, err := e.discover(ctx, req)
		e.record(res, err, false)
		return res, err
	}

	key := e.cache.Fingerprint(req)
	res, hit, err := e.cache.GetOrCompute(ctx, key, func(sctx context.Context) (*Result, error) {
		sctx, cancel := context.WithTimeout(sctx, e.computeTimeout)
		defer cancel()
		return e.discover(sctx, req)
	})
	e.metrics.RecordCacheLookup(hit)
	if err != nil {
		// The computation may have run under another request's id.
		stage := StagePending
		var de *DiscoveryError
		if errors.As(err, &de) {
			stage, err = de.Stage, de.Err
		}
		err = &DiscoveryError{RequestID: req.ID, Stage: stage, Err: err}
		e.record(nil, err, false)
		return nil, err
	}

	e.cache.Index(req.ID, key)
	e.record(res, nil, hit)
	return res, nil
}

// CachedResult returns the live cached result requestID resolved to.
func (e *Engine) CachedResult(requestID string) (*Result, bool) {
	if e.cache == nil {
		return nil, false
	}
	return e.cache.Lookup(requestID)
}

func (e *Engine) record(res *Result, err error, hit bool) {
	switch {
	case err != nil:
		e.metrics.RecordDiscovery(metrics.OutcomeFailed, 0, 0)
	case hit:
		e.metrics.RecordDiscovery(metrics.OutcomeCached, 0, len(res.Selected))
	default:
		e.metrics.RecordDiscovery(metrics.OutcomeOK, res.ProcessingDuration, len(res.Selected))
	}
}

// tierOutcome is what one invoked tier contributed.
type tierOutcome struct {
	tier       Tier
	candidates []Candidate
	err        error
}

func (e *Engine) discover(ctx context.Context, req Request) (*Result, error) {
	start := e.now()
	log := zap.L().With(zap.String("request_id", req.ID))

	fail := func(stage Stage, err error) (*Result, error) {
		log.Warn("discovery: failed", zap.String("stage", string(stage)), zap.Error(err))
		return nil, &DiscoveryError{RequestID: req.ID, Stage: stage, Err: err}
	}

	// Pending -> GeoResolved
	codes, degraded := e.expand(ctx, req, log)
	if err := ctx.Err(); err != nil {
		return fail(StagePending, err)
	}
	tags := e.normalizer.Normalize(req.ProjectTags, req.ProjectCategory)
	postalSet, specialtySet := toSet(codes), toSet(tags)

	// GeoResolved -> TierScan
	outcomes := e.scan(ctx, req, postalSet, specialtySet)
	if err := ctx.Err(); err != nil {
		return fail(StageTierScan, err)
	}
	if len(outcomes) == 0 {
		return fail(StageTierScan, eris.New("discovery: no tier providers configured"))
	}

	// TierScan -> Merged
	merged := merge(outcomes)
	if len(merged) == 0 {
		var errs []error
		for _, o := range outcomes {
			if o.err != nil {
				errs = append(errs, o.err)
			}
		}
		if len(errs) == len(outcomes) {
			return fail(StageMerged, errors.Join(errs...))
		}
	}

	// Merged -> Ranked
	for i := range merged {
		merged[i].Score, merged[i].MatchReasons = e.scorer.Score(merged[i], req)
	}
	sort.SliceStable(merged, func(i, j int) bool { return rankLess(merged[i], merged[j]) })
	selected := merged
	if len(selected) > req.CandidatesNeeded {
		selected = selected[:req.CandidatesNeeded]
	}

	// Ranked -> Done
	breakdown := make(map[string]int, len(outcomes))
	for _, o := range outcomes {
		breakdown[o.tier.Key()] = 0
	}
	for _, c := range selected {
		breakdown[c.Tier.Key()]++
	}

	end := e.now()
	res := &Result{
		RequestID:           req.ID,
		Selected:            append(make([]Candidate, 0, len(selected)), selected...),
		TierBreakdown:       breakdown,
		TotalConsidered:     len(merged),
		ProcessingDuration:  end.Sub(start),
		PostalCodesSearched: codes,
		Specialties:         tags,
		GeoDegraded:         degraded,
		ComputedAt:          end,
	}

	log.Info("discovery: done",
		zap.Int("selected", len(res.Selected)),
		zap.Int("considered", res.TotalConsidered),
		zap.Any("tier_breakdown", res.TierBreakdown),
		zap.Bool("geo_degraded", degraded),
		zap.Duration("duration", res.ProcessingDuration),
	)
	return res, nil
}

// expand resolves the search area. Geo failures degrade to whatever the
// expander returned, at least the request's own postal code.
func (e *Engine) expand(ctx context.Context, req Request, log *zap.Logger) ([]string, bool) {
	postal := strings.TrimSpace(req.PostalCode)
	if e.geo == nil {
		return []string{postal}, false
	}

	radius := e.defaultRadiusKM
	if req.Urgency == UrgencyEmergency {
		radius = e.emergencyRadiusKM
	}

	codes, err := e.geo.Expand(ctx, postal, radius)
	if err == nil {
		return codes, false
	}
	if len(codes) == 0 {
		codes = []string{postal}
	}
	log.Warn("discovery: geo lookup failed, matching exact postal code only",
		zap.String("postal_code", postal),
		zap.Float64("radius_km", radius),
		zap.Error(err),
	)
	return codes, true
}

// scan invokes tiers under the early-exit policy. Outcomes are returned in
// tier order, one per invoked tier.
func (e *Engine) scan(ctx context.Context, req Request, postalSet, specialtySet map[string]bool) []tierOutcome {
	var outcomes []tierOutcome
	seen := make(map[string]bool)
	add := func(o tierOutcome) {
		outcomes = append(outcomes, o)
		for _, c := range o.candidates {
			seen[c.ID] = true
		}
	}
	short := func() bool { return len(seen) < req.CandidatesNeeded }

	if p, ok := e.tiers[Tier1]; ok {
		add(e.runTier(ctx, p, req, postalSet, specialtySet))
	}
	if !short() || ctx.Err() != nil {
		return outcomes
	}

	if e.escalation == EscalationParallel {
		var rest []TierProvider
		for _, t := range []Tier{Tier2, Tier3} {
			if p, ok := e.tiers[t]; ok {
				rest = append(rest, p)
			}
		}
		results := make([]tierOutcome, len(rest))
		var g errgroup.Group
		for i, p := range rest {
			g.Go(func() error {
				results[i] = e.runTier(ctx, p, req, postalSet, specialtySet)
				return nil
			})
		}
		_ = g.Wait()
		for _, o := range results {
			add(o)
		}
		return outcomes
	}

	for _, t := range []Tier{Tier2, Tier3} {
		if !short() || ctx.Err() != nil {
			break
		}
		if p, ok := e.tiers[t]; ok {
			add(e.runTier(ctx, p, req, postalSet, specialtySet))
		}
	}
	return outcomes
}

// runTier calls one provider under its timeout. Errors and timeouts become
// a zero contribution.
func (e *Engine) runTier(ctx context.Context, p TierProvider, req Request, postalSet, specialtySet map[string]bool) tierOutcome {
	tier := p.Tier()
	var (
		tctx   context.Context
		cancel context.CancelFunc
	)
	if d := e.timeouts[tier]; d > 0 {
		tctx, cancel = context.WithTimeout(ctx, d)
	} else {
		tctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type found struct {
		candidates []Candidate
		err        error
	}
	ch := make(chan found, 1)
	started := time.Now()
	go func() {
		cs, err := p.Find(tctx, req, postalSet, specialtySet)
		ch <- found{cs, err}
	}()

	var f found
	select {
	case f = <-ch:
	case <-tctx.Done():
		f.err = tctx.Err()
	}
	elapsed := time.Since(started)

	if f.err != nil {
		perr := &TierProviderError{Tier: tier, Err: f.err}
		outcome := metrics.TierError
		if perr.Timeout() {
			outcome = metrics.TierTimeout
		}
		e.metrics.RecordTier(int(tier), outcome, elapsed, 0)
		zap.L().Warn("discovery: tier contributed no candidates",
			zap.String("request_id", req.ID),
			zap.Int("tier", int(tier)),
			zap.Bool("timeout", perr.Timeout()),
			zap.Error(f.err),
		)
		return tierOutcome{tier: tier, err: perr}
	}

	out := make([]Candidate, 0, len(f.candidates))
	for _, c := range f.candidates {
		if c.ID == "" {
			continue
		}
		c.Tier = tier
		c.Score, c.MatchReasons = 0, nil
		out = append(out, c)
	}
	e.metrics.RecordTier(int(tier), metrics.TierOK, elapsed, len(out))
	return tierOutcome{tier: tier, candidates: out}
}

// merge concatenates outcomes in tier order and drops repeated ids, keeping
// the lowest-tier occurrence.
func merge(outcomes []tierOutcome) []Candidate {
	sort.SliceStable(outcomes, func(i, j int) bool { return outcomes[i].tier < outcomes[j].tier })

	seen := make(map[string]bool)
	var out []Candidate
	for _, o := range outcomes {
		for _, c := range o.candidates {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			out = append(out, c)
		}
	}
	return out
}

// rankLess orders by score desc, tier asc, completed jobs desc, then id.
func rankLess(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Tier != b.Tier {
		return a.Tier < b.Tier
	}
	if a.CompletedJobCount != b.CompletedJobCount {
		return a.CompletedJobCount > b.CompletedJobCount
	}
	return a.ID < b.ID
}
