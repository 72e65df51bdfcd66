package discovery

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contractor-match/internal/specialty"
)

// TierProvider is one candidate source. Providers filter by geography and
// specialty; they never score.
type TierProvider interface {
	Tier() Tier
	Find(ctx context.Context, req Request, postalSet, specialtySet map[string]bool) ([]Candidate, error)
}

// Default per-tier output caps.
const (
	DefaultTier1Cap      = 5
	DefaultTier2Cap      = 10
	DefaultTier2Cooldown = 30 * 24 * time.Hour
)

// StoreTier serves Tier 1 (verified pool) or Tier 2 (re-engagement pool)
// from a CandidateStore with a two-phase filter: a coarse store query, then
// postal and specialty membership in process.
type StoreTier struct {
	tier     Tier
	store    CandidateStore
	cap      int
	cooldown time.Duration
	now      func() time.Time
}

// StoreTierOption configures a StoreTier.
type StoreTierOption func(*StoreTier)

// WithCap limits how many candidates the tier returns. Zero means no cap.
func WithCap(n int) StoreTierOption {
	return func(t *StoreTier) { t.cap = n }
}

// WithCooldown skips providers contacted within d. Only Tier 2 applies it.
func WithCooldown(d time.Duration) StoreTierOption {
	return func(t *StoreTier) { t.cooldown = d }
}

// WithTierClock overrides the clock used for the cooldown cutoff.
func WithTierClock(now func() time.Time) StoreTierOption {
	return func(t *StoreTier) { t.now = now }
}

// NewStoreTier creates a store-backed provider for Tier1 or Tier2.
func NewStoreTier(tier Tier, store CandidateStore, opts ...StoreTierOption) (*StoreTier, error) {
	t := &StoreTier{tier: tier, store: store, now: time.Now}
	switch tier {
	case Tier1:
		t.cap = DefaultTier1Cap
	case Tier2:
		t.cap = DefaultTier2Cap
		t.cooldown = DefaultTier2Cooldown
	default:
		return nil, eris.Errorf("discovery: store tier must be 1 or 2, got %d", tier)
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Tier returns the tier served.
func (t *StoreTier) Tier() Tier { return t.tier }

func (t *StoreTier) pool() string {
	if t.tier == Tier1 {
		return PoolVerified
	}
	return PoolReengagement
}

// Find returns available providers in postalSet with at least one specialty
// in specialtySet, top-rated first, capped.
func (t *StoreTier) Find(ctx context.Context, req Request, postalSet, specialtySet map[string]bool) ([]Candidate, error) {
	f := CandidateFilter{Pool: t.pool(), Availability: AvailabilityAvailable}
	if budget, ok := req.Budget(); ok {
		f.MaxMinProjectSize = &budget
	}
	if t.tier == Tier2 && t.cooldown > 0 {
		cutoff := t.now().Add(-t.cooldown)
		f.ContactedBefore = &cutoff
	}

	records, err := t.store.QueryCandidates(ctx, f)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: tier %d query", t.tier)
	}

	var out []Candidate
	for _, r := range records {
		if !servesArea(r, postalSet) || !overlaps(r.Specialties, specialtySet) {
			continue
		}
		out = append(out, r.toCandidate(t.tier))
	}

	sortByRating(out)
	if t.cap > 0 && len(out) > t.cap {
		out = out[:t.cap]
	}
	return out, nil
}

func (r Record) toCandidate(tier Tier) Candidate {
	return Candidate{
		ID:                 r.ID,
		Name:               r.Name,
		Tier:               tier,
		PostalCode:         r.PostalCode,
		Specialties:        append([]string(nil), r.Specialties...),
		Rating:             r.Rating,
		CompletedJobCount:  r.CompletedJobCount,
		InsuranceVerified:  r.InsuranceVerified,
		LicenseVerified:    r.LicenseVerified,
		MinProjectSize:     r.MinProjectSize,
		MaxProjectSize:     r.MaxProjectSize,
		ServicePostalCodes: append([]string(nil), r.ServicePostalCodes...),
		Scale:              specialty.InferProviderScale(r.Specialties, r.ReviewCount, r.Name),
	}
}

// servesArea reports whether the provider's home postal code or any of its
// service codes is in the search set. An empty set matches nothing.
func servesArea(r Record, postalSet map[string]bool) bool {
	if postalSet[r.PostalCode] {
		return true
	}
	for _, pc := range r.ServicePostalCodes {
		if postalSet[pc] {
			return true
		}
	}
	return false
}

// overlaps reports whether any of tags is in want. An empty want matches all.
func overlaps(tags []string, want map[string]bool) bool {
	if len(want) == 0 {
		return true
	}
	for _, tag := range tags {
		if want[strings.ToLower(strings.TrimSpace(tag))] {
			return true
		}
	}
	return false
}

// sortByRating orders by raw rating desc, then completed jobs desc, then id.
func sortByRating(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		if a.CompletedJobCount != b.CompletedJobCount {
			return a.CompletedJobCount > b.CompletedJobCount
		}
		return a.ID < b.ID
	})
}

func toSet(vals []string) map[string]bool {
	set := make(map[string]bool, len(vals))
	for _, v := range vals {
		set[v] = true
	}
	return set
}
