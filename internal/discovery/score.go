package discovery

import (
	"fmt"
	"math"
	"sort"

	"github.com/sells-group/contractor-match/internal/config"
)

const (
	maxScore  = 100.0
	maxRating = 5.0
)

// DefaultScoring returns the starting weights for the scorer. They are
// heuristics and are expected to be tuned through configuration.
func DefaultScoring() config.ScoringConfig {
	return config.ScoringConfig{
		RatingMultiplier:   20,
		ExperienceTiers:    config.DefaultExperienceTiers(),
		InsuranceBonus:     10,
		LicenseBonus:       5,
		SizeFitBonus:       15,
		TooSmallPenalty:    10,
		TooLargePenalty:    5,
		TooLargeMultiplier: 1.5,
		Tier1Weight:        10,
		Tier2Weight:        5,
		Tier3Weight:        0,
	}
}

// Scorer computes a 0-100 match score for one candidate against one request.
// It is pure and safe for concurrent use.
type Scorer struct {
	cfg        config.ScoringConfig
	experience []config.ExperienceTier
}

// NewScorer creates a Scorer from cfg. Experience tiers are evaluated from
// the highest job threshold down; the first one exceeded applies.
func NewScorer(cfg config.ScoringConfig) *Scorer {
	tiers := cfg.ExperienceTiers
	if len(tiers) == 0 {
		tiers = config.DefaultExperienceTiers()
	}
	tiers = append([]config.ExperienceTier(nil), tiers...)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].MinJobs > tiers[j].MinJobs })
	return &Scorer{cfg: cfg, experience: tiers}
}

type term struct {
	impact float64
	reason string
}

// Score returns the clamped score and one reason per applied term, ordered
// by descending impact. Penalties sort last.
func (s *Scorer) Score(c Candidate, req Request) (float64, []string) {
	var terms []term
	add := func(impact float64, reason string) {
		if impact != 0 {
			terms = append(terms, term{impact: impact, reason: reason})
		}
	}

	rating := math.Max(0, math.Min(c.Rating, maxRating))
	add(rating*s.cfg.RatingMultiplier, ratingReason(rating))

	for _, et := range s.experience {
		if c.CompletedJobCount > et.MinJobs {
			add(et.Bonus, fmt.Sprintf("Over %d completed jobs", et.MinJobs))
			break
		}
	}

	if c.InsuranceVerified {
		add(s.cfg.InsuranceBonus, "Insurance verified")
	}
	if c.LicenseVerified {
		add(s.cfg.LicenseBonus, "License verified")
	}

	if budget, ok := req.Budget(); ok {
		switch {
		case budget < c.MinProjectSize:
			add(-s.cfg.TooSmallPenalty, fmt.Sprintf("Project below provider minimum ($%.0f)", c.MinProjectSize))
		case c.MaxProjectSize != nil && budget > *c.MaxProjectSize*s.cfg.TooLargeMultiplier:
			add(-s.cfg.TooLargePenalty, fmt.Sprintf("Project well above provider's typical size ($%.0f)", *c.MaxProjectSize))
		case c.MaxProjectSize == nil || budget <= *c.MaxProjectSize:
			add(s.cfg.SizeFitBonus, "Project size fits provider range")
		}
	}

	switch c.Tier {
	case Tier1:
		add(s.cfg.Tier1Weight, "Verified network provider")
	case Tier2:
		add(s.cfg.Tier2Weight, "Previously engaged provider")
	case Tier3:
		add(s.cfg.Tier3Weight, "Newly sourced provider")
	}

	var sum float64
	for _, t := range terms {
		sum += t.impact
	}

	sort.SliceStable(terms, func(i, j int) bool { return terms[i].impact > terms[j].impact })
	reasons := make([]string, len(terms))
	for i, t := range terms {
		reasons[i] = t.reason
	}
	return clampScore(sum), reasons
}

func ratingReason(r float64) string {
	switch {
	case r >= 4.8:
		return "Excellent rating (4.8+)"
	case r >= 4.5:
		return "Great rating (4.5+)"
	case r >= 4.0:
		return "Good rating (4.0+)"
	}
	return fmt.Sprintf("Rated %.1f", r)
}

// clampScore bounds v to [0, 100] and rounds to two decimals.
func clampScore(v float64) float64 {
	v = math.Max(0, math.Min(v, maxScore))
	return math.Round(v*100) / 100
}
