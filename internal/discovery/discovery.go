// Package discovery finds, scores and ranks service-provider candidates for a
// single service request across three priority-ordered candidate tiers.
package discovery

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/contractor-match/internal/specialty"
)

// Tier is a priority-ordered candidate source. Lower tiers are trusted more.
type Tier int

// Candidate tiers.
const (
	Tier1 Tier = 1 // verified, onboarded providers
	Tier2 Tier = 2 // previously contacted, eligible for re-engagement
	Tier3 Tier = 3 // external acquisition
)

// Tiers lists every tier in priority order.
var Tiers = []Tier{Tier1, Tier2, Tier3}

// Key returns the tier's breakdown key, e.g. "tier_1".
func (t Tier) Key() string { return "tier_" + strconv.Itoa(int(t)) }

// Valid reports whether t is one of the three known tiers.
func (t Tier) Valid() bool { return t >= Tier1 && t <= Tier3 }

// Urgency is how soon the requester needs the work done.
type Urgency string

// Request urgencies. An empty urgency is treated as flexible.
const (
	UrgencyEmergency Urgency = "emergency"
	UrgencyWeek      Urgency = "week"
	UrgencyMonth     Urgency = "month"
	UrgencyFlexible  Urgency = "flexible"
)

func (u Urgency) valid() bool {
	switch u {
	case "", UrgencyEmergency, UrgencyWeek, UrgencyMonth, UrgencyFlexible:
		return true
	}
	return false
}

// Request is a bid card: one project submitted for candidate discovery.
// It is read-only to the engine.
type Request struct {
	ID               string   `json:"id"`
	ProjectCategory  string   `json:"project_category"`
	ProjectTags      []string `json:"project_tags,omitempty"`
	PostalCode       string   `json:"postal_code"`
	BudgetMin        *float64 `json:"budget_min,omitempty"`
	BudgetMax        *float64 `json:"budget_max,omitempty"`
	CandidatesNeeded int      `json:"candidates_needed"`
	Urgency          Urgency  `json:"urgency,omitempty"`
}

// Budget returns the amount used for project-size matching: budget_max,
// falling back to budget_min. ok is false when neither is set.
func (r Request) Budget() (amount float64, ok bool) {
	switch {
	case r.BudgetMax != nil:
		return *r.BudgetMax, true
	case r.BudgetMin != nil:
		return *r.BudgetMin, true
	}
	return 0, false
}

// Validate checks the request before any tier work is done.
func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.ID) == "":
		return &InvalidRequestError{Field: "id", Reason: "is required"}
	case strings.TrimSpace(r.ProjectCategory) == "":
		return &InvalidRequestError{Field: "project_category", Reason: "is required"}
	case strings.TrimSpace(r.PostalCode) == "":
		return &InvalidRequestError{Field: "postal_code", Reason: "is required"}
	case r.CandidatesNeeded <= 0:
		return &InvalidRequestError{Field: "candidates_needed", Reason: "must be greater than zero"}
	case r.BudgetMin != nil && *r.BudgetMin < 0:
		return &InvalidRequestError{Field: "budget_min", Reason: "must not be negative"}
	case r.BudgetMax != nil && *r.BudgetMax < 0:
		return &InvalidRequestError{Field: "budget_max", Reason: "must not be negative"}
	case r.BudgetMin != nil && r.BudgetMax != nil && *r.BudgetMin > *r.BudgetMax:
		return &InvalidRequestError{Field: "budget_min", Reason: "must not exceed budget_max"}
	case !r.Urgency.valid():
		return &InvalidRequestError{Field: "urgency", Reason: "must be one of emergency, week, month, flexible"}
	}
	return nil
}

// Candidate is one service provider as seen by one tier, projected for a
// single request. Providers fill everything except Score and MatchReasons.
type Candidate struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name,omitempty"`
	Tier               Tier            `json:"tier"`
	PostalCode         string          `json:"postal_code,omitempty"`
	Specialties        []string        `json:"specialties"`
	Rating             float64         `json:"rating"`
	CompletedJobCount  int             `json:"completed_job_count"`
	InsuranceVerified  bool            `json:"insurance_verified"`
	LicenseVerified    bool            `json:"license_verified"`
	MinProjectSize     float64         `json:"min_project_size"`
	MaxProjectSize     *float64        `json:"max_project_size,omitempty"`
	ServicePostalCodes []string        `json:"service_postal_codes,omitempty"`
	Scale              specialty.Scale `json:"scale,omitempty"`
	Score              float64         `json:"score"`
	MatchReasons       []string        `json:"match_reasons"`
}

// Result is the outcome of one discovery call.
type Result struct {
	RequestID           string         `json:"request_id"`
	Selected            []Candidate    `json:"selected"`
	TierBreakdown       map[string]int `json:"tier_breakdown"`
	TotalConsidered     int            `json:"total_considered"`
	ProcessingDuration  time.Duration  `json:"-"`
	PostalCodesSearched []string       `json:"postal_codes_searched"`
	Specialties         []string       `json:"specialties"`
	GeoDegraded         bool           `json:"geo_degraded,omitempty"`
	ComputedAt          time.Time      `json:"computed_at"`
}

// MarshalJSON renders ProcessingDuration as whole milliseconds.
func (r Result) MarshalJSON() ([]byte, error) {
	type alias Result
	return json.Marshal(struct {
		alias
		ProcessingDurationMs int64 `json:"processing_duration_ms"`
	}{alias(r), r.ProcessingDuration.Milliseconds()})
}

// Stage is a step of the discovery state machine.
type Stage string

// Discovery stages in execution order. StageFailed is terminal.
const (
	StagePending     Stage = "pending"
	StageGeoResolved Stage = "geo_resolved"
	StageTierScan    Stage = "tier_scan"
	StageMerged      Stage = "merged"
	StageRanked      Stage = "ranked"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)
