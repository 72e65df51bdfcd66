package discovery

import (
	"context"

	"github.com/mitchellh/mapstructure"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contractor-match/internal/resilience"
	"github.com/sells-group/contractor-match/internal/specialty"
)

// Acquirer is the external acquisition source behind Tier 3. It returns
// loosely shaped provider records.
type Acquirer interface {
	Acquire(ctx context.Context, category, postal string, radiusKM float64) ([]map[string]any, error)
}

// acquiredRecord is the adapter-boundary shape of one Tier 3 record.
type acquiredRecord struct {
	ID                 string   `mapstructure:"id"`
	Name               string   `mapstructure:"name"`
	PostalCode         string   `mapstructure:"postal_code"`
	ServicePostalCodes []string `mapstructure:"service_postal_codes"`
	Specialties        []string `mapstructure:"specialties"`
	Categories         []string `mapstructure:"categories"`
	Rating             float64  `mapstructure:"rating"`
	ReviewCount        int      `mapstructure:"review_count"`
	CompletedJobCount  int      `mapstructure:"completed_job_count"`
	InsuranceVerified  bool     `mapstructure:"insurance_verified"`
	LicenseVerified    bool     `mapstructure:"license_verified"`
	MinProjectSize     float64  `mapstructure:"min_project_size"`
	MaxProjectSize     *float64 `mapstructure:"max_project_size"`
}

// AcquisitionTier adapts an Acquirer into the Tier 3 provider. Calls go
// through a circuit breaker so a failing source is skipped quickly.
type AcquisitionTier struct {
	acquirer    Acquirer
	breaker     *resilience.Breaker
	normalizer  Normalizer
	radiusKM    float64
	emergencyKM float64
}

// AcquisitionOption configures an AcquisitionTier.
type AcquisitionOption func(*AcquisitionTier)

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *resilience.Breaker) AcquisitionOption {
	return func(t *AcquisitionTier) { t.breaker = b }
}

// WithAcquisitionNormalizer maps the source's raw categories onto canonical
// specialty tags.
func WithAcquisitionNormalizer(n Normalizer) AcquisitionOption {
	return func(t *AcquisitionTier) { t.normalizer = n }
}

// WithAcquisitionRadii sets the search radius passed to the source for normal
// and emergency requests. It should match the engine's WithRadii.
func WithAcquisitionRadii(defaultKM, emergencyKM float64) AcquisitionOption {
	return func(t *AcquisitionTier) {
		if defaultKM > 0 {
			t.radiusKM = defaultKM
		}
		if emergencyKM > 0 {
			t.emergencyKM = emergencyKM
		}
	}
}

// NewAcquisitionTier creates the Tier 3 provider.
func NewAcquisitionTier(a Acquirer, opts ...AcquisitionOption) *AcquisitionTier {
	t := &AcquisitionTier{acquirer: a, radiusKM: DefaultRadiusKM, emergencyKM: DefaultEmergencyRadiusKM}
	for _, o := range opts {
		o(t)
	}
	if t.breaker == nil {
		t.breaker = resilience.NewBreaker(resilience.DefaultBreakerConfig())
	}
	return t
}

// Tier returns Tier3.
func (t *AcquisitionTier) Tier() Tier { return Tier3 }

// Find queries the source and maps each record into a Candidate. Records
// without an id are dropped. Records outside specialtySet are dropped when
// they carry any specialty information.
func (t *AcquisitionTier) Find(ctx context.Context, req Request, _ map[string]bool, specialtySet map[string]bool) ([]Candidate, error) {
	radius := t.radiusKM
	if req.Urgency == UrgencyEmergency {
		radius = t.emergencyKM
	}
	raw, err := resilience.Call(ctx, t.breaker, func(ctx context.Context) ([]map[string]any, error) {
		return t.acquirer.Acquire(ctx, req.ProjectCategory, req.PostalCode, radius)
	})
	if err != nil {
		return nil, eris.Wrap(err, "discovery: acquire")
	}

	log := zap.L().With(zap.String("request_id", req.ID), zap.Int("tier", int(Tier3)))

	var out []Candidate
	for i, m := range raw {
		rec, err := decodeAcquired(m)
		if err != nil {
			log.Warn("discovery: skipping undecodable acquired record", zap.Int("index", i), zap.Error(err))
			continue
		}
		if rec.ID == "" {
			log.Debug("discovery: skipping acquired record without id", zap.Int("index", i))
			continue
		}

		rawTags := append(append([]string(nil), rec.Specialties...), rec.Categories...)
		tags := rawTags
		if t.normalizer != nil && len(rawTags) > 0 {
			tags = t.normalizer.Normalize(rawTags, req.ProjectCategory)
		}
		if len(rawTags) > 0 && !overlaps(tags, specialtySet) {
			continue
		}

		out = append(out, Candidate{
			ID:                 rec.ID,
			Name:               rec.Name,
			Tier:               Tier3,
			PostalCode:         rec.PostalCode,
			Specialties:        tags,
			Rating:             rec.Rating,
			CompletedJobCount:  rec.CompletedJobCount,
			InsuranceVerified:  rec.InsuranceVerified,
			LicenseVerified:    rec.LicenseVerified,
			MinProjectSize:     rec.MinProjectSize,
			MaxProjectSize:     rec.MaxProjectSize,
			ServicePostalCodes: rec.ServicePostalCodes,
			Scale:              specialty.InferProviderScale(rawTags, rec.ReviewCount, rec.Name),
		})
	}
	return out, nil
}

func decodeAcquired(m map[string]any) (acquiredRecord, error) {
	var rec acquiredRecord
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &rec,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return rec, eris.Wrap(err, "discovery: build decoder")
	}
	if err := dec.Decode(m); err != nil {
		return rec, eris.Wrap(err, "discovery: decode acquired record")
	}
	return rec, nil
}
