package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contractor-match/internal/db"
)

// Candidate pools held in the provider store.
const (
	PoolVerified     = "verified"
	PoolReengagement = "reengagement"
)

// AvailabilityAvailable marks a provider currently taking work.
const AvailabilityAvailable = "available"

const defaultQueryLimit = 500

// Record is a provider row as stored. Tiers map records into Candidates.
type Record struct {
	ID                 string     `json:"id" db:"id"`
	Name               string     `json:"name" db:"name"`
	Pool               string     `json:"pool" db:"pool"`
	PostalCode         string     `json:"postal_code" db:"postal_code"`
	ServicePostalCodes []string   `json:"service_postal_codes" db:"service_postal_codes"`
	Specialties        []string   `json:"specialties" db:"specialties"`
	Rating             float64    `json:"rating" db:"rating"`
	ReviewCount        int        `json:"review_count" db:"review_count"`
	CompletedJobCount  int        `json:"completed_job_count" db:"completed_job_count"`
	InsuranceVerified  bool       `json:"insurance_verified" db:"insurance_verified"`
	LicenseVerified    bool       `json:"license_verified" db:"license_verified"`
	MinProjectSize     float64    `json:"min_project_size" db:"min_project_size"`
	MaxProjectSize     *float64   `json:"max_project_size,omitempty" db:"max_project_size"`
	Availability       string     `json:"availability" db:"availability"`
	LastContactedAt    *time.Time `json:"last_contacted_at,omitempty" db:"last_contacted_at"`
}

// CandidateFilter is the coarse, store-side filter. Geography and specialty
// are applied in process because the store cannot index them together.
type CandidateFilter struct {
	Pool         string
	Availability string // defaults to "available"
	// MaxMinProjectSize keeps providers whose minimum project size does not
	// exceed the request budget.
	MaxMinProjectSize *float64
	// ContactedBefore keeps providers not contacted since this instant.
	ContactedBefore *time.Time
	Limit           int
}

// CandidateStore is the read contract consumed by the store-backed tiers.
type CandidateStore interface {
	QueryCandidates(ctx context.Context, f CandidateFilter) ([]Record, error)
}

// SelectionStore persists the outcome of a discovery for the outreach side.
type SelectionStore interface {
	SaveSelection(ctx context.Context, res *Result) error
}

// PostgresStore implements CandidateStore and SelectionStore using pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const recordColumns = `id, name, pool, postal_code, service_postal_codes, specialties,
	rating, review_count, completed_job_count, insurance_verified, license_verified,
	min_project_size, max_project_size, availability, last_contacted_at`

// QueryCandidates returns providers matching f, best rated first.
func (s *PostgresStore) QueryCandidates(ctx context.Context, f CandidateFilter) ([]Record, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if f.Pool != "" {
		conditions = append(conditions, fmt.Sprintf("pool = $%d", argIdx))
		args = append(args, f.Pool)
		argIdx++
	}

	availability := f.Availability
	if availability == "" {
		availability = AvailabilityAvailable
	}
	conditions = append(conditions, fmt.Sprintf("availability = $%d", argIdx))
	args = append(args, availability)
	argIdx++

	if f.MaxMinProjectSize != nil {
		conditions = append(conditions, fmt.Sprintf("min_project_size <= $%d", argIdx))
		args = append(args, *f.MaxMinProjectSize)
		argIdx++
	}

	if f.ContactedBefore != nil {
		conditions = append(conditions, fmt.Sprintf("(last_contacted_at IS NULL OR last_contacted_at < $%d)", argIdx))
		args = append(args, *f.ContactedBefore)
		argIdx++
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	query := fmt.Sprintf(
		`SELECT %s FROM contractors WHERE %s ORDER BY rating DESC, completed_job_count DESC, id LIMIT $%d`,
		recordColumns,
		strings.Join(conditions, " AND "),
		argIdx,
	)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: query candidates")
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(
			&r.ID, &r.Name, &r.Pool, &r.PostalCode, &r.ServicePostalCodes, &r.Specialties,
			&r.Rating, &r.ReviewCount, &r.CompletedJobCount, &r.InsuranceVerified, &r.LicenseVerified,
			&r.MinProjectSize, &r.MaxProjectSize, &r.Availability, &r.LastContactedAt,
		); err != nil {
			return nil, eris.Wrap(err, "discovery: scan candidate")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "discovery: iterate candidates")
}

// UpsertCandidates inserts or replaces provider records in one transaction.
func (s *PostgresStore) UpsertCandidates(ctx context.Context, records []Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "discovery: begin upsert")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, r := range records {
		availability := r.Availability
		if availability == "" {
			availability = AvailabilityAvailable
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO contractors (`+recordColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				pool = EXCLUDED.pool,
				postal_code = EXCLUDED.postal_code,
				service_postal_codes = EXCLUDED.service_postal_codes,
				specialties = EXCLUDED.specialties,
				rating = EXCLUDED.rating,
				review_count = EXCLUDED.review_count,
				completed_job_count = EXCLUDED.completed_job_count,
				insurance_verified = EXCLUDED.insurance_verified,
				license_verified = EXCLUDED.license_verified,
				min_project_size = EXCLUDED.min_project_size,
				max_project_size = EXCLUDED.max_project_size,
				availability = EXCLUDED.availability,
				last_contacted_at = EXCLUDED.last_contacted_at,
				updated_at = now()`,
			r.ID, r.Name, r.Pool, r.PostalCode, r.ServicePostalCodes, r.Specialties,
			r.Rating, r.ReviewCount, r.CompletedJobCount, r.InsuranceVerified, r.LicenseVerified,
			r.MinProjectSize, r.MaxProjectSize, availability, r.LastContactedAt,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "discovery: upsert candidate %s", r.ID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "discovery: commit upsert")
	}
	return int64(len(records)), nil
}

var selectionColumns = []string{"request_id", "candidate_id", "tier", "rank", "score", "selected_at"}

// SaveSelection records the selected candidates of res, one row each.
func (s *PostgresStore) SaveSelection(ctx context.Context, res *Result) error {
	if res == nil || len(res.Selected) == 0 {
		return nil
	}

	rows := make([][]any, len(res.Selected))
	for i, c := range res.Selected {
		rows[i] = []any{res.RequestID, c.ID, int(c.Tier), i + 1, c.Score, res.ComputedAt}
	}

	n, err := db.CopyFrom(ctx, s.pool, "discovery_selections", selectionColumns, rows)
	if err != nil {
		return eris.Wrapf(err, "discovery: save selection for %s", res.RequestID)
	}
	zap.L().Debug("discovery: saved selection",
		zap.String("request_id", res.RequestID),
		zap.Int64("rows", n),
	)
	return nil
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS contractors (
		id                   TEXT PRIMARY KEY,
		name                 TEXT NOT NULL DEFAULT '',
		pool                 TEXT NOT NULL,
		postal_code          TEXT NOT NULL,
		service_postal_codes TEXT[] NOT NULL DEFAULT '{}',
		specialties          TEXT[] NOT NULL DEFAULT '{}',
		rating               DOUBLE PRECISION NOT NULL DEFAULT 0,
		review_count         INTEGER NOT NULL DEFAULT 0,
		completed_job_count  INTEGER NOT NULL DEFAULT 0,
		insurance_verified   BOOLEAN NOT NULL DEFAULT false,
		license_verified     BOOLEAN NOT NULL DEFAULT false,
		min_project_size     DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_project_size     DOUBLE PRECISION,
		availability         TEXT NOT NULL DEFAULT 'available',
		last_contacted_at    TIMESTAMPTZ,
		updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_contractors_pool_availability ON contractors (pool, availability)`,
	`CREATE TABLE IF NOT EXISTS discovery_selections (
		request_id   TEXT NOT NULL,
		candidate_id TEXT NOT NULL,
		tier         SMALLINT NOT NULL,
		rank         INTEGER NOT NULL,
		score        DOUBLE PRECISION NOT NULL,
		selected_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_discovery_selections_request ON discovery_selections (request_id)`,
}

// Migrate creates the provider and selection tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range postgresMigrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "discovery: migrate")
		}
	}
	return nil
}
