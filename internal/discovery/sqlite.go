package discovery

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements CandidateStore and SelectionStore using
// modernc.org/sqlite, for single-node deployments and local runs. Arrays
// are stored as JSON text, timestamps as unix seconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS contractors (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL DEFAULT '',
	pool                 TEXT NOT NULL,
	postal_code          TEXT NOT NULL,
	service_postal_codes TEXT NOT NULL DEFAULT '[]',
	specialties          TEXT NOT NULL DEFAULT '[]',
	rating               REAL NOT NULL DEFAULT 0,
	review_count         INTEGER NOT NULL DEFAULT 0,
	completed_job_count  INTEGER NOT NULL DEFAULT 0,
	insurance_verified   INTEGER NOT NULL DEFAULT 0,
	license_verified     INTEGER NOT NULL DEFAULT 0,
	min_project_size     REAL NOT NULL DEFAULT 0,
	max_project_size     REAL,
	availability         TEXT NOT NULL DEFAULT 'available',
	last_contacted_at    INTEGER,
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS discovery_selections (
	request_id   TEXT NOT NULL,
	candidate_id TEXT NOT NULL,
	tier         INTEGER NOT NULL,
	rank         INTEGER NOT NULL,
	score        REAL NOT NULL,
	selected_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contractors_pool_availability ON contractors(pool, availability);
CREATE INDEX IF NOT EXISTS idx_discovery_selections_request ON discovery_selections(request_id);
`

// Migrate creates the provider and selection tables.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// QueryCandidates returns providers matching f, best rated first.
func (s *SQLiteStore) QueryCandidates(ctx context.Context, f CandidateFilter) ([]Record, error) {
	var conditions []string
	var args []any

	if f.Pool != "" {
		conditions = append(conditions, "pool = ?")
		args = append(args, f.Pool)
	}

	availability := f.Availability
	if availability == "" {
		availability = AvailabilityAvailable
	}
	conditions = append(conditions, "availability = ?")
	args = append(args, availability)

	if f.MaxMinProjectSize != nil {
		conditions = append(conditions, "min_project_size <= ?")
		args = append(args, *f.MaxMinProjectSize)
	}
	if f.ContactedBefore != nil {
		conditions = append(conditions, "(last_contacted_at IS NULL OR last_contacted_at < ?)")
		args = append(args, f.ContactedBefore.Unix())
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	args = append(args, limit)

	query := fmt.Sprintf(
		`SELECT %s FROM contractors WHERE %s ORDER BY rating DESC, completed_job_count DESC, id LIMIT ?`,
		recordColumns,
		strings.Join(conditions, " AND "),
	)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query candidates")
	}
	defer rows.Close() //nolint:errcheck

	var out []Record
	for rows.Next() {
		var (
			r                  Record
			services, tags     string
			maxSize            sql.NullFloat64
			lastContacted      sql.NullInt64
			insurance, license int
		)
		if err := rows.Scan(
			&r.ID, &r.Name, &r.Pool, &r.PostalCode, &services, &tags,
			&r.Rating, &r.ReviewCount, &r.CompletedJobCount, &insurance, &license,
			&r.MinProjectSize, &maxSize, &r.Availability, &lastContacted,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		if err := json.Unmarshal([]byte(services), &r.ServicePostalCodes); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode service postal codes for %s", r.ID)
		}
		if err := json.Unmarshal([]byte(tags), &r.Specialties); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode specialties for %s", r.ID)
		}
		r.InsuranceVerified = insurance != 0
		r.LicenseVerified = license != 0
		if maxSize.Valid {
			v := maxSize.Float64
			r.MaxProjectSize = &v
		}
		if lastContacted.Valid {
			t := time.Unix(lastContacted.Int64, 0).UTC()
			r.LastContactedAt = &t
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate candidates")
}

// UpsertCandidates inserts or replaces provider records in one transaction.
func (s *SQLiteStore) UpsertCandidates(ctx context.Context, records []Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range records {
		services, err := json.Marshal(nonNil(r.ServicePostalCodes))
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: encode service postal codes for %s", r.ID)
		}
		tags, err := json.Marshal(nonNil(r.Specialties))
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: encode specialties for %s", r.ID)
		}
		availability := r.Availability
		if availability == "" {
			availability = AvailabilityAvailable
		}
		var lastContacted any
		if r.LastContactedAt != nil {
			lastContacted = r.LastContactedAt.Unix()
		}
		var maxSize any
		if r.MaxProjectSize != nil {
			maxSize = *r.MaxProjectSize
		}

		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO contractors (`+recordColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Name, r.Pool, r.PostalCode, string(services), string(tags),
			r.Rating, r.ReviewCount, r.CompletedJobCount, boolInt(r.InsuranceVerified), boolInt(r.LicenseVerified),
			r.MinProjectSize, maxSize, availability, lastContacted,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert candidate %s", r.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert")
	}
	return int64(len(records)), nil
}

// SaveSelection records the selected candidates of res, one row each.
func (s *SQLiteStore) SaveSelection(ctx context.Context, res *Result) error {
	if res == nil || len(res.Selected) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save selection")
	}
	defer tx.Rollback() //nolint:errcheck

	for i, c := range res.Selected {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO discovery_selections (request_id, candidate_id, tier, rank, score, selected_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			res.RequestID, c.ID, int(c.Tier), i+1, c.Score, res.ComputedAt.Unix(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: save selection for %s", res.RequestID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit selection")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
