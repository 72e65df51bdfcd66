package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recordColumnNames = []string{
	"id", "name", "pool", "postal_code", "service_postal_codes", "specialties",
	"rating", "review_count", "completed_job_count", "insurance_verified", "license_verified",
	"min_project_size", "max_project_size", "availability", "last_contacted_at",
}

func TestPostgresStore_QueryCandidates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)
	contacted := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)SELECT .+ FROM contractors WHERE pool = \$1 AND availability = \$2 AND min_project_size <= \$3 ORDER BY rating DESC`).
		WithArgs(PoolVerified, AvailabilityAvailable, 20000.0, defaultQueryLimit).
		WillReturnRows(pgxmock.NewRows(recordColumnNames).AddRow(
			"c1", "Austin Cabinet Co", PoolVerified, "78701", []string{"78702"}, []string{"cabinetry"},
			4.7, 120, 64, true, false,
			5000.0, ptr(80000), AvailabilityAvailable, &contacted,
		))

	budget := 20000.0
	got, err := store.QueryCandidates(context.Background(), CandidateFilter{
		Pool:              PoolVerified,
		MaxMinProjectSize: &budget,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)

	r := got[0]
	assert.Equal(t, "c1", r.ID)
	assert.Equal(t, []string{"78702"}, r.ServicePostalCodes)
	assert.Equal(t, []string{"cabinetry"}, r.Specialties)
	assert.Equal(t, 64, r.CompletedJobCount)
	assert.True(t, r.InsuranceVerified)
	require.NotNil(t, r.MaxProjectSize)
	assert.Equal(t, 80000.0, *r.MaxProjectSize)
	require.NotNil(t, r.LastContactedAt)
	assert.True(t, contacted.Equal(*r.LastContactedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_QueryCandidates_Cooldown(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock)
	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`WHERE pool = \$1 AND availability = \$2 AND \(last_contacted_at IS NULL OR last_contacted_at < \$3\) .+ LIMIT \$4`).
		WithArgs(PoolReengagement, "paused", cutoff, 25).
		WillReturnRows(pgxmock.NewRows(recordColumnNames))

	got, err := store.QueryCandidates(context.Background(), CandidateFilter{
		Pool:            PoolReengagement,
		Availability:    "paused",
		ContactedBefore: &cutoff,
		Limit:           25,
	})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_QueryCandidates_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT`).WillReturnError(errors.New("connection refused"))

	_, err = NewPostgresStore(mock).QueryCandidates(context.Background(), CandidateFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discovery: query candidates")
}

func TestPostgresStore_UpsertCandidates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO contractors`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO contractors`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := NewPostgresStore(mock).UpsertCandidates(context.Background(), []Record{
		verified("a", 4.2, "78701", "plumbing"),
		verified("b", 3.9, "78702", "hvac"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertCandidates_RollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO contractors`).WillReturnError(errors.New("constraint"))
	mock.ExpectRollback()

	_, err = NewPostgresStore(mock).UpsertCandidates(context.Background(), []Record{verified("a", 4.2, "78701")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert candidate a")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertCandidates_Empty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	n, err := NewPostgresStore(mock).UpsertCandidates(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveSelection(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"discovery_selections"}, selectionColumns).WillReturnResult(2)

	err = NewPostgresStore(mock).SaveSelection(context.Background(), &Result{
		RequestID:  "bid-1",
		Selected:   []Candidate{{ID: "a", Tier: Tier1, Score: 90}, {ID: "b", Tier: Tier3, Score: 70}},
		ComputedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveSelection_Empty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	require.NoError(t, NewPostgresStore(mock).SaveSelection(context.Background(), &Result{RequestID: "x"}))
	require.NoError(t, NewPostgresStore(mock).SaveSelection(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS contractors`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_contractors_pool_availability`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS discovery_selections`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_discovery_selections_request`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, NewPostgresStore(mock).Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
