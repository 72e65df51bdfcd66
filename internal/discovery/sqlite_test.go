package discovery

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_UpsertAndQuery(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	big := verified("big", 4.8, "78701", "kitchen_remodel", "cabinetry")
	big.MinProjectSize = 50000
	big.MaxProjectSize = ptr(250000)
	big.InsuranceVerified = true

	small := verified("small", 4.1, "78702", "kitchen_remodel")
	small.ServicePostalCodes = []string{"78701", "78703"}
	small.MinProjectSize = 2000

	busy := verified("busy", 4.9, "78701", "kitchen_remodel")
	busy.Availability = "booked"

	n, err := st.UpsertCandidates(ctx, []Record{big, small, busy})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	all, err := st.QueryCandidates(ctx, CandidateFilter{Pool: PoolVerified})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "big", all[0].ID)
	assert.Equal(t, []string{"kitchen_remodel", "cabinetry"}, all[0].Specialties)
	assert.True(t, all[0].InsuranceVerified)
	require.NotNil(t, all[0].MaxProjectSize)
	assert.Equal(t, 250000.0, *all[0].MaxProjectSize)
	assert.Nil(t, all[1].MaxProjectSize)
	assert.Equal(t, []string{"78701", "78703"}, all[1].ServicePostalCodes)

	budget := 20000.0
	fits, err := st.QueryCandidates(ctx, CandidateFilter{Pool: PoolVerified, MaxMinProjectSize: &budget})
	require.NoError(t, err)
	require.Len(t, fits, 1)
	assert.Equal(t, "small", fits[0].ID)
}

func TestSQLite_UpsertReplaces(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	r := verified("a", 3.0, "78701", "painting")
	_, err := st.UpsertCandidates(ctx, []Record{r})
	require.NoError(t, err)

	r.Rating = 4.4
	r.Specialties = []string{"painting", "drywall"}
	_, err = st.UpsertCandidates(ctx, []Record{r})
	require.NoError(t, err)

	got, err := st.QueryCandidates(ctx, CandidateFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 4.4, got[0].Rating)
	assert.Equal(t, []string{"painting", "drywall"}, got[0].Specialties)
}

func TestSQLite_Cooldown(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	recent := verified("recent", 4.0, "78701", "hvac")
	recent.Pool = PoolReengagement
	lastWeek := now.Add(-7 * 24 * time.Hour)
	recent.LastContactedAt = &lastWeek

	stale := verified("stale", 4.0, "78701", "hvac")
	stale.Pool = PoolReengagement
	lastYear := now.AddDate(-1, 0, 0)
	stale.LastContactedAt = &lastYear

	never := verified("never", 4.0, "78701", "hvac")
	never.Pool = PoolReengagement

	_, err := st.UpsertCandidates(ctx, []Record{recent, stale, never})
	require.NoError(t, err)

	cutoff := now.Add(-30 * 24 * time.Hour)
	got, err := st.QueryCandidates(ctx, CandidateFilter{Pool: PoolReengagement, ContactedBefore: &cutoff})
	require.NoError(t, err)

	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"stale", "never"}, ids)
	for _, r := range got {
		if r.ID == "stale" {
			require.NotNil(t, r.LastContactedAt)
			assert.True(t, lastYear.Equal(*r.LastContactedAt))
		}
	}
}

func TestSQLite_StoreTierEndToEnd(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertCandidates(ctx, []Record{
		verified("in", 4.6, "78701", "plumbing"),
		verified("out", 4.9, "90210", "plumbing"),
	})
	require.NoError(t, err)

	tier, err := NewStoreTier(Tier1, st)
	require.NoError(t, err)
	got, err := tier.Find(ctx, Request{}, toSet([]string{"78701"}), toSet([]string{"plumbing"}))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "in", got[0].ID)
}

func TestSQLite_SaveSelection(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	res := &Result{
		RequestID:  "bid-7",
		Selected:   []Candidate{{ID: "a", Tier: Tier1, Score: 88}, {ID: "b", Tier: Tier2, Score: 80}},
		ComputedAt: time.Now(),
	}
	require.NoError(t, st.SaveSelection(ctx, res))
	require.NoError(t, st.SaveSelection(ctx, &Result{RequestID: "empty"}))

	var n int
	require.NoError(t, st.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM discovery_selections WHERE request_id = ?`, "bid-7",
	).Scan(&n))
	assert.Equal(t, 2, n)

	var rank int
	require.NoError(t, st.db.QueryRowContext(ctx,
		`SELECT rank FROM discovery_selections WHERE request_id = ? AND candidate_id = ?`, "bid-7", "b",
	).Scan(&rank))
	assert.Equal(t, 2, rank)
}
