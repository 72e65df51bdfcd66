package discovery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// mockProvider implements TierProvider for testing.
type mockProvider struct {
	tier       Tier
	candidates []Candidate
	err        error
	delay      time.Duration
	calls      atomic.Int32
}

func (m *mockProvider) Tier() Tier { return m.tier }

func (m *mockProvider) Find(ctx context.Context, _ Request, _, _ map[string]bool) ([]Candidate, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	out := make([]Candidate, len(m.candidates))
	copy(out, m.candidates)
	return out, nil
}

// mockStore implements CandidateStore for testing.
type mockStore struct {
	mu      sync.Mutex
	records []Record
	err     error
	filters []CandidateFilter
}

func (m *mockStore) QueryCandidates(_ context.Context, f CandidateFilter) ([]Record, error) {
	m.mu.Lock()
	m.filters = append(m.filters, f)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []Record
	for _, r := range m.records {
		if f.Pool != "" && r.Pool != f.Pool {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// mockExpander implements PostalExpander for testing.
type mockExpander struct {
	codes []string
	err   error
	calls atomic.Int32
	radii []float64
	mu    sync.Mutex
}

func (m *mockExpander) Expand(_ context.Context, center string, radiusKM float64) ([]string, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.radii = append(m.radii, radiusKM)
	m.mu.Unlock()
	if m.err != nil {
		return []string{center}, m.err
	}
	if len(m.codes) == 0 {
		return []string{center}, nil
	}
	return append([]string(nil), m.codes...), nil
}

// mockAcquirer implements Acquirer for testing.
type mockAcquirer struct {
	records []map[string]any
	err     error
	calls   atomic.Int32
	mu      sync.Mutex
	radii   []float64
}

func (m *mockAcquirer) Acquire(_ context.Context, _, _ string, radiusKM float64) ([]map[string]any, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.radii = append(m.radii, radiusKM)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.records, nil
}

func fixedClock() func() time.Time {
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func ptr(v float64) *float64 { return &v }

func kitchenRequest() Request {
	return Request{
		ID:               "bid-1",
		ProjectCategory:  "kitchen",
		PostalCode:       "78701",
		BudgetMax:        ptr(20000),
		CandidatesNeeded: 5,
		Urgency:          UrgencyMonth,
	}
}
