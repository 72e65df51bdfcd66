package geo

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Dataset is the read contract over the postal-code reference data.
type Dataset interface {
	// Lookup returns the centroid for postal, or ErrNotFound.
	Lookup(ctx context.Context, postal string) (Point, error)
	// All returns every postal code with its centroid.
	All(ctx context.Context) (map[string]Point, error)
}

// RadiusQuerier is implemented by datasets that can answer radius queries
// natively (for example with a spatial index).
type RadiusQuerier interface {
	WithinRadius(ctx context.Context, center Point, radiusKM float64) ([]string, error)
}

// MemoryDataset is an in-process Dataset loaded from a reference file.
type MemoryDataset struct {
	mu     sync.RWMutex
	points map[string]Point
}

// NewMemoryDataset creates a dataset from a postal → centroid map.
func NewMemoryDataset(points map[string]Point) *MemoryDataset {
	m := &MemoryDataset{points: make(map[string]Point, len(points))}
	for k, p := range points {
		m.points[normalizePostal(k)] = p
	}
	return m
}

// Add inserts or replaces a postal code centroid.
func (m *MemoryDataset) Add(postal string, p Point) {
	m.mu.Lock()
	m.points[normalizePostal(postal)] = p
	m.mu.Unlock()
}

// Len returns the number of postal codes loaded.
func (m *MemoryDataset) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

// Lookup implements Dataset.
func (m *MemoryDataset) Lookup(_ context.Context, postal string) (Point, error) {
	m.mu.RLock()
	p, ok := m.points[normalizePostal(postal)]
	m.mu.RUnlock()
	if !ok {
		return Point{}, ErrNotFound
	}
	return p, nil
}

// All implements Dataset. The returned map is a copy.
func (m *MemoryDataset) All(_ context.Context) (map[string]Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Point, len(m.points))
	for k, v := range m.points {
		out[k] = v
	}
	return out, nil
}

// WithinRadius implements RadiusQuerier with a linear haversine scan.
// Results are sorted by distance, then postal code.
func (m *MemoryDataset) WithinRadius(_ context.Context, center Point, radiusKM float64) ([]string, error) {
	type hit struct {
		postal string
		dist   float64
	}

	m.mu.RLock()
	var hits []hit
	for postal, p := range m.points {
		if d := HaversineKM(center, p); d <= radiusKM {
			hits = append(hits, hit{postal, d})
		}
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].postal < hits[j].postal
	})

	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.postal
	}
	return out, nil
}

// normalizePostal trims whitespace and ZIP+4 suffixes.
func normalizePostal(postal string) string {
	postal = strings.TrimSpace(postal)
	if i := strings.IndexByte(postal, '-'); i > 0 {
		postal = postal[:i]
	}
	return postal
}
