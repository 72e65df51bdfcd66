package geo

import (
	"context"
	"sync"
)

// countingDataset wraps a MemoryDataset and records calls.
type countingDataset struct {
	inner *MemoryDataset

	mu        sync.Mutex
	lookups   int
	allCalls  int
	lookupErr error
	allErr    error
}

func newCountingDataset(points map[string]Point) *countingDataset {
	return &countingDataset{inner: NewMemoryDataset(points)}
}

func (d *countingDataset) Lookup(ctx context.Context, postal string) (Point, error) {
	d.mu.Lock()
	d.lookups++
	err := d.lookupErr
	d.mu.Unlock()
	if err != nil {
		return Point{}, err
	}
	return d.inner.Lookup(ctx, postal)
}

func (d *countingDataset) All(ctx context.Context) (map[string]Point, error) {
	d.mu.Lock()
	d.allCalls++
	err := d.allErr
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return d.inner.All(ctx)
}

func (d *countingDataset) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lookups, d.allCalls
}

// radiusDataset adds a native radius primitive on top of countingDataset.
type radiusDataset struct {
	*countingDataset
	radiusCalls int
}

func (d *radiusDataset) WithinRadius(_ context.Context, _ Point, _ float64) ([]string, error) {
	d.mu.Lock()
	d.radiusCalls++
	d.mu.Unlock()
	return []string{"78701", "78702", "78703"}, nil
}

// austinPoints is a small fixture around downtown Austin plus a distant code.
func austinPoints() map[string]Point {
	return map[string]Point{
		"78701": {Lat: 30.2713, Lon: -97.7426},
		"78702": {Lat: 30.2638, Lon: -97.7166},
		"78703": {Lat: 30.2937, Lon: -97.7652},
		"78660": {Lat: 30.4469, Lon: -97.6220},
		"75201": {Lat: 32.7876, Lon: -96.7994},
	}
}
