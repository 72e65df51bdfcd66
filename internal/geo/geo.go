// Package geo resolves postal codes to centroids and expands a center code
// into the set of postal codes within a radius.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusKM is the mean earth radius used for great-circle distances.
const EarthRadiusKM = 6371.0088

// ErrNotFound is returned when a postal code is absent from the reference dataset.
var ErrNotFound = errors.New("geo: postal code not found")

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the point lies within WGS84 bounds.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// HaversineKM returns the great-circle distance between a and b in kilometers.
func HaversineKM(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// LookupError reports a failure of the reference dataset itself, as opposed to
// an unknown postal code. Callers degrade to the exact postal code.
type LookupError struct {
	Postal string
	Op     string
	Err    error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("geo: %s %s: %v", e.Op, e.Postal, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }
