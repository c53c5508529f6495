// Package geo provides great-circle distance helpers.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/paulmach/orb"
)

// EarthRadiusKm is the mean Earth radius.
const EarthRadiusKm = 6371.0088

// ErrNotFinite is returned by ParseDegrees for NaN and infinite values.
var ErrNotFinite = errors.New("coordinate must be a finite number")

// ParseDegrees parses a coordinate in decimal degrees.
func ParseDegrees(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse coordinate %q: %w", s, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("parse coordinate %q: %w", s, ErrNotFinite)
	}
	return v, nil
}

// NewPoint returns the point at the given latitude and longitude in degrees.
func NewPoint(lat, lon float64) orb.Point {
	return orb.Point{lon, lat}
}

// Distance returns the haversine great-circle distance between a and b in kilometres.
func Distance(a, b orb.Point) float64 {
	lat1 := deg2rad(a.Lat())
	lat2 := deg2rad(b.Lat())
	dLat := lat2 - lat1
	dLon := deg2rad(b.Lon() - a.Lon())

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon

	// Rounding can push h a hair past 1 for antipodal points.
	h = math.Min(1, h)
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

func deg2rad(d float64) float64 {
	return d * math.Pi / 180
}
