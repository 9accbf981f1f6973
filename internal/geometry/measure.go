package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Area returns the spherical area of r in square meters.
func Area(r orb.Ring) (float64, error) {
	if IsDegenerate(r) {
		return 0, ErrDegenerateRing
	}
	area := geo.Area(Close(r))
	if area == 0 || math.IsNaN(area) || math.IsInf(area, 0) {
		return 0, ErrDegenerateRing
	}
	return area, nil
}

// Centroid returns the arithmetic mean of the ring's vertices, closing point excluded.
// Zone rings are near-regular polygons, so the vertex mean is close enough to
// the area centroid for scaling.
func Centroid(r orb.Ring) (orb.Point, error) {
	if IsDegenerate(r) {
		return orb.Point{}, ErrDegenerateRing
	}
	pts := vertices(r)
	var sumLon, sumLat float64
	for _, p := range pts {
		sumLon += p[0]
		sumLat += p[1]
	}
	n := float64(len(pts))
	return orb.Point{sumLon / n, sumLat / n}, nil
}

// MeanRadius returns the average geodesic distance in meters from c to the ring's vertices.
func MeanRadius(r orb.Ring, c orb.Point) float64 {
	pts := vertices(r)
	if len(pts) == 0 {
		return 0
	}
	total := 0.0
	for _, p := range pts {
		total += geo.DistanceHaversine(c, p)
	}
	return total / float64(len(pts))
}
