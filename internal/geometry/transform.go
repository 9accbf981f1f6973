package geometry

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// ScaleRing moves every vertex of r along its bearing from c, multiplying its
// geodesic distance by (1 + percent/100). Negative percentages shrink the ring.
// The result is closed; a vertex that coincides with c stays where it is.
func ScaleRing(r orb.Ring, c orb.Point, percent float64) (orb.Ring, error) {
	if IsDegenerate(r) {
		return nil, ErrDegenerateRing
	}
	factor := 1 + percent/100
	if factor <= 0 {
		return nil, ErrDegenerateRing
	}

	pts := vertices(r)
	scaled := make(orb.Ring, 0, len(pts)+1)
	for _, p := range pts {
		dist := geo.DistanceHaversine(c, p)
		if dist == 0 {
			scaled = append(scaled, p)
			continue
		}
		bearing := geo.Bearing(c, p)
		scaled = append(scaled, geo.PointAtBearingAndDistance(c, bearing, dist*factor))
	}
	scaled = append(scaled, scaled[0])

	if IsDegenerate(scaled) {
		return nil, ErrDegenerateRing
	}
	return scaled, nil
}

// Circle approximates a circle of radiusMeters around center with a closed N-gon.
func Circle(center orb.Point, radiusMeters float64, sides int) (orb.Ring, error) {
	if sides < 3 {
		return nil, fmt.Errorf("circle needs at least 3 sides, got %d", sides)
	}
	if radiusMeters <= 0 {
		return nil, fmt.Errorf("circle radius must be positive, got %f", radiusMeters)
	}

	ring := make(orb.Ring, 0, sides+1)
	step := 360.0 / float64(sides)
	for i := 0; i < sides; i++ {
		ring = append(ring, geo.PointAtBearingAndDistance(center, float64(i)*step, radiusMeters))
	}
	return append(ring, ring[0]), nil
}

// BoundingRing returns the axis-aligned rectangle around r, grown about its
// center by marginPercent of its width and height.
func BoundingRing(r orb.Ring, marginPercent float64) orb.Ring {
	b := r.Bound()
	padX := (b.Max[0] - b.Min[0]) * marginPercent / 200
	padY := (b.Max[1] - b.Min[1]) * marginPercent / 200
	grown := orb.Bound{
		Min: orb.Point{b.Min[0] - padX, b.Min[1] - padY},
		Max: orb.Point{b.Max[0] + padX, b.Max[1] + padY},
	}
	return grown.ToRing()
}

// Translate shifts every vertex of r by the given longitude/latitude offsets.
func Translate(r orb.Ring, dLon, dLat float64) orb.Ring {
	moved := make(orb.Ring, len(r))
	for i, p := range r {
		moved[i] = orb.Point{WrapLongitude(p[0] + dLon), p[1] + dLat}
	}
	return moved
}
