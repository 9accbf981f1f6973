package geometry

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// WrapLongitude wraps a longitude to the range [-180, 180).
func WrapLongitude(lon float64) float64 {
	wrapped := math.Mod(math.Mod(lon+180, 360)+360, 360) - 180
	return wrapped
}

// ValidatePoint checks that p is a finite coordinate with a valid latitude.
func ValidatePoint(p orb.Point) error {
	if math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsInf(p[0], 0) || math.IsInf(p[1], 0) {
		return fmt.Errorf("point %v is not finite", p)
	}
	if p[1] < -90 || p[1] > 90 {
		return fmt.Errorf("latitude %f out of range [-90, 90]", p[1])
	}
	return nil
}

// ValidateRing checks every vertex and that the ring has at least 3 distinct points.
// Longitudes are wrapped into [-180, 180) on the returned copy, which is always closed.
func ValidateRing(r orb.Ring) (orb.Ring, error) {
	if IsDegenerate(r) {
		return nil, ErrDegenerateRing
	}
	normalized := make(orb.Ring, len(r))
	for i, p := range r {
		if err := ValidatePoint(p); err != nil {
			return nil, fmt.Errorf("vertex %d: %w", i, err)
		}
		normalized[i] = orb.Point{WrapLongitude(p[0]), p[1]}
	}
	return Close(normalized), nil
}
