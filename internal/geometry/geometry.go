// Package geometry holds the pure ring predicates used by the zone editor:
// containment, edge intersection, area, centroid and centroid-relative scaling.
// Points are orb.Point values in (longitude, latitude) order.
package geometry

import (
	"errors"

	"github.com/paulmach/orb"
)

// DefaultCircleSides is the number of vertices used to approximate a circle zone
const DefaultCircleSides = 50

// ErrDegenerateRing is returned when a ring has fewer than 3 distinct points
// or no measurable area. Callers abort the operation that produced it.
var ErrDegenerateRing = errors.New("degenerate ring")

// Close returns r with its first point repeated at the end if it is not
// already closed. The input is never modified.
func Close(r orb.Ring) orb.Ring {
	if len(r) == 0 || r.Closed() {
		return r
	}
	closed := make(orb.Ring, len(r), len(r)+1)
	copy(closed, r)
	return append(closed, r[0])
}

// vertices returns the ring without its closing point.
func vertices(r orb.Ring) []orb.Point {
	if len(r) > 1 && r.Closed() {
		return r[:len(r)-1]
	}
	return r
}

// distinctCount counts unique vertices, ignoring the closing point.
func distinctCount(r orb.Ring) int {
	seen := make(map[orb.Point]struct{}, len(r))
	for _, p := range vertices(r) {
		seen[p] = struct{}{}
	}
	return len(seen)
}

// IsDegenerate reports whether r has fewer than 3 distinct vertices.
func IsDegenerate(r orb.Ring) bool {
	return distinctCount(r) < 3
}
