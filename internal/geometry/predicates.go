package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// collinearEpsilon is the perpendicular distance (degrees, ~0.1mm) below which
// a point is treated as lying on a line. Nested rings generated from the same
// bearings can share vertices up to floating point noise; those must count as
// touching, not as clear.
const collinearEpsilon = 1e-9

// PointInRing reports whether p is inside r using ray casting.
// Points on the boundary count as inside.
func PointInRing(p orb.Point, r orb.Ring) bool {
	if IsDegenerate(r) {
		return false
	}
	return planar.RingContains(Close(r), p)
}

// SegmentsIntersect reports whether segment a1-a2 and segment b1-b2 cross or touch.
// Collinear overlap and shared endpoints count as intersecting.
func SegmentsIntersect(a1, a2, b1, b2 orb.Point) bool {
	d1 := side(b1, b2, a1)
	d2 := side(b1, b2, a2)
	d3 := side(a1, a2, b1)
	d4 := side(a1, a2, b2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	if d1 == 0 && onSegment(b1, b2, a1) {
		return true
	}
	if d2 == 0 && onSegment(b1, b2, a2) {
		return true
	}
	if d3 == 0 && onSegment(a1, a2, b1) {
		return true
	}
	if d4 == 0 && onSegment(a1, a2, b2) {
		return true
	}
	return false
}

// side returns the sign of q relative to the line p-r: 1, -1, or 0 when q is
// within collinearEpsilon of the line.
func side(p, r, q orb.Point) int {
	dx := r[0] - p[0]
	dy := r[1] - p[1]
	length := math.Hypot(dx, dy)
	if length == 0 {
		// Zero-length segment: measure distance to the point itself.
		if math.Hypot(q[0]-p[0], q[1]-p[1]) <= collinearEpsilon {
			return 0
		}
		return 1
	}
	dist := (dx*(q[1]-p[1]) - dy*(q[0]-p[0])) / length
	switch {
	case dist > collinearEpsilon:
		return 1
	case dist < -collinearEpsilon:
		return -1
	default:
		return 0
	}
}

// onSegment reports whether q, already known to be collinear with p-r, lies
// within the segment's bounding box.
func onSegment(p, r, q orb.Point) bool {
	return q[0] <= math.Max(p[0], r[0])+collinearEpsilon &&
		q[0] >= math.Min(p[0], r[0])-collinearEpsilon &&
		q[1] <= math.Max(p[1], r[1])+collinearEpsilon &&
		q[1] >= math.Min(p[1], r[1])-collinearEpsilon
}

// RingsIntersect reports whether any edge of a crosses or touches any edge of b.
// It is a boundary test only: a ring nested strictly inside another does not intersect it.
func RingsIntersect(a, b orb.Ring) bool {
	a = Close(a)
	b = Close(b)
	if len(a) < 2 || len(b) < 2 {
		return false
	}
	if !padBound(a.Bound()).Intersects(padBound(b.Bound())) {
		return false
	}

	for i := 0; i < len(a)-1; i++ {
		a1, a2 := a[i], a[i+1]
		for j := 0; j < len(b)-1; j++ {
			if SegmentsIntersect(a1, a2, b[j], b[j+1]) {
				return true
			}
		}
	}
	return false
}

// RingWithinRing reports whether inner lies strictly inside outer: every vertex
// of inner is inside outer and no edge of inner crosses or touches an edge of outer.
// The edge test catches rings whose vertices are all inside but bulge through an edge.
func RingWithinRing(inner, outer orb.Ring) bool {
	if IsDegenerate(inner) || IsDegenerate(outer) {
		return false
	}
	outer = Close(outer)
	for _, p := range vertices(inner) {
		if !planar.RingContains(outer, p) {
			return false
		}
	}
	return !RingsIntersect(inner, outer)
}

func padBound(b orb.Bound) orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.Min[0] - collinearEpsilon, b.Min[1] - collinearEpsilon},
		Max: orb.Point{b.Max[0] + collinearEpsilon, b.Max[1] + collinearEpsilon},
	}
}
