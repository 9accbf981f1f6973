package zones

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/zonestack/server/internal/geometry"
)

// ErrNoGeometry is returned when the first zone of a stack is inserted
// without a drawn ring or circle.
var ErrNoGeometry = errors.New("first zone of a stack needs explicit geometry")

// ZoneSpec describes a zone to insert. Ring, or Center with Radius, marks a
// zone drawn by the user; otherwise the ring is fitted between neighbours.
type ZoneSpec struct {
	ID          string
	Name        string
	Color       string
	Opacity     float64
	Locked      bool
	BasePercent float64

	Ring   orb.Ring
	Center *orb.Point
	Radius float64
}

func (z ZoneSpec) drawn() bool {
	return len(z.Ring) > 0 || (z.Center != nil && z.Radius > 0)
}

// InsertZone adds a zone after afterIndex (-1 for innermost). Drawn zones are
// checked against both neighbours; otherwise the ring is produced by
// FitNewZone, or FitInnerZone when there is no inner neighbour.
func (f *Fitter) InsertZone(stack *Stack, afterIndex int, spec ZoneSpec) (*Shape, error) {
	if afterIndex < -1 || afterIndex >= stack.Len() {
		return nil, fmt.Errorf("insert zone after %d: %w", afterIndex, ErrIndexOutOfRange)
	}
	if spec.ID == "" {
		spec.ID = stack.nextZoneID()
	}
	if stack.ZoneByID(spec.ID) != nil {
		return nil, fmt.Errorf("insert zone %s: %w", spec.ID, ErrDuplicateZone)
	}

	inner := stack.ZoneAt(afterIndex)
	outer := stack.ZoneAt(afterIndex + 1)

	var (
		shape *Shape
		err   error
	)
	switch {
	case spec.drawn():
		shape, err = f.drawnZone(spec, inner, outer)
	case inner != nil:
		shape, err = f.fittedZone(spec, inner, outer)
	case outer != nil:
		shape, err = f.innermostZone(spec, outer)
	default:
		return nil, ErrNoGeometry
	}
	if err != nil {
		return nil, err
	}

	applySpecStyle(shape, spec, inner, outer)
	if err := stack.InsertZoneAfter(afterIndex, shape); err != nil {
		return nil, err
	}
	return shape, nil
}

func (f *Fitter) drawnZone(spec ZoneSpec, inner, outer *Shape) (*Shape, error) {
	var (
		shape *Shape
		err   error
	)
	if len(spec.Ring) > 0 {
		shape, err = NewPolygon(spec.ID, spec.Name, spec.Ring)
	} else {
		shape, err = NewCircle(spec.ID, spec.Name, *spec.Center, spec.Radius, f.sides())
	}
	if err != nil {
		return nil, err
	}

	if inner != nil && !geometry.RingWithinRing(inner.Ring, shape.Ring) {
		return nil, f.fail(OpInsert, ReasonIntersectInner, inner, outer, 1)
	}
	if outer != nil && !geometry.RingWithinRing(shape.Ring, outer.Ring) {
		return nil, f.fail(OpInsert, ReasonIntersectOuter, inner, outer, 1)
	}
	f.observe(OpInsert, "", 1)
	return shape, nil
}

func (f *Fitter) fittedZone(spec ZoneSpec, inner, outer *Shape) (*Shape, error) {
	fit, err := f.FitNewZone(inner, outer, spec.BasePercent)
	if err != nil {
		return nil, err
	}
	shape := &Shape{ID: spec.ID, Name: spec.Name, Ring: fit.Ring}
	if inner.IsCircle && !fit.Fallback {
		shape.IsCircle = true
		shape.Center = inner.Center
		shape.Radius = inner.Radius * (1 + fit.Percent/100)
	}
	return shape, nil
}

func (f *Fitter) innermostZone(spec ZoneSpec, outer *Shape) (*Shape, error) {
	fit, err := f.FitInnerZone(outer, spec.BasePercent)
	if err != nil {
		return nil, err
	}
	shape := &Shape{ID: spec.ID, Name: spec.Name, Ring: fit.Ring}
	if outer.IsCircle {
		shape.IsCircle = true
		shape.Center = outer.Center
		shape.Radius = outer.Radius * (1 + fit.Percent/100)
	}
	return shape, nil
}

// applySpecStyle fills display attributes from the ZoneSpec, inheriting colour and
// opacity from the nearest neighbour when it leaves them empty.
func applySpecStyle(shape *Shape, spec ZoneSpec, inner, outer *Shape) {
	neighbor := inner
	if neighbor == nil {
		neighbor = outer
	}

	shape.Color = spec.Color
	if shape.Color == "" {
		shape.Color = DefaultColor
		if neighbor != nil {
			shape.Color = neighbor.Color
		}
	}
	shape.Opacity = spec.Opacity
	if shape.Opacity <= 0 {
		shape.Opacity = DefaultOpacity
		if neighbor != nil {
			shape.Opacity = neighbor.Opacity
		}
	}
	shape.Editable = !spec.Locked
}
