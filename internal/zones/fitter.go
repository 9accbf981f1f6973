package zones

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/zonestack/server/internal/geometry"
)

// Reason is the failure code of a fitter call.
type Reason string

const (
	ReasonExceedOuter    Reason = "would-exceed-outer"
	ReasonIntersectOuter Reason = "would-intersect-outer"
	ReasonBelowInner     Reason = "would-fall-below-inner"
	ReasonIntersectInner Reason = "would-intersect-inner"
	ReasonScaleExhausted Reason = "scale-exhausted"
)

const (
	DefaultBasePercent   = 50.0
	DefaultMarginPercent = 1.0

	OpInsert = "insert"
	OpResize = "resize"
)

var ErrNoNeighbor = errors.New("fit needs a neighbouring zone")

// FitError is returned when no valid ring exists for the requested change.
// Inner and Outer carry the names of the neighbours involved, when any.
type FitError struct {
	Reason Reason `json:"reason"`
	Inner  string `json:"inner,omitempty"`
	Outer  string `json:"outer,omitempty"`
}

func (e *FitError) Error() string {
	switch {
	case e.Inner != "" && e.Outer != "":
		return fmt.Sprintf("no room between zones %q and %q: %s", e.Inner, e.Outer, e.Reason)
	case e.Outer != "":
		return fmt.Sprintf("zone does not fit inside %q: %s", e.Outer, e.Reason)
	case e.Inner != "":
		return fmt.Sprintf("zone does not fit around %q: %s", e.Inner, e.Reason)
	default:
		return string(e.Reason)
	}
}

// Fit is a validated ring ready to be committed.
type Fit struct {
	Ring       orb.Ring
	Percent    float64
	Fallback   bool
	Iterations int
}

// Observer receives the outcome of every fitter call. reason is empty on success.
type Observer interface {
	ObserveFit(op string, reason Reason, iterations int)
}

// Fitter finds rings that keep a stack's containment invariant.
// The zero value uses the package defaults.
type Fitter struct {
	BasePercent   float64
	MarginPercent float64
	Sides         int
	Observer      Observer
}

func NewFitter() *Fitter {
	return &Fitter{
		BasePercent:   DefaultBasePercent,
		MarginPercent: DefaultMarginPercent,
		Sides:         geometry.DefaultCircleSides,
	}
}

// FitNewZone searches for the largest scale of inner, from basePercent down in
// steps of one percent, that lies strictly inside outer. A nil outer accepts
// the first candidate. Non-circular candidates that overlap inner fall back to
// inner's bounding rectangle.
func (f *Fitter) FitNewZone(inner, outer *Shape, basePercent float64) (*Fit, error) {
	if inner == nil {
		return nil, ErrNoNeighbor
	}
	if basePercent <= 0 {
		basePercent = f.basePercent()
	}

	c, err := geometry.Centroid(inner.Ring)
	if err != nil {
		return nil, f.fail(OpInsert, ReasonScaleExhausted, inner, outer, 0)
	}

	iterations := 0
	for p := basePercent; p > 0; p-- {
		iterations++
		candidate, err := geometry.ScaleRing(inner.Ring, c, p)
		if err != nil {
			continue
		}
		if outer != nil && !geometry.RingWithinRing(candidate, outer.Ring) {
			continue
		}

		fit := &Fit{Ring: candidate, Percent: p, Iterations: iterations}
		if !inner.IsCircle && geometry.RingsIntersect(candidate, inner.Ring) {
			rect := geometry.BoundingRing(inner.Ring, f.marginPercent())
			if outer != nil && !geometry.RingWithinRing(rect, outer.Ring) {
				return nil, f.fail(OpInsert, ReasonIntersectOuter, inner, outer, iterations)
			}
			fit.Ring = rect
			fit.Fallback = true
		}
		f.observe(OpInsert, "", iterations)
		return fit, nil
	}

	return nil, f.fail(OpInsert, ReasonScaleExhausted, inner, outer, iterations)
}

// FitInnerZone mirrors FitNewZone for insertion below the innermost zone: it
// shrinks outer by basePercent, easing off one percent at a time, until the
// candidate lies strictly inside outer.
func (f *Fitter) FitInnerZone(outer *Shape, basePercent float64) (*Fit, error) {
	if outer == nil {
		return nil, ErrNoNeighbor
	}
	if basePercent <= 0 {
		basePercent = f.basePercent()
	}
	if basePercent >= 100 {
		basePercent = 99
	}

	c, err := geometry.Centroid(outer.Ring)
	if err != nil {
		return nil, f.fail(OpInsert, ReasonScaleExhausted, nil, outer, 0)
	}

	iterations := 0
	for p := basePercent; p > 0; p-- {
		iterations++
		candidate, err := geometry.ScaleRing(outer.Ring, c, -p)
		if err != nil {
			continue
		}
		if !geometry.RingWithinRing(candidate, outer.Ring) {
			continue
		}
		f.observe(OpInsert, "", iterations)
		return &Fit{Ring: candidate, Percent: -p, Iterations: iterations}, nil
	}
	return nil, f.fail(OpInsert, ReasonScaleExhausted, nil, outer, iterations)
}

// FitResize validates scaling shape by deltaPercent against its neighbours.
// It has no side effects: shape is not modified.
func (f *Fitter) FitResize(shape *Shape, deltaPercent float64, inner, outer *Shape) (*Fit, error) {
	degenerate := ReasonScaleExhausted
	if deltaPercent < 0 && inner != nil {
		degenerate = ReasonBelowInner
	}

	c, err := geometry.Centroid(shape.Ring)
	if err != nil {
		return nil, f.fail(OpResize, degenerate, inner, outer, 1)
	}
	candidate, err := geometry.ScaleRing(shape.Ring, c, deltaPercent)
	if err != nil {
		return nil, f.fail(OpResize, degenerate, inner, outer, 1)
	}
	area, err := geometry.Area(candidate)
	if err != nil {
		return nil, f.fail(OpResize, degenerate, inner, outer, 1)
	}

	if deltaPercent > 0 && outer != nil {
		outerArea, err := geometry.Area(outer.Ring)
		if err != nil {
			return nil, f.fail(OpResize, ReasonScaleExhausted, inner, outer, 1)
		}
		if area >= outerArea {
			return nil, f.fail(OpResize, ReasonExceedOuter, inner, outer, 1)
		}
		if geometry.RingsIntersect(candidate, outer.Ring) {
			return nil, f.fail(OpResize, ReasonIntersectOuter, inner, outer, 1)
		}
	}

	if deltaPercent < 0 && inner != nil {
		innerArea, err := geometry.Area(inner.Ring)
		if err != nil {
			return nil, f.fail(OpResize, ReasonScaleExhausted, inner, outer, 1)
		}
		if area <= innerArea {
			return nil, f.fail(OpResize, ReasonBelowInner, inner, outer, 1)
		}
		if geometry.RingsIntersect(candidate, inner.Ring) {
			return nil, f.fail(OpResize, ReasonIntersectInner, inner, outer, 1)
		}
	}

	f.observe(OpResize, "", 1)
	return &Fit{Ring: candidate, Percent: deltaPercent, Iterations: 1}, nil
}

func (f *Fitter) fail(op string, reason Reason, inner, outer *Shape, iterations int) *FitError {
	f.observe(op, reason, iterations)
	e := &FitError{Reason: reason}
	if inner != nil {
		e.Inner = inner.label()
	}
	if outer != nil {
		e.Outer = outer.label()
	}
	return e
}

func (f *Fitter) observe(op string, reason Reason, iterations int) {
	if f.Observer != nil {
		f.Observer.ObserveFit(op, reason, iterations)
	}
}

func (f *Fitter) basePercent() float64 {
	if f.BasePercent > 0 {
		return f.BasePercent
	}
	return DefaultBasePercent
}

func (f *Fitter) marginPercent() float64 {
	if f.MarginPercent > 0 {
		return f.MarginPercent
	}
	return DefaultMarginPercent
}

func (f *Fitter) sides() int {
	if f.Sides >= 3 {
		return f.Sides
	}
	return geometry.DefaultCircleSides
}
