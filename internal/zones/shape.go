// Package zones manages concentric zone stacks: nested rings around an anchor
// where every zone lies strictly inside its outward neighbour.
package zones

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/zonestack/server/internal/geometry"
)

const (
	DefaultColor   = "#3388ff"
	DefaultOpacity = 0.3
)

// ErrNotCircle is returned by radius operations on polygon zones.
var ErrNotCircle = errors.New("zone is not a circle")

// Shape is one zone's boundary plus its display attributes.
// For circles Center and Radius (meters) are authoritative and Ring is their
// N-gon expansion; for polygons only Ring is meaningful.
type Shape struct {
	ID       string
	Name     string
	IsCircle bool
	Center   orb.Point
	Radius   float64
	Ring     orb.Ring
	Color    string
	Opacity  float64
	Editable bool
	ZIndex   int
}

// NewCircle builds an editable circle zone approximated by a closed N-gon.
func NewCircle(id, name string, center orb.Point, radius float64, sides int) (*Shape, error) {
	if err := geometry.ValidatePoint(center); err != nil {
		return nil, fmt.Errorf("circle center: %w", err)
	}
	ring, err := geometry.Circle(center, radius, sides)
	if err != nil {
		return nil, err
	}
	return &Shape{
		ID:       id,
		Name:     name,
		IsCircle: true,
		Center:   center,
		Radius:   radius,
		Ring:     ring,
		Color:    DefaultColor,
		Opacity:  DefaultOpacity,
		Editable: true,
	}, nil
}

// NewPolygon builds an editable polygon zone. The ring is validated and closed.
func NewPolygon(id, name string, ring orb.Ring) (*Shape, error) {
	normalized, err := geometry.ValidateRing(ring)
	if err != nil {
		return nil, fmt.Errorf("polygon zone %s: %w", id, err)
	}
	return &Shape{
		ID:       id,
		Name:     name,
		Ring:     normalized,
		Color:    DefaultColor,
		Opacity:  DefaultOpacity,
		Editable: true,
	}, nil
}

// ResizeTo replaces the ring without validation.
func (s *Shape) ResizeTo(ring orb.Ring) {
	s.Ring = ring
}

// ApplyFit commits a validated fitter result. Circles keep their radius in
// step with the ring unless the fit fell back to a rectangle, which turns the
// zone into a polygon.
func (s *Shape) ApplyFit(fit *Fit) {
	s.Ring = fit.Ring
	if !s.IsCircle {
		return
	}
	if fit.Fallback {
		s.IsCircle = false
		s.Radius = 0
		return
	}
	s.Radius *= 1 + fit.Percent/100
}

// SetRadius re-expands a circle zone at a new radius.
func (s *Shape) SetRadius(radius float64, sides int) error {
	if !s.IsCircle {
		return ErrNotCircle
	}
	ring, err := geometry.Circle(s.Center, radius, sides)
	if err != nil {
		return err
	}
	s.Radius = radius
	s.Ring = ring
	return nil
}

// MoveTo re-centres the zone. Circles are re-expanded around the new centre;
// polygons are translated so their centroid lands on it.
func (s *Shape) MoveTo(center orb.Point, sides int) error {
	if err := geometry.ValidatePoint(center); err != nil {
		return err
	}
	if s.IsCircle {
		ring, err := geometry.Circle(center, s.Radius, sides)
		if err != nil {
			return err
		}
		s.Center = center
		s.Ring = ring
		return nil
	}

	c, err := geometry.Centroid(s.Ring)
	if err != nil {
		return err
	}
	s.Ring = geometry.Translate(s.Ring, center[0]-c[0], center[1]-c[1])
	return nil
}

func (s *Shape) Recolor(color string, opacity float64) {
	s.Color = color
	s.Opacity = opacity
}

func (s *Shape) SetEditable(editable bool) {
	s.Editable = editable
}

// Punched returns the render description of the zone: its ring with the inner
// neighbour's ring as a hole, or the filled ring when inner is nil.
// Rings are copied so the result does not alias the shapes.
func (s *Shape) Punched(inner *Shape) Renderable {
	r := Renderable{
		ZoneID:   s.ID,
		Outer:    s.Ring.Clone(),
		Color:    s.Color,
		Opacity:  s.Opacity,
		Editable: s.Editable,
		ZIndex:   s.ZIndex,
	}
	if inner != nil {
		r.Hole = inner.Ring.Clone()
	}
	return r
}

// label is the user-facing name of the zone, falling back to its id.
func (s *Shape) label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

func (s *Shape) Clone() *Shape {
	c := *s
	c.Ring = s.Ring.Clone()
	return &c
}
