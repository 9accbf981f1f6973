package zones

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/paulmach/orb"

	"github.com/zonestack/server/internal/geometry"
)

var (
	ErrZoneNotFound    = errors.New("zone not found in stack")
	ErrDuplicateZone   = errors.New("zone id already used in stack")
	ErrIndexOutOfRange = errors.New("zone index out of range")
)

// ContainmentError names the first consecutive pair of zones where the inner
// ring is not strictly inside the outer ring.
type ContainmentError struct {
	Inner string `json:"inner"`
	Outer string `json:"outer"`
}

func (e *ContainmentError) Error() string {
	return fmt.Sprintf("zone %q is not contained in zone %q", e.Inner, e.Outer)
}

// Stack is the ordered nest of zones for one anchor, index 0 innermost.
// It owns its shapes; shapes never point back at the stack.
type Stack struct {
	ID     string
	Name   string
	Anchor orb.Point
	zones  []*Shape
}

func NewStack(id, name string, anchor orb.Point) *Stack {
	return &Stack{ID: id, Name: name, Anchor: anchor}
}

// InsertZoneAfter inserts shape at index+1. An index of -1 makes shape the
// innermost zone. The ring must already have been validated by a Fitter.
func (s *Stack) InsertZoneAfter(index int, shape *Shape) error {
	if shape == nil {
		return fmt.Errorf("insert zone: nil shape")
	}
	if index < -1 || index >= len(s.zones) {
		return fmt.Errorf("insert zone after %d: %w", index, ErrIndexOutOfRange)
	}
	if s.ZoneByID(shape.ID) != nil {
		return fmt.Errorf("insert zone %s: %w", shape.ID, ErrDuplicateZone)
	}

	pos := index + 1
	s.zones = append(s.zones, nil)
	copy(s.zones[pos+1:], s.zones[pos:])
	s.zones[pos] = shape
	s.restack()
	return nil
}

// RemoveZone removes shape by identity. empty reports that the stack has no
// zones left and may be deleted by the caller.
func (s *Stack) RemoveZone(shape *Shape) (empty bool, err error) {
	i := s.ZoneIndex(shape)
	if i < 0 {
		return false, ErrZoneNotFound
	}
	s.zones = slices.Delete(s.zones, i, i+1)
	return len(s.zones) == 0, nil
}

// NeighborsOf returns the adjacent zones of shape, nil at either end.
func (s *Stack) NeighborsOf(shape *Shape) (inner, outer *Shape, err error) {
	i := s.ZoneIndex(shape)
	if i < 0 {
		return nil, nil, ErrZoneNotFound
	}
	if i > 0 {
		inner = s.zones[i-1]
	}
	if i < len(s.zones)-1 {
		outer = s.zones[i+1]
	}
	return inner, outer, nil
}

// LargestZone returns the outermost zone, or nil for an empty stack.
func (s *Stack) LargestZone() *Shape {
	if len(s.zones) == 0 {
		return nil
	}
	return s.zones[len(s.zones)-1]
}

// ZoneAt returns the zone at index i, or nil when i is out of range.
func (s *Stack) ZoneAt(i int) *Shape {
	if i < 0 || i >= len(s.zones) {
		return nil
	}
	return s.zones[i]
}

// ZoneIndex returns the position of shape, or -1 if it is not a member.
func (s *Stack) ZoneIndex(shape *Shape) int {
	for i, z := range s.zones {
		if z == shape {
			return i
		}
	}
	return -1
}

func (s *Stack) ZoneByID(id string) *Shape {
	for _, z := range s.zones {
		if z.ID == id {
			return z
		}
	}
	return nil
}

func (s *Stack) Len() int {
	return len(s.zones)
}

// Zones returns the zones innermost first. The slice is a copy; the shapes are not.
func (s *Stack) Zones() []*Shape {
	out := make([]*Shape, len(s.zones))
	copy(out, s.zones)
	return out
}

// Reorder sorts zones innermost first by area and re-derives z-order.
func (s *Stack) Reorder() error {
	areas := make(map[*Shape]float64, len(s.zones))
	for _, z := range s.zones {
		a, err := geometry.Area(z.Ring)
		if err != nil {
			return fmt.Errorf("zone %s: %w", z.ID, err)
		}
		areas[z] = a
	}
	sort.SliceStable(s.zones, func(i, j int) bool {
		return areas[s.zones[i]] < areas[s.zones[j]]
	})
	s.restack()
	return nil
}

// Validate checks strict containment for every consecutive pair of zones.
func (s *Stack) Validate() error {
	for i := 0; i+1 < len(s.zones); i++ {
		inner, outer := s.zones[i], s.zones[i+1]
		if !geometry.RingWithinRing(inner.Ring, outer.Ring) {
			return &ContainmentError{Inner: inner.ID, Outer: outer.ID}
		}
	}
	return nil
}

// Render returns the punched-out render of every zone, innermost first.
func (s *Stack) Render() []Renderable {
	renders := make([]Renderable, 0, len(s.zones))
	for i, z := range s.zones {
		renders = append(renders, z.Punched(s.ZoneAt(i-1)))
	}
	return renders
}

// RenderAround returns the renders affected by a change to shape: shape itself
// and its inner and outer neighbours.
func (s *Stack) RenderAround(shape *Shape) ([]Renderable, error) {
	i := s.ZoneIndex(shape)
	if i < 0 {
		return nil, ErrZoneNotFound
	}
	var renders []Renderable
	for j := i - 1; j <= i+1; j++ {
		if z := s.ZoneAt(j); z != nil {
			renders = append(renders, z.Punched(s.ZoneAt(j-1)))
		}
	}
	return renders, nil
}

// restack assigns z-indexes decrementing from the current maximum so inner
// zones draw on top of outer ones.
func (s *Stack) restack() {
	top := len(s.zones)
	for _, z := range s.zones {
		if z.ZIndex > top {
			top = z.ZIndex
		}
	}
	for i, z := range s.zones {
		z.ZIndex = top - i
	}
}

// nextZoneID returns the first "zone-N" identifier not used in the stack.
func (s *Stack) nextZoneID() string {
	for n := len(s.zones) + 1; ; n++ {
		id := fmt.Sprintf("zone-%d", n)
		if s.ZoneByID(id) == nil {
			return id
		}
	}
}
