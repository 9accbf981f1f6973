package zones

import (
	"errors"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/zonestack/server/internal/geometry"
)

// Document is the persisted form of a stack exchanged with storage and the
// template service.
type Document struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Anchor orb.Point      `json:"anchor"`
	Zones  []ZoneDocument `json:"zones"`
}

type ZoneDocument struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Ring     orb.Ring   `json:"ring"`
	IsCircle bool       `json:"isCircle"`
	Center   *orb.Point `json:"center,omitempty"`
	Radius   float64    `json:"radius,omitempty"`
	Color    string     `json:"color"`
	Opacity  float64    `json:"opacity"`
	Editable bool       `json:"editable"`
	ZIndex   int        `json:"zIndex"`
}

// StackFromDocument builds a stack from a document. Zones are ordered by
// zIndex descending (innermost first); when z-indexes are missing or tied the
// zones are ordered by area instead. The result must satisfy containment.
func StackFromDocument(doc Document) (*Stack, error) {
	if err := geometry.ValidatePoint(doc.Anchor); err != nil {
		return nil, fmt.Errorf("stack %s anchor: %w", doc.ID, err)
	}
	stack := NewStack(doc.ID, doc.Name, orb.Point{geometry.WrapLongitude(doc.Anchor[0]), doc.Anchor[1]})

	seen := make(map[string]bool, len(doc.Zones))
	shapes := make([]*Shape, 0, len(doc.Zones))
	for i, zd := range doc.Zones {
		if zd.ID == "" {
			return nil, fmt.Errorf("zone %d: missing id", i)
		}
		if seen[zd.ID] {
			return nil, fmt.Errorf("zone %s: %w", zd.ID, ErrDuplicateZone)
		}
		seen[zd.ID] = true

		shape, err := shapeFromDocument(zd, stack.Anchor)
		if err != nil {
			return nil, err
		}
		shapes = append(shapes, shape)
	}

	sort.SliceStable(shapes, func(i, j int) bool {
		return shapes[i].ZIndex > shapes[j].ZIndex
	})
	stack.zones = shapes
	if !distinctZIndexes(shapes) {
		if err := stack.Reorder(); err != nil {
			return nil, err
		}
	}

	if err := stack.Validate(); err != nil {
		return nil, fmt.Errorf("stack %s: %w", doc.ID, err)
	}
	return stack, nil
}

func shapeFromDocument(zd ZoneDocument, anchor orb.Point) (*Shape, error) {
	ring, err := geometry.ValidateRing(zd.Ring)
	if err != nil {
		return nil, fmt.Errorf("zone %s: %w", zd.ID, err)
	}
	shape := &Shape{
		ID:       zd.ID,
		Name:     zd.Name,
		Ring:     ring,
		Color:    zd.Color,
		Opacity:  zd.Opacity,
		Editable: zd.Editable,
		ZIndex:   zd.ZIndex,
	}
	if shape.Color == "" {
		shape.Color = DefaultColor
	}

	if zd.IsCircle {
		shape.IsCircle = true
		shape.Center = anchor
		if zd.Center != nil {
			if err := geometry.ValidatePoint(*zd.Center); err != nil {
				return nil, fmt.Errorf("zone %s center: %w", zd.ID, err)
			}
			shape.Center = *zd.Center
		}
		shape.Radius = zd.Radius
		if shape.Radius <= 0 {
			shape.Radius = geometry.MeanRadius(ring, shape.Center)
		}
	}
	return shape, nil
}

func distinctZIndexes(shapes []*Shape) bool {
	seen := make(map[int]bool, len(shapes))
	for _, s := range shapes {
		if seen[s.ZIndex] {
			return false
		}
		seen[s.ZIndex] = true
	}
	return true
}

// Document returns the persisted form of the stack.
func (s *Stack) Document() Document {
	doc := Document{
		ID:     s.ID,
		Name:   s.Name,
		Anchor: s.Anchor,
		Zones:  make([]ZoneDocument, 0, len(s.zones)),
	}
	for _, z := range s.zones {
		zd := ZoneDocument{
			ID:       z.ID,
			Name:     z.Name,
			Ring:     z.Ring.Clone(),
			IsCircle: z.IsCircle,
			Color:    z.Color,
			Opacity:  z.Opacity,
			Editable: z.Editable,
			ZIndex:   z.ZIndex,
		}
		if z.IsCircle {
			center := z.Center
			zd.Center = &center
			zd.Radius = z.Radius
		}
		doc.Zones = append(doc.Zones, zd)
	}
	return doc
}

// FeatureCollection exports the stack as GeoJSON: the anchor as a Point
// feature followed by every zone's punched polygon with its document fields
// as properties.
func (s *Stack) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	anchor := geojson.NewFeature(s.Anchor)
	anchor.ID = s.ID
	anchor.Properties["role"] = "anchor"
	anchor.Properties["name"] = s.Name
	fc.Append(anchor)

	for i, z := range s.zones {
		f := z.Punched(s.ZoneAt(i - 1)).Feature()
		f.Properties["name"] = z.Name
		f.Properties["isCircle"] = z.IsCircle
		if z.IsCircle {
			f.Properties["center"] = []float64{z.Center[0], z.Center[1]}
			f.Properties["radius"] = z.Radius
		}
		fc.Append(f)
	}
	return fc
}

// DocumentFromFeatureCollection imports a GeoJSON export. Polygon features
// become zones (their first ring is the zone boundary; holes are ignored).
// A Point feature with role "anchor" sets the anchor, otherwise the centroid
// of the first zone is used.
func DocumentFromFeatureCollection(id string, fc *geojson.FeatureCollection) (Document, error) {
	doc := Document{ID: id}
	anchorSet := false

	for i, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.Point:
			role, err := stringProp(f.Properties, "role", "")
			if err != nil {
				return Document{}, fmt.Errorf("feature %d: %w", i, err)
			}
			if role != "anchor" {
				continue
			}
			name, err := stringProp(f.Properties, "name", doc.Name)
			if err != nil {
				return Document{}, fmt.Errorf("feature %d: %w", i, err)
			}
			doc.Anchor = g
			doc.Name = name
			anchorSet = true
		case orb.Polygon:
			if len(g) == 0 {
				return Document{}, fmt.Errorf("feature %d: empty polygon", i)
			}
			zd, err := zoneFromFeature(i, f, g[0])
			if err != nil {
				return Document{}, fmt.Errorf("feature %d: %w", i, err)
			}
			doc.Zones = append(doc.Zones, zd)
		default:
			return Document{}, fmt.Errorf("feature %d: unsupported geometry %T", i, f.Geometry)
		}
	}

	if len(doc.Zones) == 0 {
		return Document{}, errors.New("feature collection has no zones")
	}
	if !anchorSet {
		c, err := geometry.Centroid(doc.Zones[0].Ring)
		if err != nil {
			return Document{}, fmt.Errorf("zone %s: %w", doc.Zones[0].ID, err)
		}
		doc.Anchor = c
	}
	return doc, nil
}

func zoneFromFeature(i int, f *geojson.Feature, ring orb.Ring) (ZoneDocument, error) {
	props := f.Properties
	zd := ZoneDocument{Ring: ring}

	var err error
	if zd.ID, err = stringProp(props, "id", fmt.Sprintf("zone-%d", i)); err != nil {
		return ZoneDocument{}, err
	}
	if zd.Name, err = stringProp(props, "name", ""); err != nil {
		return ZoneDocument{}, err
	}
	if zd.IsCircle, err = boolProp(props, "isCircle", false); err != nil {
		return ZoneDocument{}, err
	}
	if zd.Radius, err = floatProp(props, "radius", 0); err != nil {
		return ZoneDocument{}, err
	}
	if zd.Color, err = stringProp(props, "color", DefaultColor); err != nil {
		return ZoneDocument{}, err
	}
	if zd.Opacity, err = floatProp(props, "opacity", DefaultOpacity); err != nil {
		return ZoneDocument{}, err
	}
	if zd.Editable, err = boolProp(props, "editable", true); err != nil {
		return ZoneDocument{}, err
	}
	zIndex, err := floatProp(props, "zIndex", 0)
	if err != nil {
		return ZoneDocument{}, err
	}
	zd.ZIndex = int(zIndex)

	switch raw := props["center"].(type) {
	case []float64:
		if len(raw) == 2 {
			zd.Center = &orb.Point{raw[0], raw[1]}
		}
	case []interface{}:
		if len(raw) == 2 {
			lon, okLon := raw[0].(float64)
			lat, okLat := raw[1].(float64)
			if okLon && okLat {
				zd.Center = &orb.Point{lon, lat}
			}
		}
	}
	return zd, nil
}

func stringProp(props geojson.Properties, key, def string) (string, error) {
	raw, ok := props[key]
	if !ok || raw == nil {
		return def, nil
	}
	v, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("property %q: expected string, got %T", key, raw)
	}
	return v, nil
}

func boolProp(props geojson.Properties, key string, def bool) (bool, error) {
	raw, ok := props[key]
	if !ok || raw == nil {
		return def, nil
	}
	v, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("property %q: expected bool, got %T", key, raw)
	}
	return v, nil
}

// floatProp accepts decoded JSON numbers as well as ints set in code.
func floatProp(props geojson.Properties, key string, def float64) (float64, error) {
	raw, ok := props[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return 0, fmt.Errorf("property %q: expected number, got %T", key, raw)
}
