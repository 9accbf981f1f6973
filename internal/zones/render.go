package zones

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Renderable is what the map layer draws for one zone: the outer ring, and
// the inner neighbour's ring as a hole when the zone is nested.
type Renderable struct {
	ZoneID   string   `json:"zoneId"`
	Outer    orb.Ring `json:"outer"`
	Hole     orb.Ring `json:"hole,omitempty"`
	Color    string   `json:"color"`
	Opacity  float64  `json:"opacity"`
	Editable bool     `json:"editable"`
	ZIndex   int      `json:"zIndex"`
}

func (r Renderable) Polygon() orb.Polygon {
	if len(r.Hole) == 0 {
		return orb.Polygon{r.Outer}
	}
	return orb.Polygon{r.Outer, r.Hole}
}

func (r Renderable) Feature() *geojson.Feature {
	f := geojson.NewFeature(r.Polygon())
	f.ID = r.ZoneID
	f.Properties["id"] = r.ZoneID
	f.Properties["color"] = r.Color
	f.Properties["opacity"] = r.Opacity
	f.Properties["editable"] = r.Editable
	f.Properties["zIndex"] = r.ZIndex
	return f
}

// FeatureCollection converts renders into a GeoJSON feature collection.
func FeatureCollection(renders []Renderable) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range renders {
		fc.Append(r.Feature())
	}
	return fc
}
