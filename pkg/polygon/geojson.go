package polygon

import (
	"encoding/json"
	"errors"
	"fmt"

	geojson "github.com/paulmach/go.geojson"
)

// ErrNoPolygon is returned when a GeoJSON document holds no polygon geometry.
var ErrNoPolygon = errors.New("no polygon geometry in GeoJSON document")

// FromGeoJSON reads the outer ring of the first polygon found in a GeoJSON
// FeatureCollection, Feature or bare geometry. The ring is returned open and
// in angular order, with fresh vertex IDs.
func FromGeoJSON(data []byte) ([]Vertex, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("invalid GeoJSON: %w", err)
	}

	var geometries []*geojson.Geometry
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("invalid feature collection: %w", err)
		}
		for _, f := range fc.Features {
			geometries = append(geometries, f.Geometry)
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("invalid feature: %w", err)
		}
		geometries = append(geometries, f.Geometry)
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("invalid geometry: %w", err)
		}
		geometries = append(geometries, g)
	}

	for _, g := range geometries {
		if ring := outerRing(g); len(ring) > 0 {
			vs := make([]Vertex, 0, len(ring))
			for _, c := range ring {
				if len(c) < 2 {
					continue
				}
				vs = append(vs, NewVertex(c[1], c[0]))
			}
			return reorder(Open(vs)), nil
		}
	}
	return nil, ErrNoPolygon
}

func outerRing(g *geojson.Geometry) [][]float64 {
	if g == nil {
		return nil
	}
	switch {
	case g.IsPolygon() && len(g.Polygon) > 0:
		return g.Polygon[0]
	case g.IsMultiPolygon() && len(g.MultiPolygon) > 0 && len(g.MultiPolygon[0]) > 0:
		return g.MultiPolygon[0][0]
	}
	return nil
}

// Feature renders vs as a closed GeoJSON polygon feature.
func Feature(vs []Vertex) *geojson.Feature {
	closed := EnsureClosed(vs)
	ring := make([][]float64, len(closed))
	for i, v := range closed {
		ring[i] = []float64{v.Longitude, v.Latitude}
	}
	f := geojson.NewPolygonFeature([][][]float64{ring})
	f.SetProperty("vertices", len(Open(closed)))
	return f
}
