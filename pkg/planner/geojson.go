package planner

import (
	geojson "github.com/paulmach/go.geojson"
)

// FeatureCollection renders a mission as GeoJSON: the area polygon, the path
// as a line string and the path start as a point.
func (m Mission) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	if len(m.Polygon) >= 3 {
		ring := make([][]float64, 0, len(m.Polygon)+1)
		for _, p := range m.Polygon {
			ring = append(ring, []float64{p.Longitude, p.Latitude})
		}
		ring = append(ring, ring[0])
		area := geojson.NewPolygonFeature([][][]float64{ring})
		area.SetProperty("kind", "area")
		area.SetProperty("altitude", m.Params.Altitude)
		area.SetProperty("heading", m.Params.Heading)
		fc.AddFeature(area)
	}

	if len(m.Waypoints) > 0 {
		line := make([][]float64, len(m.Waypoints))
		for i, w := range m.Waypoints {
			line[i] = []float64{w.Longitude, w.Latitude, w.Altitude}
		}
		path := geojson.NewLineStringFeature(line)
		path.SetProperty("kind", "path")
		s := Summarize(m.Waypoints)
		path.SetProperty("scan_lines", s.ScanLines)
		path.SetProperty("length_m", s.LengthM)
		fc.AddFeature(path)

		start := geojson.NewPointFeature(line[0])
		start.SetProperty("kind", "start")
		fc.AddFeature(start)
	}
	return fc
}
