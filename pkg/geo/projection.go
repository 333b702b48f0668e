// Package geo converts between WGS84 coordinates and a planar spherical
// Web-Mercator frame measured in meters.
package geo

import "math"

// EarthRadius is the sphere radius used by the Web-Mercator projection, in meters.
const EarthRadius = 6378137.0

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PlanarPoint is a position in meters in a projected frame.
type PlanarPoint struct {
	X float64
	Y float64
}

// Mercator projects p into the absolute Web-Mercator frame.
func Mercator(p Point) PlanarPoint {
	return PlanarPoint{
		X: EarthRadius * p.Longitude * math.Pi / 180,
		Y: EarthRadius * math.Log(math.Tan(math.Pi/4+p.Latitude*math.Pi/360)),
	}
}

// InverseMercator converts an absolute Web-Mercator position back to degrees.
func InverseMercator(pp PlanarPoint) Point {
	return Point{
		Latitude:  (2*math.Atan(math.Exp(pp.Y/EarthRadius)) - math.Pi/2) * 180 / math.Pi,
		Longitude: pp.X / EarthRadius * 180 / math.Pi,
	}
}

// ToPlanar projects p and translates the result so that origin maps to (0,0).
func ToPlanar(origin, p Point) PlanarPoint {
	return Mercator(p).Sub(Mercator(origin))
}

// ToGeo is the inverse of ToPlanar.
func ToGeo(origin Point, p PlanarPoint) Point {
	return InverseMercator(p.Add(Mercator(origin)))
}

func (p PlanarPoint) Add(q PlanarPoint) PlanarPoint {
	return PlanarPoint{X: p.X + q.X, Y: p.Y + q.Y}
}

func (p PlanarPoint) Sub(q PlanarPoint) PlanarPoint {
	return PlanarPoint{X: p.X - q.X, Y: p.Y - q.Y}
}

// Rotate turns p counter-clockwise around the origin by angle radians.
func (p PlanarPoint) Rotate(angle float64) PlanarPoint {
	sin, cos := math.Sincos(angle)
	return PlanarPoint{
		X: p.X*cos - p.Y*sin,
		Y: p.X*sin + p.Y*cos,
	}
}

// DistSq is the squared euclidean distance between p and q.
func (p PlanarPoint) DistSq(q PlanarPoint) float64 {
	dx, dy := p.X-q.X, p.Y-q.Y
	return dx*dx + dy*dy
}
