// Package polygon holds the flight-area vertex list and the geometry
// helpers that keep it in a drawable, plannable shape.
package polygon

import (
	"math"
	"sort"

	"github.com/exepirit/agribeacon-go/pkg/geo"
	"github.com/google/uuid"
)

const (
	// closeTolerance is the per-axis distance in degrees under which two
	// vertices are treated as the same point.
	closeTolerance = 1e-7
	// metersPerDegree is the length of one degree of latitude.
	metersPerDegree = 111320.0
)

// Vertex is a polygon corner. ID is stable across reorderings.
type Vertex struct {
	ID        string  `json:"id" msgpack:"id"`
	Latitude  float64 `json:"latitude" msgpack:"lat"`
	Longitude float64 `json:"longitude" msgpack:"lon"`
}

// NewVertex creates a vertex with a fresh ID.
func NewVertex(lat, lon float64) Vertex {
	return Vertex{ID: uuid.NewString(), Latitude: lat, Longitude: lon}
}

// Point drops the ID.
func (v Vertex) Point() geo.Point {
	return geo.Point{Latitude: v.Latitude, Longitude: v.Longitude}
}

func coincide(a, b Vertex) bool {
	return math.Abs(a.Latitude-b.Latitude) < closeTolerance &&
		math.Abs(a.Longitude-b.Longitude) < closeTolerance
}

// IsClosed reports whether the last vertex repeats the first one.
func IsClosed(vs []Vertex) bool {
	return len(vs) > 1 && coincide(vs[0], vs[len(vs)-1])
}

// Open returns vs without a trailing closing duplicate.
func Open(vs []Vertex) []Vertex {
	if len(vs) > 3 && IsClosed(vs) {
		return vs[:len(vs)-1]
	}
	return vs
}

// OrderSimple sorts vertices by their angle around the centroid. The result
// approximates a simple polygon and is only guaranteed simple for input that
// is star-shaped from its centroid. A closing duplicate is dropped first.
// Inputs with fewer than 3 vertices are returned as a copy.
func OrderSimple(vs []Vertex) []Vertex {
	if len(vs) < 3 {
		return append([]Vertex(nil), vs...)
	}
	sorted := append([]Vertex(nil), Open(vs)...)

	var cx, cy float64
	for _, v := range sorted {
		cx += v.Longitude
		cy += v.Latitude
	}
	cx /= float64(len(sorted))
	cy /= float64(len(sorted))

	keys := make([]float64, len(sorted))
	for i, v := range sorted {
		keys[i] = math.Atan2(v.Latitude-cy, v.Longitude-cx)
	}
	idx := make([]int, len(sorted))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return keys[idx[i]] < keys[idx[j]]
	})

	out := make([]Vertex, len(sorted))
	for i, k := range idx {
		out[i] = sorted[k]
	}
	return out
}

// EnsureClosed appends a copy of the first vertex unless the last one
// already coincides with it.
func EnsureClosed(vs []Vertex) []Vertex {
	out := append([]Vertex(nil), vs...)
	if len(vs) < 3 || IsClosed(vs) {
		return out
	}
	return append(out, vs[0])
}

// signedArea is the shoelace area in degree space, positive for
// counter-clockwise rings.
func signedArea(vs []Vertex) float64 {
	var a float64
	for i := range vs {
		j := (i + 1) % len(vs)
		a += vs[i].Longitude*vs[j].Latitude - vs[j].Longitude*vs[i].Latitude
	}
	return a / 2
}

// edgeNormal returns the unit outward normal of edge a->b as (x=lon, y=lat).
// Zero length edges give a zero normal.
func edgeNormal(a, b Vertex, ccw bool) (float64, float64) {
	dx := b.Longitude - a.Longitude
	dy := b.Latitude - a.Latitude
	l := math.Hypot(dx, dy)
	if l == 0 {
		return 0, 0
	}
	if ccw {
		return dy / l, -dx / l
	}
	return -dy / l, dx / l
}

// BufferOutward offsets every vertex by distanceM meters along the bisector
// of its adjacent edge normals. The result is closed.
func BufferOutward(vs []Vertex, distanceM float64) []Vertex {
	ring := vs
	if IsClosed(ring) {
		ring = ring[:len(ring)-1]
	}
	if len(ring) < 3 {
		return append([]Vertex(nil), vs...)
	}
	ccw := signedArea(ring) >= 0

	n := len(ring)
	out := make([]Vertex, n)
	for i, v := range ring {
		prev := ring[(i-1+n)%n]
		next := ring[(i+1)%n]
		ax, ay := edgeNormal(prev, v, ccw)
		bx, by := edgeNormal(v, next, ccw)
		nx, ny := ax+bx, ay+by
		if l := math.Hypot(nx, ny); l > 0 {
			nx, ny = nx/l, ny/l
		}

		dLat := ny * distanceM / metersPerDegree
		dLon := nx * distanceM / (metersPerDegree * math.Cos(v.Latitude*math.Pi/180))
		out[i] = Vertex{
			ID:        v.ID,
			Latitude:  v.Latitude + dLat,
			Longitude: v.Longitude + dLon,
		}
	}
	return EnsureClosed(out)
}

// Bounds is an axis-aligned box in degrees.
type Bounds struct {
	MinLatitude  float64
	MaxLatitude  float64
	MinLongitude float64
	MaxLongitude float64
}

// Contains reports whether p lies inside b, edges included.
func (b Bounds) Contains(p geo.Point) bool {
	return p.Latitude >= b.MinLatitude && p.Latitude <= b.MaxLatitude &&
		p.Longitude >= b.MinLongitude && p.Longitude <= b.MaxLongitude
}

// BoundsOf computes the bounding box of a polygon with at least 3 vertices.
func BoundsOf(vs []Vertex) (Bounds, bool) {
	if len(vs) < 3 {
		return Bounds{}, false
	}
	b := Bounds{
		MinLatitude:  math.Inf(1),
		MaxLatitude:  math.Inf(-1),
		MinLongitude: math.Inf(1),
		MaxLongitude: math.Inf(-1),
	}
	for _, v := range Open(vs) {
		b.MinLatitude = math.Min(b.MinLatitude, v.Latitude)
		b.MaxLatitude = math.Max(b.MaxLatitude, v.Latitude)
		b.MinLongitude = math.Min(b.MinLongitude, v.Longitude)
		b.MaxLongitude = math.Max(b.MaxLongitude, v.Longitude)
	}
	return b, true
}

// Center is the vertex mean of a polygon with at least 3 vertices.
func Center(vs []Vertex) (geo.Point, bool) {
	if len(vs) < 3 {
		return geo.Point{}, false
	}
	open := Open(vs)
	var c geo.Point
	for _, v := range open {
		c.Latitude += v.Latitude
		c.Longitude += v.Longitude
	}
	c.Latitude /= float64(len(open))
	c.Longitude /= float64(len(open))
	return c, true
}

// SameOrder reports whether a and b list the same vertex IDs in the same order.
func SameOrder(a, b []Vertex) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

// Points converts vertices to plain coordinates.
func Points(vs []Vertex) []geo.Point {
	out := make([]geo.Point, len(vs))
	for i, v := range vs {
		out[i] = v.Point()
	}
	return out
}
