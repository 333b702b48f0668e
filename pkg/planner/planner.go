// Package planner computes lawn-mower coverage paths over a flight-area polygon.
package planner

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/exepirit/agribeacon-go/pkg/geo"
)

const (
	AltitudeMin  = 5.5
	AltitudeMax  = 300.0
	AltitudeStep = 0.5

	// DefaultFieldOfView is the camera field of view in degrees.
	DefaultFieldOfView = 23.0

	// overlap is the fraction of the footprint kept between scan lines.
	overlap = 0.8
	// clipSamples is the number of subdivisions used to clip a scan line.
	clipSamples = 20
)

var (
	// ErrTooFewVertices is returned for polygons with less than 3 distinct vertices.
	ErrTooFewVertices = errors.New("polygon needs at least 3 vertices")
	// ErrInvalidParams is returned when flight parameters are out of range.
	ErrInvalidParams = errors.New("invalid flight parameters")
)

// Params are the flight parameters of a coverage mission.
type Params struct {
	// Altitude in meters above home.
	Altitude float64 `json:"altitude" msgpack:"alt"`
	// Heading is the scan direction as a navigation bearing in degrees,
	// 0 is north and positive is clockwise.
	Heading int `json:"heading" msgpack:"hdg"`
	// FieldOfView of the camera in degrees.
	FieldOfView float64 `json:"fov" msgpack:"fov"`
}

// Validate checks the parameters against the ranges accepted by the beacon.
func (p Params) Validate() error {
	switch {
	case p.Altitude < AltitudeMin || p.Altitude > AltitudeMax:
		return fmt.Errorf("%w: altitude %.1f outside [%.1f, %.1f]", ErrInvalidParams, p.Altitude, AltitudeMin, AltitudeMax)
	case p.Heading < -180 || p.Heading > 180:
		return fmt.Errorf("%w: heading %d outside [-180, 180]", ErrInvalidParams, p.Heading)
	}
	return p.validateGeometry()
}

// validateGeometry checks only what Plan needs for a positive line spacing.
func (p Params) validateGeometry() error {
	switch {
	case !(p.Altitude > 0):
		return fmt.Errorf("%w: altitude must be positive", ErrInvalidParams)
	case !(p.FieldOfView > 0 && p.FieldOfView < 180):
		return fmt.Errorf("%w: field of view %.1f outside (0, 180)", ErrInvalidParams, p.FieldOfView)
	}
	return nil
}

// ClampAltitude limits alt to the accepted range and snaps it to AltitudeStep.
func ClampAltitude(alt float64) float64 {
	alt = math.Max(AltitudeMin, math.Min(AltitudeMax, alt))
	return math.Round(alt/AltitudeStep) * AltitudeStep
}

// Waypoint is a point of the flight path.
type Waypoint struct {
	Latitude  float64 `json:"latitude" msgpack:"lat"`
	Longitude float64 `json:"longitude" msgpack:"lon"`
	Altitude  float64 `json:"altitude" msgpack:"alt"`
}

// Point drops the altitude.
func (w Waypoint) Point() geo.Point {
	return geo.Point{Latitude: w.Latitude, Longitude: w.Longitude}
}

// segment is a clipped scan line in the rotated frame.
type segment [2]geo.PlanarPoint

// Plan computes a coverage path over polygon starting from home. The polygon
// is treated as open; a trailing vertex equal to the first is ignored. The
// inputs are never modified. ctx is checked between scan lines.
//
// A polygon with zero height in the scan frame yields an empty path and no error.
func Plan(ctx context.Context, polygon []geo.Point, home geo.Point, p Params) ([]Waypoint, error) {
	if err := p.validateGeometry(); err != nil {
		return nil, err
	}
	polygon = openRing(polygon)
	if len(polygon) < 3 {
		return nil, ErrTooFewVertices
	}

	angle := float64(90-p.Heading) * math.Pi / 180
	homeM := geo.Mercator(home)

	rotated := make([]geo.PlanarPoint, len(polygon))
	for i, v := range polygon {
		rotated[i] = geo.Mercator(v).Sub(homeM).Rotate(-angle)
	}

	minX, maxX := rotated[0].X, rotated[0].X
	minY, maxY := rotated[0].Y, rotated[0].Y
	for _, v := range rotated[1:] {
		minX, maxX = math.Min(minX, v.X), math.Max(maxX, v.X)
		minY, maxY = math.Min(minY, v.Y), math.Max(maxY, v.Y)
	}

	footprint := 2 * p.Altitude * math.Tan(p.FieldOfView/2*math.Pi/180)
	step := footprint * overlap
	height := maxY - minY
	if height <= 0 {
		return []Waypoint{}, nil
	}
	if step > height {
		step = height / 2
	}

	var lines []segment
	for y := minY; y <= maxY; y += step {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s, ok := clip(geo.PlanarPoint{X: minX, Y: y}, geo.PlanarPoint{X: maxX, Y: y}, rotated); ok {
			lines = append(lines, s)
		}
	}
	if len(lines) == 0 {
		mid := (minY + maxY) / 2
		if s, ok := clip(geo.PlanarPoint{X: minX, Y: mid}, geo.PlanarPoint{X: maxX, Y: mid}, rotated); ok {
			lines = append(lines, s)
		}
	}

	path := tour(lines)
	waypoints := make([]Waypoint, len(path))
	for i, pt := range path {
		g := geo.InverseMercator(pt.Rotate(angle).Add(homeM))
		waypoints[i] = Waypoint{Latitude: g.Latitude, Longitude: g.Longitude, Altitude: p.Altitude}
	}
	return waypoints, nil
}

func openRing(polygon []geo.Point) []geo.Point {
	n := len(polygon)
	if n > 3 && polygon[0] == polygon[n-1] {
		return polygon[:n-1]
	}
	return polygon
}

// clip samples the segment a-b and returns the part between the first and
// last sample inside poly.
func clip(a, b geo.PlanarPoint, poly []geo.PlanarPoint) (segment, bool) {
	at := func(t float64) geo.PlanarPoint {
		return geo.PlanarPoint{X: a.X + t*(b.X-a.X), Y: a.Y + t*(b.Y-a.Y)}
	}

	entry := -1
	for i := 0; i <= clipSamples; i++ {
		if pointInPolygon(at(float64(i)/clipSamples), poly) {
			entry = i
			break
		}
	}
	if entry < 0 {
		return segment{}, false
	}
	exit := -1
	for i := clipSamples; i >= 0; i-- {
		if pointInPolygon(at(float64(i)/clipSamples), poly) {
			exit = i
			break
		}
	}
	if exit <= entry {
		return segment{}, false
	}
	return segment{at(float64(entry) / clipSamples), at(float64(exit) / clipSamples)}, true
}

// pointInPolygon is an even-odd ray casting test.
func pointInPolygon(p geo.PlanarPoint, pts []geo.PlanarPoint) bool {
	inside := false
	for i := 0; i < len(pts); i++ {
		p0, p1 := pts[i], pts[(i+1)%len(pts)]
		if (p0.Y <= p.Y && p.Y < p1.Y) || (p1.Y <= p.Y && p.Y < p0.Y) {
			x := p0.X + (p.Y-p0.Y)*(p1.X-p0.X)/(p1.Y-p0.Y)
			if x > p.X {
				inside = !inside
			}
		}
	}
	return inside
}
