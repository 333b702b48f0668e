package planner

import (
	kgeo "github.com/kellydunn/golang-geo"
)

// Summary describes a planned path.
type Summary struct {
	Waypoints int
	ScanLines int
	// LengthM is the great-circle length of the path in meters.
	LengthM float64
}

// Summarize measures wps.
func Summarize(wps []Waypoint) Summary {
	s := Summary{Waypoints: len(wps), ScanLines: len(wps) / 2}
	for i := 1; i < len(wps); i++ {
		a := kgeo.NewPoint(wps[i-1].Latitude, wps[i-1].Longitude)
		b := kgeo.NewPoint(wps[i].Latitude, wps[i].Longitude)
		s.LengthM += a.GreatCircleDistance(b) * 1000
	}
	return s
}
