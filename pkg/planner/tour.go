package planner

import (
	"math"

	"github.com/exepirit/agribeacon-go/pkg/geo"
)

// tour stitches scan lines into one path with a greedy nearest endpoint
// search starting at the origin. A line is flown in reverse when its far
// end is the closer one. Ties keep the earlier line and prefer its first end.
func tour(lines []segment) []geo.PlanarPoint {
	path := make([]geo.PlanarPoint, 0, 2*len(lines))
	visited := make([]bool, len(lines))
	var current geo.PlanarPoint

	for range lines {
		best, reverse := -1, false
		bestDist := math.Inf(1)
		for i, l := range lines {
			if visited[i] {
				continue
			}
			if d := current.DistSq(l[0]); d < bestDist {
				best, bestDist, reverse = i, d, false
			}
			if d := current.DistSq(l[1]); d < bestDist {
				best, bestDist, reverse = i, d, true
			}
		}
		if best < 0 {
			break
		}

		visited[best] = true
		l := lines[best]
		if reverse {
			l[0], l[1] = l[1], l[0]
		}
		path = append(path, l[0], l[1])
		current = l[1]
	}
	return path
}
