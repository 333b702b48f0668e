package planner

import (
	"context"

	"github.com/exepirit/agribeacon-go/pkg/geo"
	"github.com/exepirit/agribeacon-go/pkg/polygon"
)

const (
	// SurveyBuffer is how far the survey area extends past the drawn polygon, in meters.
	SurveyBuffer = 50.0
	// SurveyAltitude is the fixed altitude of a photo survey.
	SurveyAltitude = 300.0
	// SurveyHeading is the fixed heading of a photo survey.
	SurveyHeading = 0
)

// Mission is a planned flight: the polygon sent to the beacon, the
// parameters it is flown with and the preview path.
type Mission struct {
	Polygon   []geo.Point `json:"polygon" msgpack:"polygon"`
	Params    Params      `json:"params" msgpack:"params"`
	Waypoints []Waypoint  `json:"waypoints" msgpack:"waypoints"`
}

// planFunc matches Plan and Planner.Plan.
type planFunc func(ctx context.Context, polygon []geo.Point, home geo.Point, p Params) ([]Waypoint, error)

// CoverageMission orders the drawn vertices, plans over them and returns the
// open polygon that is transmitted to the beacon. When home is nil the first
// vertex is used.
func CoverageMission(ctx context.Context, vs []polygon.Vertex, home *geo.Point, p Params) (Mission, error) {
	return buildMission(ctx, Plan, polygon.EnsureClosed(polygon.OrderSimple(vs)), home, p)
}

// SurveyMission buffers the drawn polygon outward and plans a photo survey at
// a fixed altitude and heading.
func SurveyMission(ctx context.Context, vs []polygon.Vertex, home *geo.Point) (Mission, error) {
	closed := polygon.EnsureClosed(polygon.OrderSimple(vs))
	return buildMission(ctx, Plan, polygon.BufferOutward(closed, SurveyBuffer), home, Params{
		Altitude:    SurveyAltitude,
		Heading:     SurveyHeading,
		FieldOfView: DefaultFieldOfView,
	})
}

// CoverageMission is the cached variant of the package level function.
func (pl *Planner) CoverageMission(ctx context.Context, vs []polygon.Vertex, home *geo.Point, p Params) (Mission, error) {
	return buildMission(ctx, pl.Plan, polygon.EnsureClosed(polygon.OrderSimple(vs)), home, p)
}

func buildMission(ctx context.Context, plan planFunc, closed []polygon.Vertex, home *geo.Point, p Params) (Mission, error) {
	if len(closed) < 4 {
		return Mission{}, ErrTooFewVertices
	}
	open := polygon.Points(closed[:len(closed)-1])

	origin := open[0]
	if home != nil {
		origin = *home
	}
	wps, err := plan(ctx, open, origin, p)
	if err != nil {
		return Mission{}, err
	}
	return Mission{Polygon: open, Params: p, Waypoints: wps}, nil
}
