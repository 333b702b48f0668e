package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/exepirit/agribeacon-go/internal/log"
	"github.com/exepirit/agribeacon-go/pkg/geo"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of plans kept by a Planner.
const DefaultCacheSize = 64

// Planner memoizes Plan results. Slider driven UIs re-plan the same inputs
// many times while the operator settles on a value.
type Planner struct {
	Logger log.Logger

	cache *lru.Cache[string, []Waypoint]
}

// NewPlanner creates a Planner that keeps up to size results.
func NewPlanner(size int) (*Planner, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []Waypoint](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan cache: %w", err)
	}
	return &Planner{cache: cache}, nil
}

// Plan returns a cached path for identical inputs or computes a new one.
// The returned slice is owned by the caller.
func (pl *Planner) Plan(ctx context.Context, polygon []geo.Point, home geo.Point, p Params) ([]Waypoint, error) {
	key := cacheKey(polygon, home, p)
	if wps, ok := pl.cache.Get(key); ok {
		log.OrNOOP(pl.Logger).Debug("Plan cache hit", "waypoints", len(wps))
		return append([]Waypoint(nil), wps...), nil
	}

	wps, err := Plan(ctx, polygon, home, p)
	if err != nil {
		return nil, err
	}
	pl.cache.Add(key, wps)
	log.OrNOOP(pl.Logger).Debug("Plan computed", "vertices", len(polygon), "waypoints", len(wps))
	return append([]Waypoint(nil), wps...), nil
}

// Purge drops every cached plan.
func (pl *Planner) Purge() {
	pl.cache.Purge()
}

// Len is the number of cached plans.
func (pl *Planner) Len() int {
	return pl.cache.Len()
}

func cacheKey(polygon []geo.Point, home geo.Point, p Params) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%g|%d|%g|%g,%g|", p.Altitude, p.Heading, p.FieldOfView, home.Latitude, home.Longitude)
	for _, v := range polygon {
		fmt.Fprintf(&b, "%g,%g;", v.Latitude, v.Longitude)
	}
	return b.String()
}
