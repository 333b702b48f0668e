package beacon

import (
	"math"
	"strconv"
	"strings"

	"github.com/exepirit/agribeacon-go/pkg/geo"
)

// DroneState is a typed view of the well-known telemetry keys. Nil fields
// have not been reported yet.
type DroneState struct {
	Home     *geo.Point `json:"home,omitempty"`
	Battery  *int       `json:"battery,omitempty"`
	Status   *int       `json:"status,omitempty"`
	EKF      *int       `json:"ekf,omitempty"`
	Progress string     `json:"progress,omitempty"`
}

// DroneStateFrom builds a DroneState from a codec snapshot.
func DroneStateFrom(snapshot map[string]TelemetryField) DroneState {
	var d DroneState
	for _, f := range snapshot {
		d.ApplyField(f)
	}
	return d
}

// Ready reports whether the beacon accepts a START command.
func (d DroneState) Ready() bool {
	return d.Status != nil && *d.Status == 1
}

// ApplyField updates the view with f. Values that do not parse leave the
// previous value in place.
func (d *DroneState) ApplyField(f TelemetryField) {
	switch f.Key {
	case KeyHome:
		if p, ok := parseHome(f.Value); ok {
			d.Home = &p
		}
	case KeyBattery:
		b, err := strconv.ParseFloat(strings.TrimSpace(f.Value), 64)
		if err == nil && b >= 0 && b <= 100 {
			v := int(math.Floor(b + 0.5))
			d.Battery = &v
		}
	case KeyStatus:
		if v, err := strconv.Atoi(strings.TrimSpace(f.Value)); err == nil {
			d.Status = &v
		}
	case KeyEKF:
		if v, err := strconv.Atoi(strings.TrimSpace(f.Value)); err == nil {
			d.EKF = &v
		}
	case KeyProgress:
		d.Progress = f.Value
	}
}

// parseHome reads "lat_e7,lon_e7".
func parseHome(s string) (geo.Point, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return geo.Point{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geo.Point{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geo.Point{}, false
	}
	return geo.Point{Latitude: lat / 1e7, Longitude: lon / 1e7}, true
}
