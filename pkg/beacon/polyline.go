package beacon

import (
	"errors"
	"math"
	"strings"

	"github.com/exepirit/agribeacon-go/pkg/geo"
)

const polylineScale = 1e5

// ErrInvalidPolyline is returned by DecodePolyline for truncated or
// non-printable input.
var ErrInvalidPolyline = errors.New("invalid polyline")

// EncodePolyline delta-encodes points at 1e-5 degree precision in the
// Google polyline format.
func EncodePolyline(points []geo.Point) string {
	var b strings.Builder
	var prevLat, prevLon int
	for _, p := range points {
		lat := roundHalfUp(p.Latitude * polylineScale)
		lon := roundHalfUp(p.Longitude * polylineScale)
		encodeSigned(&b, lat-prevLat)
		encodeSigned(&b, lon-prevLon)
		prevLat, prevLon = lat, lon
	}
	return b.String()
}

func encodeSigned(b *strings.Builder, n int) {
	v := n << 1
	if n < 0 {
		v = ^v
	}
	for v >= 0x20 {
		b.WriteByte(byte((0x20 | (v & 0x1f)) + 63))
		v >>= 5
	}
	b.WriteByte(byte(v + 63))
}

// DecodePolyline is the inverse of EncodePolyline.
func DecodePolyline(s string) ([]geo.Point, error) {
	var (
		points   []geo.Point
		lat, lon int
		i        int
	)
	for i < len(s) {
		dLat, n, err := decodeSigned(s[i:])
		if err != nil {
			return nil, err
		}
		i += n
		dLon, n, err := decodeSigned(s[i:])
		if err != nil {
			return nil, err
		}
		i += n

		lat += dLat
		lon += dLon
		points = append(points, geo.Point{
			Latitude:  float64(lat) / polylineScale,
			Longitude: float64(lon) / polylineScale,
		})
	}
	return points, nil
}

func decodeSigned(s string) (value, consumed int, err error) {
	var result, shift int
	for consumed < len(s) {
		c := int(s[consumed]) - 63
		consumed++
		if c < 0 || c > 0x3f {
			return 0, 0, ErrInvalidPolyline
		}
		result |= (c & 0x1f) << shift
		shift += 5
		if c < 0x20 {
			if result&1 != 0 {
				return ^(result >> 1), consumed, nil
			}
			return result >> 1, consumed, nil
		}
		if shift > 60 {
			return 0, 0, ErrInvalidPolyline
		}
	}
	return 0, 0, ErrInvalidPolyline
}

// roundHalfUp rounds half-way values toward positive infinity.
func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}
