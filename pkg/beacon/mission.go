package beacon

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/exepirit/agribeacon-go/pkg/geo"
)

// StartCommand tells a ready beacon to fly the uploaded mission.
const StartCommand = "START\r\n"

// EncodeMission formats the scan mission command for polygon.
func EncodeMission(polygon []geo.Point, altitude float64, heading float64) string {
	return fmt.Sprintf("MISSION_SCAN%d::%d::%s\r\n",
		roundHalfUp(altitude), roundHalfUp(heading), EncodePolyline(polygon))
}

// ParseProgress parses an upload progress report "a/b".
func ParseProgress(s string) (a, b int, ok bool) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0, 0, false
	}
	a, errA := strconv.Atoi(strings.TrimSpace(parts[0]))
	b, errB := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errA != nil || errB != nil {
		return 0, 0, false
	}
	return a, b, true
}

// ProgressComplete reports whether s signals a completed upload.
func ProgressComplete(s string) bool {
	a, b, ok := ParseProgress(s)
	return ok && a == b
}
