package ble

import (
	"github.com/exepirit/agribeacon-go/pkg/beacon"
)

const (
	// minMTU is the smallest ATT MTU, supported by every link.
	minMTU = 23
	// attHeader is the ATT write overhead subtracted from the MTU.
	attHeader = 3
)

// DefaultProperties describes the Nordic UART characteristics. The host
// stack does not report characteristic flags, so capabilities come from
// the profile.
func DefaultProperties() map[string]beacon.Properties {
	return map[string]beacon.Properties{
		beacon.DefaultTXUUID: beacon.PropWrite | beacon.PropWriteWithoutResponse,
		beacon.DefaultRXUUID: beacon.PropNotify,
	}
}

// chunks splits data into writes that fit a link with the given MTU.
func chunks(data []byte, mtu int) [][]byte {
	size := max(mtu, minMTU) - attHeader
	out := make([][]byte, 0, len(data)/size+1)
	for len(data) > size {
		out = append(out, data[:size])
		data = data[size:]
	}
	if len(data) > 0 {
		out = append(out, data)
	}
	return out
}
