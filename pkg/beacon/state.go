package beacon

import (
	"fmt"
)

// LinkState is the lifecycle state of the physical link.
type LinkState int

const (
	StateIdle LinkState = iota
	StateScanning
	StateConnecting
	StateDiscovering
	StateReady
	StateDisconnected
)

func (s LinkState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateDiscovering:
		return "discovering"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("LinkState(%d)", int(s))
	}
}

// ConnectionState is the connection status published to consumers.
type ConnectionState struct {
	DeviceID  string `json:"device_id,omitempty" msgpack:"device_id"`
	Connected bool   `json:"connected" msgpack:"connected"`
	// MTU is the negotiated MTU, nil when unknown.
	MTU *int   `json:"mtu,omitempty" msgpack:"mtu"`
	Err string `json:"error,omitempty" msgpack:"error"`
}

// LinkEvent is emitted on every link state transition.
type LinkEvent struct {
	State      LinkState
	Connection ConnectionState
}

// LinkObserver receives link events. Implementations must not block and must
// not call back into the Link synchronously.
type LinkObserver interface {
	OnLinkEvent(LinkEvent)
}

// LinkObserverFunc adapts a function to LinkObserver.
type LinkObserverFunc func(LinkEvent)

func (f LinkObserverFunc) OnLinkEvent(e LinkEvent) {
	f(e)
}
