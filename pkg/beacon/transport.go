package beacon

import (
	"context"
)

// CCCDUUID is the client characteristic configuration descriptor.
const CCCDUUID = "00002902-0000-1000-8000-00805f9b34fb"

var (
	// cccdNotify enables notifications, little endian 0x0001.
	cccdNotify = []byte{0x01, 0x00}
	// cccdIndicate enables indications, little endian 0x0002.
	cccdIndicate = []byte{0x02, 0x00}
)

// Properties is a characteristic capability bitmask.
type Properties uint8

const (
	PropRead Properties = 1 << iota
	PropWrite
	PropWriteWithoutResponse
	PropNotify
	PropIndicate
)

func (p Properties) Has(q Properties) bool {
	return p&q == q
}

// CanSubscribe reports whether the characteristic can push updates.
func (p Properties) CanSubscribe() bool {
	return p.Has(PropNotify) || p.Has(PropIndicate)
}

// Advertisement is a peer seen while scanning.
type Advertisement struct {
	ID   string
	Name string
	RSSI int
}

// Adapter is a radio (or port enumerator) able to find and open peers.
type Adapter interface {
	// Scan reports advertisements to found until found returns true, ctx is
	// done or an error occurs. It returns ctx.Err() when ctx ends the scan.
	Scan(ctx context.Context, found func(Advertisement) bool) error
	// Connect opens the peer with the given ID.
	Connect(ctx context.Context, id string) (Peripheral, error)
}

// Peripheral is an open connection to a peer.
type Peripheral interface {
	ID() string
	// Discover resolves the service and the listed characteristics.
	Discover(ctx context.Context, service string, characteristics []string) error
	Characteristic(uuid string) (Characteristic, bool)
	// RequestMTU asks for mtu and returns what the peer granted.
	RequestMTU(mtu int) (int, error)
	// OnDisconnect registers a callback for unsolicited link loss.
	OnDisconnect(func(err error))
	Disconnect() error
}

// Characteristic is a discovered attribute of a Peripheral.
type Characteristic interface {
	UUID() string
	Properties() Properties
	Descriptor(uuid string) (Descriptor, bool)
	// Subscribe delivers every notification to handler. The handler runs on
	// the backend's delivery goroutine and must not block.
	Subscribe(handler func([]byte)) error
	Write(data []byte) error
	Read() ([]byte, error)
}

// Descriptor is a writable characteristic descriptor.
type Descriptor interface {
	Write(data []byte) error
}
