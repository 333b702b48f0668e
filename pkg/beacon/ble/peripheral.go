package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/exepirit/agribeacon-go/pkg/beacon"
	"tinygo.org/x/bluetooth"
)

// readBufferSize bounds a single characteristic read.
const readBufferSize = 512

var (
	errServiceNotFound = errors.New("service not found")
	errNoMTU           = errors.New("no characteristic to query the MTU")
)

// Peripheral is a connected BLE device.
type Peripheral struct {
	adapter *Adapter
	device  bluetooth.Device
	id      string

	mu           sync.Mutex
	chars        map[string]*Characteristic
	mtu          int
	onDisconnect func(error)
	lostErr      error
}

func (p *Peripheral) ID() string {
	return p.id
}

// Discover resolves service and the listed characteristics.
func (p *Peripheral) Discover(_ context.Context, service string, characteristics []string) error {
	serviceID, err := bluetooth.ParseUUID(service)
	if err != nil {
		return fmt.Errorf("invalid service UUID %q: %w", service, err)
	}
	ids := make([]bluetooth.UUID, 0, len(characteristics))
	for _, c := range characteristics {
		id, err := bluetooth.ParseUUID(c)
		if err != nil {
			return fmt.Errorf("invalid characteristic UUID %q: %w", c, err)
		}
		ids = append(ids, id)
	}

	services, err := p.device.DiscoverServices([]bluetooth.UUID{serviceID})
	switch {
	case err != nil:
		return fmt.Errorf("failed to search service %s: %w", service, err)
	case len(services) < 1:
		return fmt.Errorf("%w: %s on device %s", errServiceNotFound, service, p.id)
	}

	found, err := services[0].DiscoverCharacteristics(ids)
	if err != nil {
		return fmt.Errorf("failed to discover characteristics: %w", err)
	}

	chars := make(map[string]*Characteristic, len(found))
	for _, c := range found {
		uuid := strings.ToLower(c.UUID().String())
		chars[uuid] = &Characteristic{
			peripheral: p,
			char:       c,
			uuid:       uuid,
			props:      p.adapter.properties(uuid),
		}
	}
	p.mu.Lock()
	p.chars = chars
	p.mu.Unlock()
	return nil
}

func (p *Peripheral) Characteristic(uuid string) (beacon.Characteristic, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.chars[strings.ToLower(uuid)]
	if !ok {
		return nil, false
	}
	return c, true
}

// RequestMTU reports the MTU negotiated by the host stack, capped at mtu.
// The stack negotiates on its own; the request only sets the upper bound.
func (p *Peripheral) RequestMTU(mtu int) (int, error) {
	p.mu.Lock()
	var first *Characteristic
	for _, c := range p.chars {
		first = c
		break
	}
	p.mu.Unlock()
	if first == nil {
		return 0, errNoMTU
	}

	granted, err := first.char.GetMTU()
	if err != nil {
		return 0, fmt.Errorf("failed to read MTU: %w", err)
	}
	n := min(int(granted), mtu)
	p.mu.Lock()
	p.mtu = n
	p.mu.Unlock()
	return n, nil
}

// OnDisconnect registers f for link loss. A loss that happened before
// registration is reported to f at once.
func (p *Peripheral) OnDisconnect(f func(error)) {
	p.mu.Lock()
	p.onDisconnect = f
	lost := p.lostErr
	p.mu.Unlock()
	if lost != nil && f != nil {
		f(lost)
	}
}

// Disconnect closes the connection. It is not reported to OnDisconnect.
func (p *Peripheral) Disconnect() error {
	p.adapter.release(p)
	return p.device.Disconnect()
}

func (p *Peripheral) lost(err error) {
	p.mu.Lock()
	p.lostErr = err
	f := p.onDisconnect
	p.mu.Unlock()
	if f != nil {
		f(err)
	}
}

func (p *Peripheral) writeMTU() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mtu
}

// Characteristic is a discovered GATT characteristic.
type Characteristic struct {
	peripheral *Peripheral
	char       bluetooth.DeviceCharacteristic
	uuid       string
	props      beacon.Properties
}

func (c *Characteristic) UUID() string {
	return c.uuid
}

func (c *Characteristic) Properties() beacon.Properties {
	return c.props
}

// Descriptor is never available; the host stack writes the configuration
// descriptor itself when notifications are enabled.
func (c *Characteristic) Descriptor(string) (beacon.Descriptor, bool) {
	return nil, false
}

func (c *Characteristic) Subscribe(handler func([]byte)) error {
	return c.char.EnableNotifications(handler)
}

// Write sends data without response, split into MTU sized chunks.
func (c *Characteristic) Write(data []byte) error {
	for _, chunk := range chunks(data, c.peripheral.writeMTU()) {
		if _, err := c.char.WriteWithoutResponse(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (c *Characteristic) Read() ([]byte, error) {
	buf := make([]byte, readBufferSize)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
