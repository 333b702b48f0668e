package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/exepirit/agribeacon-go/internal/log"
	"github.com/exepirit/agribeacon-go/pkg/beacon"
	"tinygo.org/x/bluetooth"
)

// ErrUnknownDevice is returned by Connect for an address no scan has seen.
var ErrUnknownDevice = errors.New("device was not seen by a scan")

var _ beacon.Adapter = &Adapter{}

// Adapter drives a host Bluetooth radio.
type Adapter struct {
	radio  *bluetooth.Adapter
	logger log.Logger
	props  map[string]beacon.Properties

	enableOnce sync.Once
	enableErr  error

	mu        sync.Mutex
	seen      map[string]bluetooth.Address
	connected map[string]*Peripheral
}

// NewAdapter wraps radio. props overrides the capabilities reported for
// characteristics; nil selects DefaultProperties.
func NewAdapter(radio *bluetooth.Adapter, props map[string]beacon.Properties, logger log.Logger) *Adapter {
	if props == nil {
		props = DefaultProperties()
	}
	return &Adapter{
		radio:     radio,
		logger:    log.OrNOOP(logger),
		props:     props,
		seen:      make(map[string]bluetooth.Address),
		connected: make(map[string]*Peripheral),
	}
}

// NewDefaultAdapter wraps the default system radio.
func NewDefaultAdapter(logger log.Logger) *Adapter {
	return NewAdapter(bluetooth.DefaultAdapter, nil, logger)
}

func (a *Adapter) enable() error {
	a.enableOnce.Do(func() {
		if err := a.radio.Enable(); err != nil {
			a.enableErr = fmt.Errorf("failed to enable bluetooth adapter: %w", err)
			return
		}
		a.radio.SetConnectHandler(a.handleConnect)
	})
	return a.enableErr
}

// Scan reports advertisements until found accepts one or ctx is done.
func (a *Adapter) Scan(ctx context.Context, found func(beacon.Advertisement) bool) error {
	if err := a.enable(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = a.radio.StopScan()
	})
	defer stop()

	var matched atomic.Bool
	err := a.radio.Scan(func(radio *bluetooth.Adapter, result bluetooth.ScanResult) {
		if matched.Load() {
			return
		}
		adv := beacon.Advertisement{
			ID:   result.Address.String(),
			Name: result.LocalName(),
			RSSI: int(result.RSSI),
		}
		a.mu.Lock()
		a.seen[adv.ID] = result.Address
		a.mu.Unlock()

		if found(adv) {
			matched.Store(true)
			_ = radio.StopScan()
		}
	})
	if err != nil {
		return fmt.Errorf("failed to seek device: %w", err)
	}
	if matched.Load() {
		return nil
	}
	return ctx.Err()
}

// Connect opens a device previously reported by Scan.
func (a *Adapter) Connect(ctx context.Context, id string) (beacon.Peripheral, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	addr, ok := a.seen[id]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}

	type result struct {
		device bluetooth.Device
		err    error
	}
	res := make(chan result, 1)
	go func() {
		device, err := a.radio.Connect(addr, bluetooth.ConnectionParams{})
		res <- result{device, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			// the stack cannot abort a pending connect, release it once it lands
			if r := <-res; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return nil, ctx.Err()
	case r := <-res:
		if r.err != nil {
			return nil, fmt.Errorf("failed to connect device %s: %w", id, r.err)
		}
		p := &Peripheral{adapter: a, device: r.device, id: id}
		a.mu.Lock()
		a.connected[id] = p
		a.mu.Unlock()
		return p, nil
	}
}

// handleConnect receives link changes from the host stack.
func (a *Adapter) handleConnect(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	id := device.Address.String()
	a.mu.Lock()
	p, ok := a.connected[id]
	delete(a.connected, id)
	a.mu.Unlock()
	if ok {
		a.logger.Debug("Device link lost", "id", id)
		p.lost(errors.New("bluetooth link lost"))
	}
}

// release forgets p so that its solicited disconnect is not reported.
func (a *Adapter) release(p *Peripheral) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected[p.id] == p {
		delete(a.connected, p.id)
	}
}

func (a *Adapter) properties(uuid string) beacon.Properties {
	if p, ok := a.props[strings.ToLower(uuid)]; ok {
		return p
	}
	return beacon.PropRead | beacon.PropWrite | beacon.PropWriteWithoutResponse | beacon.PropNotify
}
