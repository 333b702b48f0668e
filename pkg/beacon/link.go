package beacon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/exepirit/agribeacon-go/internal/log"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultMTU            = 512

	// Nordic UART service used by the beacon firmware.
	DefaultServiceUUID = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	DefaultTXUUID      = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	DefaultRXUUID      = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
	DefaultTargetName  = "AgriBeacon BLE"
)

// ErrLinkClosed is returned by operations on a closed Link.
var ErrLinkClosed = errors.New("link is closed")

// LinkConfig identifies the beacon and its characteristics.
type LinkConfig struct {
	// TargetName is the advertised name to connect to.
	TargetName  string
	ServiceUUID string
	// TXUUID is the characteristic commands are written to.
	TXUUID string
	// RXUUID is the characteristic telemetry is notified on.
	RXUUID         string
	ConnectTimeout time.Duration
	MTU            int
}

// DefaultLinkConfig returns the configuration of the stock beacon firmware.
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		TargetName:     DefaultTargetName,
		ServiceUUID:    DefaultServiceUUID,
		TXUUID:         DefaultTXUUID,
		RXUUID:         DefaultRXUUID,
		ConnectTimeout: DefaultConnectTimeout,
		MTU:            DefaultMTU,
	}
}

func (c LinkConfig) withDefaults() LinkConfig {
	d := DefaultLinkConfig()
	if c.TargetName == "" {
		c.TargetName = d.TargetName
	}
	if c.ServiceUUID == "" {
		c.ServiceUUID = d.ServiceUUID
	}
	if c.TXUUID == "" {
		c.TXUUID = d.TXUUID
	}
	if c.RXUUID == "" {
		c.RXUUID = d.RXUUID
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.MTU <= 0 {
		c.MTU = d.MTU
	}
	return c
}

// Link owns the single connection to the beacon. Physical operations are
// serialized: scan, connect, notification setup, write and read never
// overlap. Observers are notified of every state transition.
type Link struct {
	adapter Adapter
	config  LinkConfig
	logger  log.Logger

	// opMu serializes physical operations.
	opMu sync.Mutex

	mu         sync.Mutex
	state      LinkState
	conn       ConnectionState
	peripheral Peripheral
	// pending is the peripheral being connected, pendingLost its loss
	// reported before Ready.
	pending     Peripheral
	pendingLost error
	scanCancel context.CancelFunc
	scanGen    uint64
	observers  []LinkObserver
	closed     bool
}

// NewLink creates an idle link over adapter.
func NewLink(adapter Adapter, config LinkConfig, logger log.Logger) *Link {
	return &Link{
		adapter: adapter,
		config:  config.withDefaults(),
		logger:  log.OrNOOP(logger),
	}
}

// Config returns the effective configuration.
func (l *Link) Config() LinkConfig {
	return l.config
}

// Observe registers o for link events.
func (l *Link) Observe(o LinkObserver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, o)
}

// State returns the current lifecycle state.
func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Connection returns the last published connection state.
func (l *Link) Connection() ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

// StartScan looks for the target beacon for up to timeout and connects to it.
// It does nothing while a scan or connection is already under way unless
// force is set, in which case the existing connection is dropped and any
// in-flight scan is cancelled first.
func (l *Link) StartScan(ctx context.Context, timeout time.Duration, force bool) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLinkClosed
	}
	if !force && l.state != StateIdle && l.state != StateDisconnected {
		l.mu.Unlock()
		return nil
	}
	if l.scanCancel != nil {
		l.scanCancel()
	}
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	l.scanGen++
	gen := l.scanGen
	l.scanCancel = cancel
	l.mu.Unlock()

	defer func() {
		cancel()
		l.mu.Lock()
		if l.scanGen == gen {
			l.scanCancel = nil
		}
		l.mu.Unlock()
	}()

	l.opMu.Lock()
	defer l.opMu.Unlock()

	if err := scanCtx.Err(); err != nil {
		// superseded by a newer scan while waiting for the link
		return err
	}
	if force {
		l.disconnectLocked()
	}

	l.mu.Lock()
	prev, prevConn := l.state, l.conn
	if prev != StateIdle && prev != StateDisconnected {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	l.transition(StateScanning, prevConn)
	l.logger.Debug("Scanning for beacon", "name", l.config.TargetName, "timeout", timeout)

	var found Advertisement
	err := l.adapter.Scan(scanCtx, func(adv Advertisement) bool {
		if adv.Name != l.config.TargetName {
			return false
		}
		found = adv
		return true
	})
	if err == nil && found.ID == "" {
		err = scanCtx.Err()
		if err == nil {
			err = errors.New("scan stopped without a result")
		}
	}
	if err != nil {
		l.transition(prev, prevConn)
		switch {
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			l.logger.Debug("Beacon not found", "name", l.config.TargetName)
			return ErrScanTimeout
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			l.logger.Warn("Scan failed", "error", err)
			return fmt.Errorf("failed to scan: %w", err)
		}
	}

	l.logger.Info("Beacon found", "id", found.ID, "name", found.Name, "rssi", found.RSSI)
	return l.connectLocked(ctx, found.ID)
}

// Connect opens the peer id directly. It is rejected without side effects
// while a connection is ready.
func (l *Link) Connect(ctx context.Context, id string) error {
	if err := l.connectable(); err != nil {
		return err
	}

	l.opMu.Lock()
	defer l.opMu.Unlock()

	if err := l.connectable(); err != nil {
		return err
	}
	return l.connectLocked(ctx, id)
}

func (l *Link) connectable() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.closed:
		return ErrLinkClosed
	case l.state == StateReady:
		return ErrAlreadyConnected
	case l.state == StateScanning:
		return ErrScanInProgress
	}
	return nil
}

// connectLocked must be called with opMu held.
func (l *Link) connectLocked(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, l.config.ConnectTimeout)
	defer cancel()

	l.transition(StateConnecting, ConnectionState{DeviceID: id})
	p, err := l.adapter.Connect(ctx, id)
	if err != nil {
		l.logger.Warn("Failed to connect beacon", "id", id, "error", err)
		l.transition(StateDisconnected, ConnectionState{DeviceID: id, Err: err.Error()})
		return fmt.Errorf("failed to connect %s: %w", id, err)
	}

	// losses during discovery are recorded against the pending handle
	l.mu.Lock()
	l.pending, l.pendingLost = p, nil
	l.mu.Unlock()
	p.OnDisconnect(func(err error) {
		l.handleDisconnect(p, err)
	})

	l.transition(StateDiscovering, ConnectionState{DeviceID: id})
	err = p.Discover(ctx, l.config.ServiceUUID, []string{l.config.TXUUID, l.config.RXUUID})
	if err != nil {
		l.clearPending(p)
		_ = p.Disconnect()
		l.logger.Warn("Failed to discover beacon services", "id", id, "error", err)
		l.transition(StateDisconnected, ConnectionState{DeviceID: id, Err: err.Error()})
		return fmt.Errorf("failed to discover services on %s: %w", id, err)
	}

	var mtu *int
	granted, err := p.RequestMTU(l.config.MTU)
	if err != nil {
		l.logger.Warn("MTU negotiation failed, using default", "id", id, "error", err)
	} else {
		mtu = &granted
	}

	conn := ConnectionState{DeviceID: p.ID(), Connected: true, MTU: mtu}
	l.mu.Lock()
	lost := l.pendingLost
	l.pending, l.pendingLost = nil, nil
	if lost == nil {
		l.peripheral = p
		l.state, l.conn = StateReady, conn
	}
	observers := append([]LinkObserver(nil), l.observers...)
	l.mu.Unlock()

	if lost != nil {
		_ = p.Disconnect()
		l.logger.Warn("Beacon lost while connecting", "id", id, "reason", lost)
		l.transition(StateDisconnected, ConnectionState{DeviceID: id, Err: lost.Error()})
		return fmt.Errorf("failed to connect %s: %w", id, lost)
	}

	if mtu != nil {
		l.logger.Info("Beacon connected", "id", p.ID(), "mtu", *mtu)
	} else {
		l.logger.Info("Beacon connected", "id", p.ID())
	}
	e := LinkEvent{State: StateReady, Connection: conn}
	for _, o := range observers {
		o.OnLinkEvent(e)
	}
	return nil
}

func (l *Link) clearPending(p Peripheral) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == p {
		l.pending, l.pendingLost = nil, nil
	}
}

// handleDisconnect processes an unsolicited link loss reported by p. A loss
// before the connection is ready fails the pending connect instead.
func (l *Link) handleDisconnect(p Peripheral, err error) {
	if err == nil {
		err = ErrLinkLost
	}
	l.mu.Lock()
	if l.pending == p {
		if l.pendingLost == nil {
			l.pendingLost = err
		}
		l.mu.Unlock()
		return
	}
	if l.peripheral != p {
		l.mu.Unlock()
		return
	}
	l.peripheral = nil
	l.mu.Unlock()

	l.logger.Warn("Beacon disconnected", "id", p.ID(), "reason", err)
	l.transition(StateDisconnected, ConnectionState{DeviceID: p.ID(), Err: err.Error()})
}

// Disconnect drops the connection and cancels any in-flight scan. The link
// goes back to Idle, which does not trigger reconnection.
func (l *Link) Disconnect() {
	l.cancelScan()
	l.opMu.Lock()
	defer l.opMu.Unlock()
	l.disconnectLocked()
}

func (l *Link) disconnectLocked() {
	l.mu.Lock()
	p := l.peripheral
	l.peripheral = nil
	state := l.state
	l.mu.Unlock()

	if p == nil {
		if state == StateDisconnected {
			l.transition(StateIdle, ConnectionState{})
		}
		return
	}
	if err := p.Disconnect(); err != nil {
		l.logger.Warn("Failed to disconnect beacon", "id", p.ID(), "error", err)
	}
	l.logger.Info("Beacon disconnected by request", "id", p.ID())
	l.transition(StateIdle, ConnectionState{DeviceID: p.ID()})
}

// Close disconnects and rejects further scans and connections.
func (l *Link) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.Disconnect()
	return nil
}

func (l *Link) cancelScan() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.scanCancel != nil {
		l.scanCancel()
	}
}

// EnableNotifications subscribes handler to the characteristic uuid. A
// characteristic without notify or indicate yields ErrCapabilityUnsupported.
// A missing or unwritable configuration descriptor is logged and ignored,
// since some peers enable notifications on their own.
func (l *Link) EnableNotifications(uuid string, handler func([]byte)) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	c, err := l.characteristic(uuid)
	if err != nil {
		return err
	}
	props := c.Properties()
	if !props.CanSubscribe() {
		return fmt.Errorf("%w: %s", ErrCapabilityUnsupported, uuid)
	}

	value := cccdNotify
	if !props.Has(PropNotify) {
		value = cccdIndicate
	}
	if d, ok := c.Descriptor(CCCDUUID); !ok {
		l.logger.Debug("Configuration descriptor not found, relying on peer", "characteristic", uuid)
	} else if err := d.Write(value); err != nil {
		l.logger.Warn("Failed to write configuration descriptor", "characteristic", uuid, "error", err)
	}

	if err := c.Subscribe(handler); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", uuid, err)
	}
	l.logger.Debug("Notifications enabled", "characteristic", uuid)
	return nil
}

// Write sends data to the command characteristic.
func (l *Link) Write(ctx context.Context, data []byte) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := l.characteristic(l.config.TXUUID)
	if err != nil {
		return err
	}
	if err := c.Write(data); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportWriteFailed, err)
	}
	return nil
}

// Read reads the telemetry characteristic.
func (l *Link) Read(ctx context.Context) ([]byte, error) {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := l.characteristic(l.config.RXUUID)
	if err != nil {
		return nil, err
	}
	return c.Read()
}

// characteristic must be called with opMu held.
func (l *Link) characteristic(uuid string) (Characteristic, error) {
	l.mu.Lock()
	p, state := l.peripheral, l.state
	l.mu.Unlock()
	if p == nil || state != StateReady {
		return nil, ErrNotConnected
	}
	c, ok := p.Characteristic(uuid)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, uuid)
	}
	return c, nil
}

// transition publishes a new state. Observers run outside of mu.
func (l *Link) transition(state LinkState, conn ConnectionState) {
	l.mu.Lock()
	l.state = state
	l.conn = conn
	observers := append([]LinkObserver(nil), l.observers...)
	l.mu.Unlock()

	e := LinkEvent{State: state, Connection: conn}
	for _, o := range observers {
		o.OnLinkEvent(e)
	}
}
