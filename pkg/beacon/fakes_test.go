package beacon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// eventually polls cond until it holds or the test times out.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), c: make(chan time.Time, 1)}
	if d <= 0 {
		t.fired = true
		t.c <- c.now
	}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock and fires every timer that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	active := c.timers[:0]
	for _, t := range c.timers {
		if t.stopped || t.fired {
			continue
		}
		if !t.at.After(c.now) {
			t.fired = true
			t.c <- c.now
			continue
		}
		active = append(active, t)
	}
	c.timers = active
}

// Pending is the number of armed timers.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	c       chan time.Time
	stopped bool
	fired   bool
}

func (t *fakeTimer) C() <-chan time.Time {
	return t.c
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	armed := !t.stopped && !t.fired
	t.stopped = true
	return armed
}

type fakeDescriptor struct {
	mu     sync.Mutex
	writes [][]byte
	err    error
}

func (d *fakeDescriptor) Write(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = append(d.writes, append([]byte(nil), data...))
	return d.err
}

func (d *fakeDescriptor) Writes() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

type fakeCharacteristic struct {
	uuid  string
	props Properties
	cccd  *fakeDescriptor

	mu       sync.Mutex
	handler  func([]byte)
	writes   []string
	writeErr error
	value    []byte
}

func (c *fakeCharacteristic) UUID() string {
	return c.uuid
}

func (c *fakeCharacteristic) Properties() Properties {
	return c.props
}

func (c *fakeCharacteristic) Descriptor(uuid string) (Descriptor, bool) {
	if uuid != CCCDUUID || c.cccd == nil {
		return nil, false
	}
	return c.cccd, true
}

func (c *fakeCharacteristic) Subscribe(handler func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
	return nil
}

func (c *fakeCharacteristic) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

// notify delivers data like a backend notification would.
func (c *fakeCharacteristic) notify(data string) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h([]byte(data))
	}
}

func (c *fakeCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, string(data))
	return nil
}

func (c *fakeCharacteristic) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

func (c *fakeCharacteristic) Read() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, nil
}

type fakePeripheral struct {
	id          string
	chars       map[string]*fakeCharacteristic
	discoverErr error
	mtu         int
	mtuErr      error
	// lostDuringMTU is reported as a link loss while the MTU is negotiated.
	lostDuringMTU error

	mu           sync.Mutex
	onDisconnect func(error)
	disconnected bool
}

func (p *fakePeripheral) ID() string {
	return p.id
}

func (p *fakePeripheral) Discover(ctx context.Context, service string, characteristics []string) error {
	return p.discoverErr
}

func (p *fakePeripheral) Characteristic(uuid string) (Characteristic, bool) {
	c, ok := p.chars[uuid]
	if !ok {
		return nil, false
	}
	return c, true
}

func (p *fakePeripheral) RequestMTU(mtu int) (int, error) {
	if p.lostDuringMTU != nil {
		p.drop(p.lostDuringMTU)
		return 0, errors.New("att: connection closed")
	}
	if p.mtuErr != nil {
		return 0, p.mtuErr
	}
	return min(mtu, p.mtu), nil
}

func (p *fakePeripheral) OnDisconnect(f func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDisconnect = f
}

func (p *fakePeripheral) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = true
	return nil
}

func (p *fakePeripheral) Disconnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnected
}

// drop simulates an unsolicited link loss.
func (p *fakePeripheral) drop(err error) {
	p.mu.Lock()
	f := p.onDisconnect
	p.mu.Unlock()
	if f != nil {
		f(err)
	}
}

func (p *fakePeripheral) tx() *fakeCharacteristic {
	return p.chars[DefaultTXUUID]
}

func (p *fakePeripheral) rx() *fakeCharacteristic {
	return p.chars[DefaultRXUUID]
}

// newFakeBeacon returns a peripheral exposing the default UART service.
func newFakeBeacon(id string) *fakePeripheral {
	return &fakePeripheral{
		id:  id,
		mtu: 247,
		chars: map[string]*fakeCharacteristic{
			DefaultTXUUID: {uuid: DefaultTXUUID, props: PropWrite | PropWriteWithoutResponse},
			DefaultRXUUID: {uuid: DefaultRXUUID, props: PropNotify | PropRead, cccd: &fakeDescriptor{}},
		},
	}
}

type fakeAdapter struct {
	mu          sync.Mutex
	ads         []Advertisement
	peripherals map[string]*fakePeripheral
	scans       int
	connects    int
}

func newFakeAdapter(beacons ...*fakePeripheral) *fakeAdapter {
	a := &fakeAdapter{peripherals: make(map[string]*fakePeripheral)}
	for _, b := range beacons {
		a.ads = append(a.ads, Advertisement{ID: b.id, Name: DefaultTargetName, RSSI: -60})
		a.peripherals[b.id] = b
	}
	return a
}

// Scan reports the known advertisements, then waits for ctx like a radio
// that keeps listening.
func (a *fakeAdapter) Scan(ctx context.Context, found func(Advertisement) bool) error {
	a.mu.Lock()
	a.scans++
	ads := append([]Advertisement(nil), a.ads...)
	a.mu.Unlock()

	for _, ad := range ads {
		if found(ad) {
			return nil
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (a *fakeAdapter) Connect(ctx context.Context, id string) (Peripheral, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects++
	p, ok := a.peripherals[id]
	if !ok {
		return nil, errors.New("no such device")
	}
	p.mu.Lock()
	p.disconnected = false
	p.mu.Unlock()
	return p, nil
}

func (a *fakeAdapter) Scans() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scans
}

func (a *fakeAdapter) Connects() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

// eventRecorder collects link events.
type eventRecorder struct {
	mu     sync.Mutex
	events []LinkEvent
}

func (r *eventRecorder) OnLinkEvent(e LinkEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) States() []LinkState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LinkState, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.State)
	}
	return out
}

// logEntry is one call captured by recordingLogger.
type logEntry struct {
	msg  string
	args []any
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (r *recordingLogger) record(msg string, args []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, logEntry{msg: msg, args: args})
}

func (r *recordingLogger) Debug(msg string, args ...any) { r.record(msg, args) }
func (r *recordingLogger) Info(msg string, args ...any)  { r.record(msg, args) }
func (r *recordingLogger) Warn(msg string, args ...any)  { r.record(msg, args) }
func (r *recordingLogger) Error(msg string, args ...any) { r.record(msg, args) }

// Find returns the attributes of the first entry logged with msg.
func (r *recordingLogger) Find(msg string) (map[string]any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.msg != msg {
			continue
		}
		attrs := make(map[string]any)
		for i := 0; i+1 < len(e.args); i += 2 {
			if k, ok := e.args[i].(string); ok {
				attrs[k] = e.args[i+1]
			}
		}
		return attrs, true
	}
	return nil, false
}
