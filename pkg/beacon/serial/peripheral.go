package serial

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/exepirit/agribeacon-go/internal/log"
	"github.com/exepirit/agribeacon-go/pkg/beacon"
)

// maxLineLength bounds a single telemetry line.
const maxLineLength = 4096

// ErrReadUnsupported is returned by Read; a UART only pushes lines.
var ErrReadUnsupported = errors.New("serial ports do not support reads, subscribe instead")

// Peripheral carries the beacon line protocol over a byte stream. Both the
// TX and RX characteristics map onto the same stream.
type Peripheral struct {
	Stream io.ReadWriteCloser
	Logger log.Logger

	id string

	lock sync.Mutex // serializes writes

	mu           sync.Mutex
	chars        map[string]*Characteristic
	onDisconnect func(error)
	lost         error
	reading      bool
	closed       bool
}

// NewPeripheral wraps an open stream, e.g. a serial port or a TCP bridge.
func NewPeripheral(id string, stream io.ReadWriteCloser, logger log.Logger) *Peripheral {
	return &Peripheral{
		Stream: stream,
		Logger: log.OrNOOP(logger),
		id:     id,
		chars:  make(map[string]*Characteristic),
	}
}

func (p *Peripheral) ID() string {
	return p.id
}

// Discover registers the characteristics and starts reading the stream. The
// first characteristic is the write side, every other one receives lines.
// Lines arriving before a subscription are discarded.
func (p *Peripheral) Discover(_ context.Context, _ string, characteristics []string) error {
	if len(characteristics) == 0 {
		return errors.New("no characteristics requested")
	}
	p.mu.Lock()
	for i, uuid := range characteristics {
		props := beacon.PropNotify
		if i == 0 {
			props = beacon.PropWrite | beacon.PropWriteWithoutResponse
		}
		uuid = strings.ToLower(uuid)
		p.chars[uuid] = &Characteristic{peripheral: p, uuid: uuid, props: props}
	}
	p.mu.Unlock()

	p.startReader()
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

// RequestMTU grants mtu; a UART has no packet size limit.
func (p *Peripheral) RequestMTU(mtu int) (int, error) {
	return mtu, nil
}

// OnDisconnect registers f for stream loss. A loss that happened before
// registration is reported to f at once.
func (p *Peripheral) OnDisconnect(f func(error)) {
	p.mu.Lock()
	p.onDisconnect = f
	lost := p.lost
	p.mu.Unlock()
	if lost != nil && f != nil {
		f(lost)
	}
}

// Disconnect closes the stream. It is not reported to OnDisconnect.
func (p *Peripheral) Disconnect() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.Stream.Close()
}

func (p *Peripheral) write(data []byte) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	_, err := p.Stream.Write(data)
	return err
}

// startReader starts the single line reader. Lines are fanned out to every
// subscribed characteristic, and end of stream is reported as link loss.
func (p *Peripheral) startReader() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reading {
		return
	}
	p.reading = true
	go p.readLines()
}

func (p *Peripheral) readLines() {
	scanner := bufio.NewScanner(p.Stream)
	scanner.Buffer(make([]byte, 0, 256), maxLineLength)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		p.deliver([]byte(line))
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	err = fmt.Errorf("serial stream ended: %w", err)
	p.mu.Lock()
	closed := p.closed
	if !closed {
		p.lost = err
	}
	f := p.onDisconnect
	p.mu.Unlock()
	if closed {
		return
	}
	p.Logger.Warn("Serial stream ended", "port", p.id, "error", err)
	if f != nil {
		f(err)
	}
}

func (p *Peripheral) deliver(line []byte) {
	p.mu.Lock()
	handlers := make([]func([]byte), 0, len(p.chars))
	for _, c := range p.chars {
		if c.handler != nil {
			handlers = append(handlers, c.handler)
		}
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(line)
	}
}

// Characteristic is one direction of the stream.
type Characteristic struct {
	peripheral *Peripheral
	uuid       string
	props      beacon.Properties
	handler    func([]byte) // guarded by peripheral.mu
}

func (c *Characteristic) UUID() string {
	return c.uuid
}

func (c *Characteristic) Properties() beacon.Properties {
	return c.props
}

func (c *Characteristic) Descriptor(string) (beacon.Descriptor, bool) {
	return nil, false
}

func (c *Characteristic) Subscribe(handler func([]byte)) error {
	if !c.props.CanSubscribe() {
		return beacon.ErrCapabilityUnsupported
	}
	c.peripheral.mu.Lock()
	defer c.peripheral.mu.Unlock()
	c.handler = handler
	return nil
}

func (c *Characteristic) Write(data []byte) error {
	if !c.props.Has(beacon.PropWrite) {
		return fmt.Errorf("characteristic %s is not writable", c.uuid)
	}
	return c.peripheral.write(data)
}

func (c *Characteristic) Read() ([]byte, error) {
	return nil, ErrReadUnsupported
}
