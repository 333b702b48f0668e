package serial

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/exepirit/agribeacon-go/internal/log"
	"github.com/exepirit/agribeacon-go/pkg/beacon"
	"go.bug.st/serial"
)

const (
	DefaultBaudRate = 115200

	// pollInterval is the delay between port enumerations while scanning.
	pollInterval = 500 * time.Millisecond
)

var _ beacon.Adapter = &Adapter{}

// Adapter exposes USB UART bridges as beacon peers. Every port that is
// present is announced under Name; when Port is set only that port is.
type Adapter struct {
	// Name is the advertised name reported for ports.
	Name string
	// Port restricts scanning to one device path, e.g. /dev/ttyUSB0.
	Port     string
	BaudRate int
	Logger   log.Logger

	list func() ([]string, error)
	open func(port string, baud int) (io.ReadWriteCloser, error)
}

// NewAdapter creates an adapter for the system serial ports.
func NewAdapter(name, port string, baud int, logger log.Logger) *Adapter {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	return &Adapter{
		Name:     name,
		Port:     port,
		BaudRate: baud,
		Logger:   log.OrNOOP(logger),
		list:     serial.GetPortsList,
		open:     openPort,
	}
}

func openPort(port string, baud int) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
	}
	return serial.Open(port, mode)
}

// Scan enumerates ports until found accepts one or ctx is done.
func (a *Adapter) Scan(ctx context.Context, found func(beacon.Advertisement) bool) error {
	for {
		ports, err := a.list()
		if err != nil {
			return fmt.Errorf("failed to list serial ports: %w", err)
		}
		if a.Port != "" {
			if slices.Contains(ports, a.Port) {
				ports = []string{a.Port}
			} else {
				ports = nil
			}
		}
		for _, port := range ports {
			if found(beacon.Advertisement{ID: port, Name: a.Name}) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Connect opens the port id.
func (a *Adapter) Connect(ctx context.Context, id string) (beacon.Peripheral, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := a.open(id, a.BaudRate)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	a.Logger.Debug("Serial port opened", "port", id, "baud", a.BaudRate)
	return NewPeripheral(id, stream, a.Logger), nil
}
