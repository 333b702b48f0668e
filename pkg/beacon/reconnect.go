package beacon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/exepirit/agribeacon-go/internal/log"
)

const (
	DefaultReconnectInterval = 5 * time.Second
	DefaultReconnectDebounce = 3 * time.Second
	DefaultScanTimeout       = 4 * time.Second

	pendingEventsLimit = 16
)

// ErrSupervisorRunning is returned by Run when a loop is already active.
var ErrSupervisorRunning = errors.New("reconnect supervisor is already running")

// Scanner starts a scan for the beacon. Link implements it.
type Scanner interface {
	StartScan(ctx context.Context, timeout time.Duration, force bool) error
	State() LinkState
}

// reconnectMachine decides when to scan. It holds no resources and is
// driven by the supervisor loop with explicit timestamps.
type reconnectMachine struct {
	interval time.Duration
	debounce time.Duration

	active   bool
	lastScan time.Time
	nextWake time.Time
}

// observe feeds a link state to the machine and reports whether a scan
// should start now.
func (m *reconnectMachine) observe(s LinkState, now time.Time) bool {
	switch s {
	case StateReady:
		m.active = false
		m.nextWake = time.Time{}
	case StateDisconnected:
		return m.activate(now)
	}
	return false
}

// activate starts the retry cycle unless it is already running.
func (m *reconnectMachine) activate(now time.Time) bool {
	if m.active {
		return false
	}
	m.active = true
	return m.fire(now)
}

// wake is called when the timer armed for nextWake expires.
func (m *reconnectMachine) wake(now time.Time) bool {
	if !m.active || now.Before(m.nextWake) {
		return false
	}
	return m.fire(now)
}

func (m *reconnectMachine) fire(now time.Time) bool {
	m.nextWake = now.Add(m.interval)
	if !m.lastScan.IsZero() && now.Sub(m.lastScan) < m.debounce {
		return false
	}
	m.lastScan = now
	return true
}

// Supervisor restarts scanning after the link is lost. It retries every
// Interval until a Ready state is observed, from whichever path it comes,
// and never starts two scans closer than Debounce apart.
type Supervisor struct {
	scanner     Scanner
	clock       Clock
	logger      log.Logger
	scanTimeout time.Duration

	mu      sync.Mutex
	machine reconnectMachine
	pending []LinkState
	kicked  bool
	running bool
	signal  chan struct{}
	scans   sync.WaitGroup
}

// SupervisorOptions tune a Supervisor. Zero values select the defaults.
type SupervisorOptions struct {
	Interval    time.Duration
	Debounce    time.Duration
	ScanTimeout time.Duration
	Clock       Clock
	Logger      log.Logger
}

// NewSupervisor creates a supervisor driving scanner.
func NewSupervisor(scanner Scanner, opts SupervisorOptions) *Supervisor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultReconnectInterval
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultReconnectDebounce
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = DefaultScanTimeout
	}
	return &Supervisor{
		scanner:     scanner,
		clock:       orRealClock(opts.Clock),
		logger:      log.OrNOOP(opts.Logger),
		scanTimeout: opts.ScanTimeout,
		machine:     reconnectMachine{interval: opts.Interval, debounce: opts.Debounce},
		signal:      make(chan struct{}, 1),
	}
}

// OnLinkEvent queues the state for the loop. It never blocks.
func (s *Supervisor) OnLinkEvent(e LinkEvent) {
	if e.State != StateReady && e.State != StateDisconnected {
		return
	}
	s.mu.Lock()
	s.pending = append(s.pending, e.State)
	if len(s.pending) > pendingEventsLimit {
		s.pending = s.pending[len(s.pending)-pendingEventsLimit:]
	}
	s.mu.Unlock()
	s.notify()
}

// Kick starts the retry cycle without a disconnect, e.g. at startup.
func (s *Supervisor) Kick() {
	s.mu.Lock()
	s.kicked = true
	s.mu.Unlock()
	s.notify()
}

// Active reports whether the supervisor is retrying.
func (s *Supervisor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.active
}

func (s *Supervisor) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Run drives the supervisor until ctx is done. Scans started by the loop
// are cancelled and awaited before Run returns, and no timer outlives it.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSupervisorRunning
	}
	s.running = true
	s.mu.Unlock()

	scanCtx, cancelScans := context.WithCancel(ctx)
	var timer Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		cancelScans()
		s.scans.Wait()
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for {
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C()
		}

		woke := false
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.signal:
		case <-timerC:
			timer = nil
			woke = true
		}

		now := s.clock.Now()
		s.mu.Lock()
		scan := false
		if s.kicked {
			s.kicked = false
			scan = s.machine.activate(now) || scan
		}
		for _, st := range s.pending {
			scan = s.machine.observe(st, now) || scan
		}
		s.pending = s.pending[:0]
		if woke {
			scan = s.machine.wake(now) || scan
		}
		// the link publishes state before emitting, so this read is at
		// least as recent as every drained event
		if s.scanner.State() == StateReady {
			scan = s.machine.observe(StateReady, now)
		}
		active, nextWake := s.machine.active, s.machine.nextWake
		s.mu.Unlock()

		if scan && active {
			s.startScan(scanCtx)
		}

		if timer != nil {
			timer.Stop()
			timer = nil
		}
		if active {
			d := nextWake.Sub(now)
			if d < 0 {
				d = 0
			}
			timer = s.clock.NewTimer(d)
		}
	}
}

func (s *Supervisor) startScan(ctx context.Context) {
	s.logger.Debug("Reconnect scan")
	s.scans.Add(1)
	go func() {
		defer s.scans.Done()
		err := s.scanner.StartScan(ctx, s.scanTimeout, false)
		switch {
		case err == nil:
		case errors.Is(err, ErrScanTimeout):
			s.logger.Debug("Reconnect scan found nothing, retrying later")
		case errors.Is(err, context.Canceled):
		default:
			s.logger.Warn("Reconnect scan failed", "error", err)
		}
	}()
}
