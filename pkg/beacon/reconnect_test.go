package beacon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestReconnectMachine(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	at := func(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }
	m := reconnectMachine{interval: 5 * time.Second, debounce: 3 * time.Second}

	steps := []struct {
		name string
		do   func() bool
		want bool
	}{
		{"disconnect starts a scan", func() bool { return m.observe(StateDisconnected, at(0)) }, true},
		{"repeated disconnect while active", func() bool { return m.observe(StateDisconnected, at(1)) }, false},
		{"early wake", func() bool { return m.wake(at(4)) }, false},
		{"interval elapsed", func() bool { return m.wake(at(5)) }, true},
		{"ready stops the cycle", func() bool { return m.observe(StateReady, at(6)) }, false},
		{"wake after ready", func() bool { return m.wake(at(10)) }, false},
		{"disconnect within debounce", func() bool { return m.observe(StateDisconnected, at(6)) }, false},
		{"next interval", func() bool { return m.wake(at(11)) }, true},
		{"other states ignored", func() bool { return m.observe(StateScanning, at(20)) }, false},
	}
	for _, s := range steps {
		if got := s.do(); got != s.want {
			t.Fatalf("%s: scan = %v, want %v", s.name, got, s.want)
		}
	}
	if !m.active {
		t.Error("machine inactive after losing the link again")
	}
}

type fakeScanner struct {
	mu    sync.Mutex
	calls int
	state LinkState
}

func (s *fakeScanner) StartScan(ctx context.Context, timeout time.Duration, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return ErrScanTimeout
}

func (s *fakeScanner) State() LinkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeScanner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeScanner) set(st LinkState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func TestSupervisorRetriesUntilReady(t *testing.T) {
	clk := newFakeClock()
	sc := &fakeScanner{state: StateDisconnected}
	sup := NewSupervisor(sc, SupervisorOptions{Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	sup.OnLinkEvent(LinkEvent{State: StateDisconnected})
	eventually(t, "first scan", func() bool { return sc.Calls() == 1 })
	if !sup.Active() {
		t.Error("supervisor inactive after a disconnect")
	}
	if err := sup.Run(ctx); !errors.Is(err, ErrSupervisorRunning) {
		t.Errorf("second Run() error = %v, want ErrSupervisorRunning", err)
	}

	eventually(t, "retry timer", func() bool { return clk.Pending() == 1 })
	clk.Advance(DefaultReconnectInterval)
	eventually(t, "second scan", func() bool { return sc.Calls() == 2 })

	sc.set(StateReady)
	sup.OnLinkEvent(LinkEvent{State: StateReady})
	eventually(t, "supervisor idle", func() bool { return !sup.Active() && clk.Pending() == 0 })

	clk.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	if got := sc.Calls(); got != 2 {
		t.Errorf("scans after ready = %d, want 2", got)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestSupervisorKickWhileReady(t *testing.T) {
	clk := newFakeClock()
	sc := &fakeScanner{state: StateReady}
	sup := NewSupervisor(sc, SupervisorOptions{Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sup.Run(ctx) }()

	sup.Kick()
	time.Sleep(20 * time.Millisecond)
	if sup.Active() {
		t.Error("supervisor active while the link is ready")
	}
	if got := sc.Calls(); got != 0 {
		t.Errorf("scans = %d, want 0", got)
	}
}

func TestSupervisorReconnectsLink(t *testing.T) {
	clk := newFakeClock()
	l, a, p := connectedLink(t)
	sup := NewSupervisor(l, SupervisorOptions{Clock: clk, ScanTimeout: time.Second})
	l.Observe(sup)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	ready := func() bool { return l.State() == StateReady && !sup.Active() && clk.Pending() == 0 }

	// a dropped link is rescanned at once and the loop stops on Ready
	p.drop(errors.New("supervision timeout"))
	eventually(t, "reconnect", ready)
	if got := a.Scans(); got != 2 {
		t.Errorf("scans after first loss = %d, want 2", got)
	}
	if got := a.Connects(); got != 2 {
		t.Errorf("connects after first loss = %d, want 2", got)
	}

	// a second loss within 1s is held back by the debounce
	clk.Advance(500 * time.Millisecond)
	p.drop(errors.New("supervision timeout"))
	eventually(t, "retry timer", func() bool { return sup.Active() && clk.Pending() == 1 })
	if got := a.Scans(); got != 2 {
		t.Errorf("scans within debounce = %d, want 2", got)
	}
	if got := l.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want %v", got, StateDisconnected)
	}

	clk.Advance(DefaultReconnectInterval)
	eventually(t, "second reconnect", ready)
	if got := a.Scans(); got != 3 {
		t.Errorf("scans after retry interval = %d, want 3", got)
	}
}
