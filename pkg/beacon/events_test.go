package beacon

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"
)

type collectingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *collectingSink) Publish(ctx context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *collectingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *collectingSink) Kinds() []EventKind {
	var out []EventKind
	for _, e := range s.Events() {
		out = append(out, e.Kind)
	}
	return out
}

func TestBroadcasterDropsOldestForSlowSink(t *testing.T) {
	b := NewBroadcaster(2, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var (
		mu   sync.Mutex
		seen []string
	)
	b.Subscribe("slow", SinkFunc(func(ctx context.Context, e Event) error {
		mu.Lock()
		first := len(seen) == 0
		seen = append(seen, e.Error)
		mu.Unlock()
		if first {
			close(started)
			<-release
		}
		return nil
	}))

	b.Publish(Event{Kind: EventError, Error: "1"})
	<-started
	for _, id := range []string{"2", "3", "4"} {
		b.Publish(Event{Kind: EventError, Error: id})
	}
	if got := b.Dropped("slow"); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if want := []string{"1", "3", "4"}; !slices.Equal(seen, want) {
		t.Errorf("delivered = %v, want %v", seen, want)
	}
}

func TestBroadcasterFanOut(t *testing.T) {
	b := NewBroadcaster(0, nil)
	first, second := &collectingSink{}, &collectingSink{}
	b.Subscribe("first", first)
	b.Subscribe("second", second)

	b.Publish(Event{Kind: EventConnection})
	b.Publish(Event{Kind: EventTelemetry})

	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	want := []EventKind{EventConnection, EventTelemetry}
	for name, s := range map[string]*collectingSink{"first": first, "second": second} {
		if got := s.Kinds(); !slices.Equal(got, want) {
			t.Errorf("%s received %v, want %v", name, got, want)
		}
	}

	// publishing after close is a no-op
	b.Publish(Event{Kind: EventError})
	if got := len(first.Events()); got != 2 {
		t.Errorf("first received %d events after close, want 2", got)
	}
}
