package beacon

import (
	"context"
	"sync"
	"time"

	"github.com/exepirit/agribeacon-go/internal/log"
)

// DefaultEventQueue is the per-sink queue length of a Broadcaster.
const DefaultEventQueue = 64

// EventKind names the payload carried by an Event.
type EventKind string

const (
	EventConnection EventKind = "connection"
	EventTelemetry  EventKind = "telemetry"
	EventUpload     EventKind = "upload"
	EventError      EventKind = "error"
)

// Event is a session update delivered to sinks. Exactly one payload field
// is set, matching Kind.
type Event struct {
	Kind       EventKind        `json:"kind" msgpack:"kind"`
	SessionID  string           `json:"session_id" msgpack:"session_id"`
	Time       time.Time        `json:"time" msgpack:"time"`
	Connection *ConnectionState `json:"connection,omitempty" msgpack:"connection,omitempty"`
	Telemetry  *TelemetryField  `json:"telemetry,omitempty" msgpack:"telemetry,omitempty"`
	Upload     *UploadState     `json:"upload,omitempty" msgpack:"upload,omitempty"`
	Error      string           `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Sink receives session events, e.g. a message broker bridge.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Publish(ctx context.Context, e Event) error {
	return f(ctx, e)
}

type subscription struct {
	name  string
	sink  Sink
	queue chan Event
}

// Broadcaster fans events out to sinks. Every sink has its own bounded
// queue drained by its own goroutine; when a queue is full its oldest event
// is dropped, so a slow sink never stalls the publisher or other sinks.
type Broadcaster struct {
	logger    log.Logger
	queueSize int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	subs    []*subscription
	dropped map[string]uint64
	closed  bool
}

// NewBroadcaster creates a broadcaster with queueSize events per sink.
func NewBroadcaster(queueSize int, logger log.Logger) *Broadcaster {
	if queueSize <= 0 {
		queueSize = DefaultEventQueue
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Broadcaster{
		logger:    log.OrNOOP(logger),
		queueSize: queueSize,
		ctx:       ctx,
		cancel:    cancel,
		dropped:   make(map[string]uint64),
	}
}

// Subscribe starts delivering events to sink.
func (b *Broadcaster) Subscribe(name string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	sub := &subscription{name: name, sink: sink, queue: make(chan Event, b.queueSize)}
	b.subs = append(b.subs, sub)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.deliver(sub)
	}()
}

func (b *Broadcaster) deliver(sub *subscription) {
	for e := range sub.queue {
		if err := sub.sink.Publish(b.ctx, e); err != nil {
			b.logger.Warn("Cannot publish event", "sink", sub.name, "kind", e.Kind, "error", err)
		}
	}
}

// Publish queues e for every sink without blocking.
func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.queue <- e:
			continue
		default:
		}
		select {
		case <-sub.queue:
			b.dropped[sub.name]++
		default:
		}
		select {
		case sub.queue <- e:
		default:
			b.dropped[sub.name]++
		}
	}
}

// Dropped returns the number of events discarded for the named sink.
func (b *Broadcaster) Dropped(name string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped[name]
}

// Close delivers the queued events, stops every sink goroutine and waits for
// them. Sinks still blocked after ctx is done are abandoned through the
// context passed to Publish.
func (b *Broadcaster) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		for _, sub := range b.subs {
			close(sub.queue)
		}
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.cancel()
		return nil
	case <-ctx.Done():
		b.cancel()
		<-done
		return ctx.Err()
	}
}
