package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/exepirit/agribeacon-go/pkg/beacon"
	"github.com/nats-io/nats.go"
)

const (
	// SubjectPrefix is the root of every event subject:
	// beacon.<session>.<kind>.
	SubjectPrefix = "beacon"
	// StreamName is the JetStream stream retaining beacon events.
	StreamName = "BEACON_EVENTS"
)

// Publisher is the part of a JetStream context the sink uses.
type Publisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Sink persists session events on a JetStream stream.
type Sink struct {
	conn *nats.Conn
	js   Publisher
}

var _ beacon.Sink = &Sink{}

// New connects to url and makes sure the event stream exists.
func New(url string) (*Sink, error) {
	nc, err := nats.Connect(url, nats.Name("agribeacon"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectPrefix + ".>"},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil && !strings.Contains(err.Error(), "stream name already in use") {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Sink{conn: nc, js: js}, nil
}

// NewWithPublisher creates a sink over an existing publisher.
func NewWithPublisher(js Publisher) *Sink {
	return &Sink{js: js}
}

// Subject returns the subject e is published on.
func Subject(e beacon.Event) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, e.SessionID, e.Kind)
}

// Publish stores e on the stream.
func (s *Sink) Publish(ctx context.Context, e beacon.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = s.js.Publish(Subject(e), data, nats.Context(ctx), nats.MsgId(msgID(e)))
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// msgID lets the server drop duplicates of a retried publish.
func msgID(e beacon.Event) string {
	return fmt.Sprintf("%s-%s-%d", e.SessionID, e.Kind, e.Time.UnixNano())
}

// Close closes the NATS connection.
func (s *Sink) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}
