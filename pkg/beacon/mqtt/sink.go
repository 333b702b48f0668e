package mqtt

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/exepirit/agribeacon-go/pkg/beacon"
	protobuf "google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Payload encodings.
const (
	EncodingJSON     = "json"
	EncodingProtobuf = "protobuf"
)

// Sink mirrors session events to an MQTT broker, one topic per session and
// event kind: <RootTopic>/<session>/<kind>. Connection states are retained
// so that late subscribers see whether the beacon is online.
type Sink struct {
	// BrokerURL is the URL of the MQTT broker to connect to.
	BrokerURL string
	// Username is the username for MQTT authentication.
	Username string
	// Password is the password for MQTT authentication.
	Password string
	// AppName is a unique identifier for the application, used in the MQTT client ID.
	AppName string
	// RootTopic is the base topic for all messages.
	RootTopic string
	// QoS is the delivery guarantee of published events.
	QoS byte
	// Encoding selects the payload format, json (default) or protobuf.
	// Protobuf payloads are google.protobuf.Struct messages.
	Encoding string

	client mqtt.Client
}

var _ beacon.Sink = &Sink{}

// Connect establishes an MQTT connection to the broker with a random
// client ID.
func (s *Sink) Connect() error {
	if s.client != nil && s.client.IsConnected() {
		return nil
	}

	randomId := make([]byte, 4)
	_, _ = rand.Read(randomId)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.BrokerURL)
	opts.SetUsername(s.Username)
	opts.SetPassword(s.Password)
	opts.SetClientID(fmt.Sprintf("%s-%x", s.AppName, randomId))
	opts.SetOrderMatters(false)
	opts.SetAutoReconnect(true)

	s.client = mqtt.NewClient(opts)

	token := s.client.Connect()
	<-token.Done()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect MQTT: %w", err)
	}

	return nil
}

// Publish sends e to its topic and waits for the broker to accept it.
func (s *Sink) Publish(ctx context.Context, e beacon.Event) error {
	if s.client == nil || !s.client.IsConnected() {
		return ErrNotConnected
	}

	payload, err := s.encode(e)
	if err != nil {
		return err
	}

	token := s.client.Publish(Topic(s.RootTopic, e), s.QoS, e.Kind == beacon.EventConnection, payload)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		return token.Error()
	}
}

// Disconnect closes the MQTT connection.
func (s *Sink) Disconnect() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(1000)
	}
}

// Topic returns the topic e is published to.
func Topic(root string, e beacon.Event) string {
	return fmt.Sprintf("%s/%s/%s", root, e.SessionID, e.Kind)
}

func (s *Sink) encode(e beacon.Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshalling error: %w", err)
	}

	switch s.Encoding {
	case "", EncodingJSON:
		return data, nil
	case EncodingProtobuf:
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("marshalling error: %w", err)
		}
		msg, err := structpb.NewStruct(fields)
		if err != nil {
			return nil, fmt.Errorf("marshalling error: %w", err)
		}
		return protobuf.Marshal(msg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEncoding, s.Encoding)
	}
}
