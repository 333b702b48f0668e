package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/exepirit/agribeacon-go/pkg/beacon"
	protobuf "google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	mqtt.Client
	connected bool
	err       error
	messages  []published
}

func (c *fakeClient) IsConnected() bool {
	return c.connected
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.messages = append(c.messages, published{topic, qos, retained, payload.([]byte)})
	return doneToken{err: c.err}
}

func connectionEvent() beacon.Event {
	return beacon.Event{
		Kind:       beacon.EventConnection,
		SessionID:  "s1",
		Time:       time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		Connection: &beacon.ConnectionState{DeviceID: "AA:BB", Connected: true},
	}
}

func TestSinkPublishJSON(t *testing.T) {
	client := &fakeClient{connected: true}
	s := &Sink{RootTopic: "agribeacon", QoS: 1, client: client}

	if err := s.Publish(context.Background(), connectionEvent()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	upload := beacon.Event{Kind: beacon.EventUpload, SessionID: "s1", Upload: &beacon.UploadState{Phase: beacon.UploadCompleted, Progress: "4/4"}}
	if err := s.Publish(context.Background(), upload); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(client.messages) != 2 {
		t.Fatalf("published %d messages, want 2", len(client.messages))
	}
	conn := client.messages[0]
	if conn.topic != "agribeacon/s1/connection" || conn.qos != 1 || !conn.retained {
		t.Errorf("connection message = %s qos %d retained %v", conn.topic, conn.qos, conn.retained)
	}
	var decoded beacon.Event
	if err := json.Unmarshal(conn.payload, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.Connection == nil || decoded.Connection.DeviceID != "AA:BB" {
		t.Errorf("decoded connection = %+v", decoded.Connection)
	}

	up := client.messages[1]
	if up.topic != "agribeacon/s1/upload" || up.retained {
		t.Errorf("upload message = %s retained %v", up.topic, up.retained)
	}
	var generic struct {
		Upload map[string]any `json:"upload"`
	}
	if err := json.Unmarshal(up.payload, &generic); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if phase := generic.Upload["phase"]; phase != "completed" {
		t.Errorf("upload phase = %v, want completed", phase)
	}
}

func TestSinkPublishProtobuf(t *testing.T) {
	client := &fakeClient{connected: true}
	s := &Sink{RootTopic: "agribeacon", Encoding: EncodingProtobuf, client: client}

	if err := s.Publish(context.Background(), connectionEvent()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	msg := new(structpb.Struct)
	if err := protobuf.Unmarshal(client.messages[0].payload, msg); err != nil {
		t.Fatalf("payload is not a Struct: %v", err)
	}
	conn := msg.GetFields()["connection"].GetStructValue()
	if got := conn.GetFields()["device_id"].GetStringValue(); got != "AA:BB" {
		t.Errorf("device_id = %q, want AA:BB", got)
	}
	if !conn.GetFields()["connected"].GetBoolValue() {
		t.Error("connected = false")
	}
}

func TestSinkErrors(t *testing.T) {
	s := &Sink{RootTopic: "agribeacon"}
	if err := s.Publish(context.Background(), connectionEvent()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() without client error = %v, want ErrNotConnected", err)
	}

	s.client = &fakeClient{connected: false}
	if err := s.Publish(context.Background(), connectionEvent()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() while offline error = %v, want ErrNotConnected", err)
	}

	brokerErr := errors.New("not authorized")
	s.client = &fakeClient{connected: true, err: brokerErr}
	if err := s.Publish(context.Background(), connectionEvent()); !errors.Is(err, brokerErr) {
		t.Errorf("Publish() error = %v, want %v", err, brokerErr)
	}

	s.Encoding = "xml"
	if err := s.Publish(context.Background(), connectionEvent()); !errors.Is(err, ErrUnknownEncoding) {
		t.Errorf("Publish() error = %v, want ErrUnknownEncoding", err)
	}
}
