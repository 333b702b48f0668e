package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/exepirit/agribeacon-go/pkg/beacon"
	"github.com/exepirit/agribeacon-go/pkg/geo"
	"github.com/redis/go-redis/v9"
)

type fakeClient struct {
	data   map[string][]byte
	ttl    map[string]time.Duration
	setErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: make(map[string][]byte), ttl: make(map[string]time.Duration)}
}

func (c *fakeClient) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (c *fakeClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if c.setErr != nil {
		return redis.NewStatusResult("", c.setErr)
	}
	c.data[key] = value.([]byte)
	c.ttl[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (c *fakeClient) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := c.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (c *fakeClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := c.data[k]; ok {
			delete(c.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (c *fakeClient) Close() error {
	return nil
}

func TestStoreMission(t *testing.T) {
	client := newFakeClient()
	s := NewWithClient(client)
	ctx := context.Background()

	if _, ok, err := s.LastMission(ctx, "s1"); ok || err != nil {
		t.Fatalf("LastMission() on empty store = %v, %v", ok, err)
	}

	rec := beacon.MissionRecord{
		Command:  "MISSION_SCAN20::90::abc\r\n",
		Polygon:  []geo.Point{{Latitude: 10, Longitude: 106}, {Latitude: 10.001, Longitude: 106.001}},
		Altitude: 20,
		Heading:  90,
		SentAt:   time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		State:    beacon.UploadState{Phase: beacon.UploadAwaitingAck, Progress: "2/4"},
	}
	if err := s.SaveMission(ctx, "s1", rec); err != nil {
		t.Fatalf("SaveMission() error = %v", err)
	}
	if got := client.ttl["beacon:s1:mission"]; got != MissionTTL {
		t.Errorf("mission TTL = %v, want %v", got, MissionTTL)
	}

	got, ok, err := s.LastMission(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("LastMission() = %v, %v", ok, err)
	}
	if got.Command != rec.Command || len(got.Polygon) != 2 || got.Polygon[1] != rec.Polygon[1] {
		t.Errorf("LastMission() = %+v, want %+v", got, rec)
	}
	if got.State != rec.State || !got.SentAt.Equal(rec.SentAt) {
		t.Errorf("LastMission() state = %+v at %v", got.State, got.SentAt)
	}

	if err := s.DeleteMission(ctx, "s1"); err != nil {
		t.Fatalf("DeleteMission() error = %v", err)
	}
	if _, ok, _ := s.LastMission(ctx, "s1"); ok {
		t.Error("mission still stored after DeleteMission")
	}
}

func TestStoreTelemetry(t *testing.T) {
	client := newFakeClient()
	s := NewWithClient(client)
	ctx := context.Background()

	f := beacon.TelemetryField{Key: beacon.KeyBattery, Value: "80", Timestamp: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	if err := s.SaveTelemetry(ctx, "s1", f); err != nil {
		t.Fatalf("SaveTelemetry() error = %v", err)
	}
	if got := client.ttl["beacon:s1:telemetry:BATTERY"]; got != TelemetryTTL {
		t.Errorf("telemetry TTL = %v, want %v", got, TelemetryTTL)
	}

	got, ok, err := s.LastTelemetry(ctx, "s1", beacon.KeyBattery)
	if err != nil || !ok || got.Value != "80" || !got.Timestamp.Equal(f.Timestamp) {
		t.Errorf("LastTelemetry() = %+v, %v, %v", got, ok, err)
	}
}

func TestStoreErrors(t *testing.T) {
	client := newFakeClient()
	client.setErr = errors.New("READONLY")
	s := NewWithClient(client)

	err := s.SaveTelemetry(context.Background(), "s1", beacon.TelemetryField{Key: "WP", Value: "1/2"})
	if !errors.Is(err, client.setErr) {
		t.Errorf("SaveTelemetry() error = %v, want %v", err, client.setErr)
	}

	client.data["beacon:s1:mission"] = []byte{0xc1}
	if _, _, err := s.LastMission(context.Background(), "s1"); err == nil {
		t.Error("LastMission() decoded a corrupt value")
	}
}
