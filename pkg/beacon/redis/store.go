package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/exepirit/agribeacon-go/pkg/beacon"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// MissionTTL is how long the last mission of a session is kept.
	MissionTTL = 7 * 24 * time.Hour
	// TelemetryTTL is how long the last value of a telemetry key is kept.
	TelemetryTTL = time.Hour
)

// ClientInterface defines the Redis operations used by the store.
type ClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Store keeps the last mission and telemetry of every session in Redis,
// encoded with msgpack.
type Store struct {
	client ClientInterface
}

var _ beacon.MissionStore = &Store{}

// New connects to the Redis server at addr.
func New(addr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

// NewWithClient creates a store over an existing client.
func NewWithClient(client ClientInterface) *Store {
	return &Store{client: client}
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func missionKey(sessionID string) string {
	return fmt.Sprintf("beacon:%s:mission", sessionID)
}

func telemetryKey(sessionID, key string) string {
	return fmt.Sprintf("beacon:%s:telemetry:%s", sessionID, key)
}

// SaveMission stores rec as the last mission of the session.
func (s *Store) SaveMission(ctx context.Context, sessionID string, rec beacon.MissionRecord) error {
	return s.set(ctx, missionKey(sessionID), rec, MissionTTL, "mission")
}

// SaveTelemetry stores f as the last value of its key.
func (s *Store) SaveTelemetry(ctx context.Context, sessionID string, f beacon.TelemetryField) error {
	return s.set(ctx, telemetryKey(sessionID, f.Key), f, TelemetryTTL, "telemetry")
}

// LastMission returns the last mission of the session. ok is false when
// none is stored.
func (s *Store) LastMission(ctx context.Context, sessionID string) (rec beacon.MissionRecord, ok bool, err error) {
	ok, err = s.get(ctx, missionKey(sessionID), &rec, "mission")
	return rec, ok, err
}

// LastTelemetry returns the last stored value of key.
func (s *Store) LastTelemetry(ctx context.Context, sessionID, key string) (f beacon.TelemetryField, ok bool, err error) {
	ok, err = s.get(ctx, telemetryKey(sessionID, key), &f, "telemetry")
	return f, ok, err
}

// DeleteMission removes the stored mission of the session.
func (s *Store) DeleteMission(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, missionKey(sessionID)).Err()
}

func (s *Store) set(ctx context.Context, key string, value any, ttl time.Duration, dataType string) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", dataType, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store %s: %w", dataType, err)
	}
	return nil
}

// get reads key into target and reports whether it was present.
func (s *Store) get(ctx context.Context, key string, target any, dataType string) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", dataType, err)
	}

	if err := msgpack.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", dataType, err)
	}
	return true, nil
}
