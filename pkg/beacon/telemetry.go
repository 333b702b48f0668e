package beacon

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// Telemetry keys reported by the beacon.
const (
	KeyProgress = "WP"
	KeyHome     = "HOME"
	KeyBattery  = "BATTERY"
	KeyStatus   = "STATUS"
	KeyEKF      = "EKF"
)

// DefaultTelemetryBuffer is the capacity of the forwarding channel.
const DefaultTelemetryBuffer = 120

var (
	quotedLine = regexp.MustCompile(`^([A-Z_][A-Z0-9_]*)\s*:\s*"([^"]*)"$`)
	plainLine  = regexp.MustCompile(`^([A-Z_][A-Z0-9_]*)\s*:\s*(.+)$`)
)

// TelemetryField is one KEY:value pair received from the beacon.
type TelemetryField struct {
	Key       string    `json:"key" msgpack:"key"`
	Value     string    `json:"value" msgpack:"value"`
	Timestamp time.Time `json:"timestamp" msgpack:"ts"`
}

// ParseLine parses a single KEY:"value" or KEY:value line.
func ParseLine(line string) (key, value string, err error) {
	line = strings.TrimSpace(line)
	if m := quotedLine.FindStringSubmatch(line); m != nil {
		return m[1], m[2], nil
	}
	if m := plainLine.FindStringSubmatch(line); m != nil {
		return m[1], strings.TrimSpace(m[2]), nil
	}
	return "", "", errMalformedTelemetry
}

// Codec decodes telemetry frames, keeps the latest value of every key and
// forwards changed fields through a bounded channel. When the channel is
// full the oldest queued field is dropped, so decoding never blocks the
// notification path.
type Codec struct {
	clock Clock

	mu        sync.Mutex
	latest    map[string]TelemetryField
	forwarded map[string]string
	out       chan TelemetryField
	dropped   uint64
	closed    bool
}

// NewCodec creates a codec whose forwarding channel holds buffer fields.
func NewCodec(buffer int, clock Clock) *Codec {
	if buffer <= 0 {
		buffer = DefaultTelemetryBuffer
	}
	return &Codec{
		clock:     orRealClock(clock),
		latest:    make(map[string]TelemetryField),
		forwarded: make(map[string]string),
		out:       make(chan TelemetryField, buffer),
	}
}

// Decode parses every line of frame and returns the fields that were
// forwarded. Unparseable lines are skipped. The progress key is forwarded on
// every report, other keys only when their value changes.
func (c *Codec) Decode(frame string) []TelemetryField {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var fwd []TelemetryField
	for _, line := range strings.Split(frame, "\n") {
		key, value, err := ParseLine(line)
		if err != nil {
			continue
		}
		f := TelemetryField{Key: key, Value: value, Timestamp: now}
		c.latest[key] = f

		if last, seen := c.forwarded[key]; seen && last == value && key != KeyProgress {
			continue
		}
		c.forwarded[key] = value
		fwd = append(fwd, f)
		c.push(f)
	}
	return fwd
}

// push must be called with mu held.
func (c *Codec) push(f TelemetryField) {
	if c.closed {
		return
	}
	select {
	case c.out <- f:
		return
	default:
	}
	select {
	case <-c.out:
		c.dropped++
	default:
	}
	select {
	case c.out <- f:
	default:
		c.dropped++
	}
}

// Fields is the forwarding stream. It is closed by Close.
func (c *Codec) Fields() <-chan TelemetryField {
	return c.out
}

// Value returns the latest value of key.
func (c *Codec) Value(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.latest[key]
	return f.Value, ok
}

// Snapshot returns a copy of the latest field of every key.
func (c *Codec) Snapshot() map[string]TelemetryField {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]TelemetryField, len(c.latest))
	for k, f := range c.latest {
		out[k] = f
	}
	return out
}

// Forget drops the stored value of key so that it is treated as never seen.
func (c *Codec) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.latest, key)
	delete(c.forwarded, key)
}

// Reset drops every stored value.
func (c *Codec) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest = make(map[string]TelemetryField)
	c.forwarded = make(map[string]string)
}

// Dropped is the number of fields discarded because the stream was full.
func (c *Codec) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close ends the forwarding stream.
func (c *Codec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}
