package beacon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/exepirit/agribeacon-go/internal/log"
	"github.com/exepirit/agribeacon-go/pkg/geo"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const linkEventsBuffer = 32

// MissionRecord is an uploaded mission as kept by a MissionStore.
type MissionRecord struct {
	Command  string      `json:"command" msgpack:"command"`
	Polygon  []geo.Point `json:"polygon" msgpack:"polygon"`
	Altitude float64     `json:"altitude" msgpack:"altitude"`
	Heading  float64     `json:"heading" msgpack:"heading"`
	SentAt   time.Time   `json:"sent_at" msgpack:"sent_at"`
	State    UploadState `json:"state" msgpack:"state"`
}

// MissionStore persists missions and telemetry of a session.
type MissionStore interface {
	SaveMission(ctx context.Context, sessionID string, rec MissionRecord) error
	SaveTelemetry(ctx context.Context, sessionID string, f TelemetryField) error
}

// SessionOptions configure a Session. Zero values select the defaults.
type SessionOptions struct {
	Link            LinkConfig
	Supervisor      SupervisorOptions
	Uploader        UploaderOptions
	TelemetryBuffer int
	EventQueue      int
	Store           MissionStore
	Clock           Clock
	Logger          log.Logger
}

// Session wires the link, the reconnect supervisor, the telemetry codec and
// the uploader for one beacon, and publishes their updates to sinks. Its
// lifetime is bounded by Run.
type Session struct {
	ID string

	link       *Link
	codec      *Codec
	supervisor *Supervisor
	uploader   *Uploader
	events     *Broadcaster
	store      MissionStore
	clock      Clock
	logger     log.Logger

	linkEvents chan LinkEvent

	mu      sync.Mutex
	runCtx  context.Context
	mission *MissionRecord
}

// NewSession creates a session over adapter. Call Run to start it.
func NewSession(adapter Adapter, opts SessionOptions) *Session {
	logger := log.OrNOOP(opts.Logger)
	clock := orRealClock(opts.Clock)

	s := &Session{
		ID:         uuid.NewString(),
		store:      opts.Store,
		clock:      clock,
		logger:     logger,
		linkEvents: make(chan LinkEvent, linkEventsBuffer),
	}
	s.link = NewLink(adapter, opts.Link, logger)
	s.codec = NewCodec(opts.TelemetryBuffer, clock)
	s.events = NewBroadcaster(opts.EventQueue, logger)

	supOpts := opts.Supervisor
	supOpts.Clock = clock
	supOpts.Logger = logger
	s.supervisor = NewSupervisor(s.link, supOpts)

	upOpts := opts.Uploader
	upOpts.Clock = clock
	upOpts.Logger = logger
	upOpts.OnState = s.onUploadState
	s.uploader = NewUploader(s.link, s.codec, upOpts)

	s.link.Observe(s.supervisor)
	s.link.Observe(LinkObserverFunc(s.queueLinkEvent))
	return s
}

// Link exposes the underlying link.
func (s *Session) Link() *Link {
	return s.link
}

// AddSink delivers session events to sink.
func (s *Session) AddSink(name string, sink Sink) {
	s.events.Subscribe(name, sink)
}

// Run connects to the beacon and keeps the session alive until ctx is done.
// On return the link is closed and queued events are flushed.
func (s *Session) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	s.mu.Lock()
	s.runCtx = gctx
	s.mu.Unlock()

	g.Go(func() error {
		return s.supervisor.Run(gctx)
	})
	g.Go(func() error {
		return s.dispatchLinkEvents(gctx)
	})
	g.Go(func() error {
		return s.forwardTelemetry(gctx)
	})
	s.logger.Info("Session started", "session", s.ID, "target", s.link.Config().TargetName)
	s.supervisor.Kick()

	err := g.Wait()

	s.uploader.Cancel()
	_ = s.link.Close()
	s.codec.Close()
	flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if ferr := s.events.Close(flushCtx); ferr != nil {
		s.logger.Warn("Not every event was delivered", "error", ferr)
	}
	s.logger.Info("Session stopped", "session", s.ID)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// queueLinkEvent runs inside link transitions and must not block.
func (s *Session) queueLinkEvent(e LinkEvent) {
	select {
	case s.linkEvents <- e:
		return
	default:
	}
	select {
	case <-s.linkEvents:
	default:
	}
	select {
	case s.linkEvents <- e:
	default:
	}
}

func (s *Session) dispatchLinkEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-s.linkEvents:
			conn := e.Connection
			s.publish(Event{Kind: EventConnection, Connection: &conn})
			if e.State == StateReady {
				s.onReady()
			}
		}
	}
}

// onReady subscribes to telemetry. It runs outside of link callbacks so the
// link operation lock is free.
func (s *Session) onReady() {
	rx := s.link.Config().RXUUID
	err := s.link.EnableNotifications(rx, s.onNotification)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotConnected):
		// lost again before we got here, the supervisor takes over
	default:
		s.logger.Error("Cannot receive telemetry", "characteristic", rx, "error", err)
		s.publish(Event{Kind: EventError, Error: err.Error()})
	}
}

// onNotification runs on the backend delivery goroutine.
func (s *Session) onNotification(data []byte) {
	s.codec.Decode(string(data))
}

func (s *Session) forwardTelemetry(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-s.codec.Fields():
			if !ok {
				return nil
			}
			s.publish(Event{Kind: EventTelemetry, Telemetry: &f})
			if s.store != nil {
				if err := s.store.SaveTelemetry(ctx, s.ID, f); err != nil {
					s.logger.Warn("Cannot store telemetry", "key", f.Key, "error", err)
				}
			}
		}
	}
}

func (s *Session) publish(e Event) {
	e.SessionID = s.ID
	e.Time = s.clock.Now()
	s.events.Publish(e)
}

func (s *Session) onUploadState(st UploadState) {
	s.publish(Event{Kind: EventUpload, Upload: &st})

	s.mu.Lock()
	if s.mission == nil {
		s.mu.Unlock()
		return
	}
	s.mission.State = st
	rec := *s.mission
	ctx := s.runCtx
	s.mu.Unlock()
	s.saveMission(ctx, rec)
}

func (s *Session) saveMission(ctx context.Context, rec MissionRecord) {
	if s.store == nil || ctx == nil {
		return
	}
	if err := s.store.SaveMission(ctx, s.ID, rec); err != nil {
		s.logger.Warn("Cannot store mission", "error", err)
	}
}

// UploadMission encodes and sends a scan mission, then tracks its
// acknowledgement in the background. Failures are also reported through
// UploadState.
func (s *Session) UploadMission(ctx context.Context, polygon []geo.Point, altitude, heading float64) error {
	if len(polygon) < 3 {
		return fmt.Errorf("mission polygon has %d vertices, need at least 3", len(polygon))
	}
	cmd := EncodeMission(polygon, altitude, heading)

	s.mu.Lock()
	pollCtx := s.runCtx
	if pollCtx == nil {
		pollCtx = ctx
	}
	s.mission = &MissionRecord{
		Command:  cmd,
		Polygon:  append([]geo.Point(nil), polygon...),
		Altitude: altitude,
		Heading:  heading,
		SentAt:   s.clock.Now(),
	}
	s.mu.Unlock()

	s.logger.Info("Uploading mission", "vertices", len(polygon), "altitude", altitude, "heading", heading)
	return s.uploader.Upload(pollCtx, cmd)
}

// UploadState returns the state of the last upload.
func (s *Session) UploadState() UploadState {
	return s.uploader.State()
}

// WaitUpload blocks until the running upload finishes or ctx is done.
func (s *Session) WaitUpload(ctx context.Context) (UploadState, error) {
	return s.uploader.Wait(ctx)
}

// StartFlight sends the START command. The beacon must be connected and
// report a ready status.
func (s *Session) StartFlight(ctx context.Context) error {
	if s.link.State() != StateReady {
		return ErrNotConnected
	}
	if !s.DroneState().Ready() {
		return ErrBeaconNotReady
	}
	s.logger.Info("Starting flight")
	return s.link.Write(ctx, []byte(StartCommand))
}

// Connection returns the last published connection state.
func (s *Session) Connection() ConnectionState {
	return s.link.Connection()
}

// Telemetry returns the latest value of every telemetry key.
func (s *Session) Telemetry() map[string]TelemetryField {
	return s.codec.Snapshot()
}

// DroneState returns the typed view of the latest telemetry.
func (s *Session) DroneState() DroneState {
	return DroneStateFrom(s.codec.Snapshot())
}
