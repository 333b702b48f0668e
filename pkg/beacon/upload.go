package beacon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/exepirit/agribeacon-go/internal/log"
)

const (
	DefaultSettleDelay  = 3 * time.Second
	DefaultPollInterval = 1 * time.Second
)

// UploadPhase is the stage of a mission upload.
type UploadPhase int

const (
	UploadIdle UploadPhase = iota
	UploadUploading
	UploadAwaitingAck
	UploadCompleted
	UploadFailed
)

func (p UploadPhase) String() string {
	switch p {
	case UploadIdle:
		return "idle"
	case UploadUploading:
		return "uploading"
	case UploadAwaitingAck:
		return "awaiting-ack"
	case UploadCompleted:
		return "completed"
	case UploadFailed:
		return "failed"
	default:
		return fmt.Sprintf("UploadPhase(%d)", int(p))
	}
}

func (p UploadPhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *UploadPhase) UnmarshalText(text []byte) error {
	for q := UploadIdle; q <= UploadFailed; q++ {
		if q.String() == string(text) {
			*p = q
			return nil
		}
	}
	return fmt.Errorf("unknown upload phase %q", text)
}

// UploadState is the published upload status. Progress holds the last
// well-formed "a/b" report, Reason the cause of a failure.
type UploadState struct {
	Phase    UploadPhase `json:"phase" msgpack:"phase"`
	Progress string      `json:"progress,omitempty" msgpack:"progress"`
	Reason   string      `json:"reason,omitempty" msgpack:"reason"`
}

// Terminal reports whether the upload is finished.
func (s UploadState) Terminal() bool {
	return s.Phase == UploadCompleted || s.Phase == UploadFailed
}

// Writer sends raw bytes to the beacon. Link implements it.
type Writer interface {
	Write(ctx context.Context, data []byte) error
}

// ProgressSource exposes the latest telemetry values. Codec implements it.
type ProgressSource interface {
	Value(key string) (string, bool)
	Forget(key string)
}

// UploaderOptions tune an Uploader. Zero values select the defaults.
type UploaderOptions struct {
	SettleDelay  time.Duration
	PollInterval time.Duration
	Clock        Clock
	Logger       log.Logger
	// OnState is called on every state change. It must not block.
	OnState func(UploadState)
}

// Uploader sends mission commands and watches the progress key until the
// beacon acknowledges every waypoint. At most one poller runs at a time;
// there is no timeout, callers cancel through the context or Cancel.
type Uploader struct {
	writer  Writer
	source  ProgressSource
	clock   Clock
	logger  log.Logger
	settle  time.Duration
	poll    time.Duration
	onState func(UploadState)

	// uploadMu serializes Upload calls.
	uploadMu sync.Mutex

	mu     sync.Mutex
	state  UploadState
	cancel context.CancelFunc
	done   chan struct{}
}

// NewUploader creates an idle uploader.
func NewUploader(w Writer, src ProgressSource, opts UploaderOptions) *Uploader {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Uploader{
		writer:  w,
		source:  src,
		clock:   orRealClock(opts.Clock),
		logger:  log.OrNOOP(opts.Logger),
		settle:  opts.SettleDelay,
		poll:    opts.PollInterval,
		onState: opts.OnState,
	}
}

// State returns the current upload state.
func (u *Uploader) State() UploadState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Upload cancels any running poller, writes cmd and starts polling for the
// acknowledgement. A failed write is reported as UploadFailed and returned.
// The poller lives until completion, ctx cancellation or Cancel.
func (u *Uploader) Upload(ctx context.Context, cmd string) error {
	u.uploadMu.Lock()
	defer u.uploadMu.Unlock()

	u.Cancel()
	// a progress report of the previous mission must not complete this one
	u.source.Forget(KeyProgress)
	u.setState(UploadState{Phase: UploadUploading})

	if err := u.writer.Write(ctx, []byte(cmd)); err != nil {
		u.logger.Error("Mission upload failed", "error", err)
		u.setState(UploadState{Phase: UploadFailed, Reason: err.Error()})
		return err
	}
	u.logger.Info("Mission sent, waiting for acknowledgement", "bytes", len(cmd))

	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	u.mu.Lock()
	u.cancel = cancel
	u.done = done
	u.mu.Unlock()

	go u.run(pollCtx, done)
	return nil
}

// Cancel stops the running poller, if any, and waits for it to exit.
func (u *Uploader) Cancel() {
	u.mu.Lock()
	cancel, done := u.cancel, u.done
	u.cancel, u.done = nil, nil
	u.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Wait blocks until the running poller finishes or ctx is done, and returns
// the state at that time.
func (u *Uploader) Wait(ctx context.Context) (UploadState, error) {
	u.mu.Lock()
	done := u.done
	u.mu.Unlock()

	if done != nil {
		select {
		case <-ctx.Done():
			return u.State(), ctx.Err()
		case <-done:
		}
	}
	return u.State(), nil
}

func (u *Uploader) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	t := u.clock.NewTimer(u.settle)
	for {
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C():
		}

		if u.check() {
			return
		}
		t = u.clock.NewTimer(u.poll)
	}
}

// check reads the progress key once and reports whether the upload completed.
func (u *Uploader) check() bool {
	v, ok := u.source.Value(KeyProgress)
	if !ok {
		return false
	}
	a, b, ok := ParseProgress(v)
	if !ok {
		u.logger.Debug("Ignoring malformed progress", "value", v)
		return false
	}
	if a == b {
		u.logger.Info("Mission upload completed", "progress", v)
		u.setState(UploadState{Phase: UploadCompleted, Progress: v})
		return true
	}
	u.setState(UploadState{Phase: UploadAwaitingAck, Progress: v})
	return false
}

func (u *Uploader) setState(s UploadState) {
	u.mu.Lock()
	changed := u.state != s
	u.state = s
	u.mu.Unlock()

	if changed && u.onState != nil {
		u.onState(s)
	}
}
