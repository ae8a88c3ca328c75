// Package scan implements the scan dialog: a state machine that switches
// between live camera capture and photo upload and yields exactly one decoded
// string per session.
package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/sjteam/spoolscan/internal/camera"
	"github.com/sjteam/spoolscan/internal/decoder"
)

// Mode is the active acquisition source.
type Mode string

const (
	ModeNone   Mode = ""
	ModeCamera Mode = "camera"
	ModePhoto  Mode = "photo"
)

// Status is the dialog state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusAcquiring Status = "acquiring"
	StatusDecoding  Status = "decoding"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// User-facing failure messages.
const (
	MsgNoCode            = "no code found in image"
	MsgCameraUnavailable = "camera unavailable"
	MsgCameraStopped     = "camera stopped unexpectedly"
)

// ErrClosed is returned for operations on a controller with no open session.
var ErrClosed = errors.New("scan session is closed")

// Camera is the part of camera.Manager the controller drives.
type Camera interface {
	Open(ctx context.Context, cb camera.Callbacks) error
	Close() error
}

// StillDecoder decodes uploaded photos.
type StillDecoder interface {
	DecodeStillImage(data []byte) decoder.Result
}

// Snapshot is an immutable view of the current or most recent session.
type Snapshot struct {
	ID        uint64 `json:"id" yaml:"id"`
	Open      bool   `json:"open" yaml:"open"`
	Mode      Mode   `json:"mode" yaml:"mode"`
	Status    Status `json:"status" yaml:"status"`
	Streaming bool   `json:"streaming" yaml:"streaming"`
	LastError string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	Warning   string `json:"warning,omitempty" yaml:"warning,omitempty"`
	Result    string `json:"result,omitempty" yaml:"result,omitempty"`
}

// ResultFunc receives the decoded text of a session.
type ResultFunc func(sessionID uint64, text string)

// Controller owns the scan session. All methods are safe for concurrent use.
type Controller struct {
	camera  Camera
	decoder StillDecoder
	log     *slog.Logger

	mu       sync.Mutex
	snap     Snapshot
	lastID   uint64
	ctx      context.Context
	cancel   context.CancelFunc
	handlers []ResultFunc
}

// NewController creates a controller with no open session. cam may be nil
// when the host has no camera; camera mode then fails with MsgCameraUnavailable.
func NewController(cam Camera, dec StillDecoder, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		camera:  cam,
		decoder: dec,
		log:     log.With("component", "scan"),
		snap:    Snapshot{Status: StatusIdle},
	}
}

// OnResult registers fn for every session's decoded text. fn runs after the
// session has closed itself.
func (c *Controller) OnResult(fn ResultFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, fn)
}

// Open starts a fresh session and returns its id. A session that is still
// open is closed first.
func (c *Controller) Open(ctx context.Context) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()
	c.lastID++
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.snap = Snapshot{ID: c.lastID, Open: true, Status: StatusIdle}
	c.log.Info("Scan session opened", "session_id", c.lastID)
	return c.lastID
}

// SelectMode switches the acquisition source. The camera is always closed
// before the new mode becomes active.
func (c *Controller) SelectMode(mode Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.snap.Open {
		return ErrClosed
	}
	c.closeCameraLocked()

	c.snap.Mode = mode
	c.snap.LastError = ""
	c.snap.Warning = ""
	c.snap.Streaming = false
	c.log.Debug("Scan mode selected", "session_id", c.snap.ID, "mode", mode)

	switch mode {
	case ModeCamera:
		c.startCameraLocked()
	case ModePhoto:
		c.snap.Status = StatusAcquiring
	default:
		c.snap.Status = StatusIdle
	}
	return nil
}

// SubmitPhoto decodes an uploaded image. It switches to photo mode if needed.
// A miss or a decode fault leaves the session open in StatusFailed.
func (c *Controller) SubmitPhoto(data []byte) (Snapshot, error) {
	c.mu.Lock()
	if !c.snap.Open {
		c.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if c.snap.Mode != ModePhoto {
		c.closeCameraLocked()
		c.snap.Mode = ModePhoto
		c.snap.Streaming = false
		c.snap.Warning = ""
	}
	if c.snap.Status == StatusDecoding {
		snap := c.snap
		c.mu.Unlock()
		return snap, errors.New("a photo is already being decoded")
	}
	id := c.snap.ID
	c.snap.Status = StatusDecoding
	c.snap.LastError = ""
	c.mu.Unlock()

	res := c.decoder.DecodeStillImage(data)

	if res.Found() {
		c.succeed(id, res.Text)
		return c.Snapshot(), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.aliveLocked(id) || c.snap.Status != StatusDecoding {
		return c.snap, nil
	}
	if res.Kind == decoder.Error {
		c.log.Warn("Photo decode failed", "session_id", id, "error", res.Err)
	} else {
		c.log.Info("No code found in photo", "session_id", id)
	}
	c.snap.Status = StatusFailed
	c.snap.LastError = MsgNoCode
	return c.snap, nil
}

// Retry returns a failed session to acquiring in its current mode.
func (c *Controller) Retry() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.snap.Open {
		return ErrClosed
	}
	if c.snap.Status != StatusFailed {
		return nil
	}
	c.snap.LastError = ""
	switch c.snap.Mode {
	case ModeCamera:
		c.closeCameraLocked()
		c.startCameraLocked()
	case ModePhoto:
		c.snap.Status = StatusAcquiring
	default:
		c.snap.Status = StatusIdle
	}
	return nil
}

// Close tears down the camera and discards the session. It is safe to call
// in any state and any number of times.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

// Snapshot returns the state of the current or most recent session.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Alive reports whether id is the open session.
func (c *Controller) Alive(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aliveLocked(id)
}

func (c *Controller) aliveLocked(id uint64) bool {
	return c.snap.Open && c.snap.ID == id
}

func (c *Controller) closeLocked() {
	if !c.snap.Open {
		return
	}
	c.closeCameraLocked()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.snap.Open = false
	c.snap.Streaming = false
	if c.snap.Status != StatusSucceeded {
		c.snap.Status = StatusIdle
	}
	c.log.Info("Scan session closed", "session_id", c.snap.ID)
}

func (c *Controller) closeCameraLocked() {
	if c.camera == nil {
		return
	}
	if err := c.camera.Close(); err != nil {
		c.log.Error("Camera did not release cleanly", "session_id", c.snap.ID, "error", err)
	}
}

func (c *Controller) startCameraLocked() {
	if c.camera == nil {
		c.snap.Status = StatusFailed
		c.snap.LastError = MsgCameraUnavailable
		return
	}
	id := c.snap.ID
	c.snap.Status = StatusAcquiring
	err := c.camera.Open(c.ctx, camera.Callbacks{
		Streaming: func() { c.streaming(id) },
		Result:    func(text string) { c.succeed(id, text) },
		Warning:   func(err error) { c.warn(id, err) },
		Failure:   func(err error) { c.cameraFailed(id, err) },
	})
	if err != nil {
		c.log.Error("Failed to open camera", "session_id", id, "error", err)
		c.snap.Status = StatusFailed
		c.snap.LastError = MsgCameraUnavailable
	}
}

func (c *Controller) streaming(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aliveLocked(id) && c.snap.Mode == ModeCamera {
		c.snap.Streaming = true
	}
}

func (c *Controller) warn(id uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aliveLocked(id) && c.snap.Mode == ModeCamera {
		c.snap.Warning = err.Error()
	}
}

func (c *Controller) cameraFailed(id uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.aliveLocked(id) || c.snap.Mode != ModeCamera || c.snap.Status == StatusSucceeded {
		return
	}
	c.snap.Streaming = false
	c.snap.Status = StatusFailed
	if camera.IsAccessError(err) {
		c.snap.LastError = MsgCameraUnavailable + ": " + err.Error()
	} else {
		c.snap.LastError = MsgCameraStopped
	}
	c.log.Warn("Camera failed", "session_id", id, "error", err)
}

// succeed moves session id to StatusSucceeded at most once, closes it, then
// notifies handlers.
func (c *Controller) succeed(id uint64, text string) {
	c.mu.Lock()
	if !c.aliveLocked(id) || c.snap.Status == StatusSucceeded {
		c.mu.Unlock()
		c.log.Debug("Dropping result for stale session", "session_id", id)
		return
	}
	c.snap.Status = StatusSucceeded
	c.snap.Result = text
	c.snap.LastError = ""
	c.closeLocked()
	handlers := append([]ResultFunc(nil), c.handlers...)
	c.mu.Unlock()

	c.log.Info("Scan succeeded", "session_id", id)
	for _, fn := range handlers {
		fn(id, text)
	}
}
