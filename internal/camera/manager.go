// Package camera owns the live capture stream used for QR scanning.
//
// A Manager holds at most one stream at a time. It samples frames at a bounded
// rate, feeds them to a frame decoder, and guarantees that every hardware track
// is stopped on every exit path: explicit Close, a successful decode, a broken
// stream, or cancellation of the context passed to Open.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/sjteam/spoolscan/internal/decoder"
	"golang.org/x/time/rate"
)

// State is the lifecycle state of the managed stream.
type State string

const (
	StateClosed    State = "closed"
	StateOpening   State = "opening"
	StateStreaming State = "streaming"
)

// FrameDecoder decodes individual video frames.
type FrameDecoder interface {
	DecodeFrame(frame image.Image) decoder.Result
}

// Callbacks receive the outcome of an Open. Result and Failure are delivered at
// most once per Open, after the hardware has been released and the sampler has
// exited, so they may safely call back into the Manager.
type Callbacks struct {
	// Streaming fires when the first frame arrives.
	Streaming func()
	// Result carries the first successfully decoded text.
	Result func(text string)
	// Warning reports non-fatal decoder engine faults; sampling continues.
	Warning func(err error)
	// Failure reports a camera access error or a stream that died on its own.
	Failure func(err error)
}

// Config tunes sampling and teardown.
type Config struct {
	// SampleRate is the number of frames decoded per second.
	SampleRate float64
	// OpenTimeout bounds the device-open request.
	OpenTimeout time.Duration
	// ReleaseAttempts is how many times a track is stopped before giving up.
	ReleaseAttempts int
	// ReleaseBackoff is the pause between stop attempts.
	ReleaseBackoff time.Duration
}

// DefaultConfig samples ten frames per second.
func DefaultConfig() Config {
	return Config{
		SampleRate:      10,
		OpenTimeout:     10 * time.Second,
		ReleaseAttempts: 3,
		ReleaseBackoff:  50 * time.Millisecond,
	}
}

// Handle is a point-in-time view of the owned capture resources.
type Handle struct {
	State          State
	Streaming      bool
	RetainedTracks int
}

// Manager is the single owner of the camera stream.
type Manager struct {
	device  Device
	decoder FrameDecoder
	surface Surface
	cfg     Config
	log     *slog.Logger

	mu     sync.Mutex
	state  State
	gen    uint64
	stream Stream
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		m.cfg = cfg
	}
}

// WithSurface attaches a preview surface to every stream.
func WithSurface(s Surface) Option {
	return func(m *Manager) {
		m.surface = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// NewManager creates a closed Manager.
func NewManager(device Device, dec FrameDecoder, opts ...Option) *Manager {
	m := &Manager{
		device:  device,
		decoder: dec,
		cfg:     DefaultConfig(),
		log:     slog.Default(),
		state:   StateClosed,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.SampleRate <= 0 {
		m.cfg.SampleRate = DefaultConfig().SampleRate
	}
	if m.cfg.ReleaseAttempts <= 0 {
		m.cfg.ReleaseAttempts = 1
	}
	if m.cfg.OpenTimeout <= 0 {
		m.cfg.OpenTimeout = DefaultConfig().OpenTimeout
	}
	m.log = m.log.With("component", "camera")
	return m
}

// Open starts acquiring the camera and returns immediately. Any stream held
// from a previous Open is released first.
func (m *Manager) Open(ctx context.Context, cb Callbacks) error {
	if m.device == nil || m.decoder == nil {
		return errors.New("camera manager is missing a device or decoder")
	}
	if err := m.Close(); err != nil {
		m.log.Warn("Prior camera stream did not release cleanly", "error", err)
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.state = StateOpening
	done := make(chan struct{})
	m.done = done
	m.mu.Unlock()

	m.log.Debug("Opening camera", "generation", gen)
	go m.run(runCtx, gen, cb, done)
	return nil
}

// Close stops sampling, stops every hardware track and detaches the preview
// surface. It is idempotent and safe to call from any goroutine, including
// from inside a callback.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == StateClosed && m.stream == nil && m.cancel == nil {
		m.mu.Unlock()
		return nil
	}
	s := m.teardownLocked()
	m.mu.Unlock()

	m.log.Debug("Camera closed")
	if s == nil {
		return nil
	}
	return m.release(s)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Handle reports the resources currently owned.
func (m *Manager) Handle() Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := Handle{State: m.state, Streaming: m.state == StateStreaming}
	if m.stream != nil {
		h.RetainedTracks = len(m.stream.Tracks())
	}
	return h
}

// Done is closed when the sampler started by the latest Open has exited.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return m.done
}

type outcome struct {
	text  string
	found bool
	err   error
}

func (m *Manager) run(ctx context.Context, gen uint64, cb Callbacks, done chan struct{}) {
	out := m.sample(ctx, gen, cb)
	close(done)

	switch {
	case out.found:
		if cb.Result != nil {
			cb.Result(out.text)
		}
	case out.err != nil:
		if cb.Failure != nil {
			cb.Failure(out.err)
		}
	}
}

func (m *Manager) sample(ctx context.Context, gen uint64, cb Callbacks) outcome {
	stream, err := m.acquire(ctx)
	if err != nil {
		if _, ok := m.finish(gen); ok && ctx.Err() == nil {
			m.log.Warn("Camera access failed", "error", err)
			return outcome{err: &AccessError{Err: err}}
		}
		return outcome{}
	}

	if !m.adopt(gen, stream) {
		// Close won the race against the device open; nobody else will stop it.
		m.log.Debug("Releasing stream acquired after close", "generation", gen)
		if err := m.releaseStream(stream, false); err != nil {
			m.log.Error("Failed to release orphaned stream", "error", err)
		}
		return outcome{}
	}

	limiter := rate.NewLimiter(rate.Limit(m.cfg.SampleRate), 1)
	first := true
	frames := 0
	for {
		if err := limiter.Wait(ctx); err != nil {
			m.abandon(gen)
			return outcome{}
		}

		frame, err := stream.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				m.abandon(gen)
				return outcome{}
			}
			s, ok := m.finish(gen)
			if !ok {
				return outcome{}
			}
			if relErr := m.release(s); relErr != nil {
				m.log.Error("Failed to release broken stream", "error", relErr)
			}
			m.log.Warn("Camera stream failed", "error", err, "frames", frames)
			return outcome{err: fmt.Errorf("camera stream failed: %w", err)}
		}

		// Frame delivery is not instantly cancellable; drop anything that
		// arrives after Close has started.
		if !m.current(gen) {
			return outcome{}
		}
		frames++

		if first {
			first = false
			if m.markStreaming(gen) && cb.Streaming != nil {
				cb.Streaming()
			}
		}

		res := m.decoder.DecodeFrame(frame)
		switch res.Kind {
		case decoder.NotFound:
			continue
		case decoder.Error:
			m.log.Warn("Frame decode fault", "error", res.Err)
			if cb.Warning != nil && m.current(gen) {
				cb.Warning(res.Err)
			}
			continue
		case decoder.Success:
			s, ok := m.finish(gen)
			if !ok {
				return outcome{}
			}
			if err := m.release(s); err != nil {
				m.log.Error("Failed to release stream after decode", "error", err)
			}
			m.log.Info("QR code decoded from camera", "frames", frames)
			return outcome{text: res.Text, found: true}
		}
	}
}

func (m *Manager) acquire(ctx context.Context) (Stream, error) {
	openCtx, cancel := context.WithTimeout(ctx, m.cfg.OpenTimeout)
	defer cancel()

	stream, err := m.device.Open(openCtx, Constraints{Facing: FacingEnvironment})
	if errors.Is(err, ErrNoDevice) || errors.Is(err, ErrConstraint) {
		m.log.Debug("No environment-facing camera, falling back to any camera", "error", err)
		stream, err = m.device.Open(openCtx, Constraints{Facing: FacingAny})
	}
	if err != nil {
		if ctx.Err() == nil && errors.Is(openCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("camera open timed out after %s: %w", m.cfg.OpenTimeout, err)
		}
		return nil, err
	}
	return stream, nil
}

// adopt binds stream to the manager if gen is still the live generation.
func (m *Manager) adopt(gen uint64, stream Stream) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.state != StateOpening {
		return false
	}
	m.stream = stream
	if m.surface != nil {
		m.surface.Attach(stream)
	}
	return true
}

func (m *Manager) markStreaming(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.state != StateOpening {
		return false
	}
	m.state = StateStreaming
	m.log.Info("Camera streaming", "generation", gen)
	return true
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen && m.state != StateClosed
}

// finish closes the manager on behalf of the sampler for gen. ok is false
// when gen is stale, meaning Close already tore everything down.
func (m *Manager) finish(gen uint64) (Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.state == StateClosed {
		return nil, false
	}
	return m.teardownLocked(), true
}

// abandon releases the stream for gen when the caller's context ended
// without going through Close.
func (m *Manager) abandon(gen uint64) {
	s, ok := m.finish(gen)
	if !ok || s == nil {
		return
	}
	if err := m.release(s); err != nil {
		m.log.Error("Failed to release stream after cancellation", "error", err)
	}
}

func (m *Manager) teardownLocked() Stream {
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.state = StateClosed
	s := m.stream
	m.stream = nil
	return s
}

func (m *Manager) release(s Stream) error {
	return m.releaseStream(s, true)
}

// releaseStream stops every track of s. The surface is left alone for streams
// that were never attached to it.
func (m *Manager) releaseStream(s Stream, attached bool) error {
	if s == nil {
		return nil
	}
	if attached && m.surface != nil {
		m.surface.Detach()
	}

	var errs []error
	for _, tr := range s.Tracks() {
		if err := m.stopTrack(tr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) stopTrack(tr Track) error {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.ReleaseAttempts; attempt++ {
		if err := tr.Stop(); err != nil {
			lastErr = err
		}
		if !tr.Live() {
			m.log.Debug("Camera track stopped", "track", tr.ID(), "attempt", attempt)
			return nil
		}
		if attempt < m.cfg.ReleaseAttempts {
			time.Sleep(m.cfg.ReleaseBackoff)
		}
	}
	m.log.Error("Camera track still live after stop", "track", tr.ID(), "attempts", m.cfg.ReleaseAttempts)
	if lastErr != nil {
		return fmt.Errorf("track %s still live: %w", tr.ID(), lastErr)
	}
	return fmt.Errorf("track %s still live after %d stop attempts", tr.ID(), m.cfg.ReleaseAttempts)
}
