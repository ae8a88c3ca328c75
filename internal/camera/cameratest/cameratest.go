// Package cameratest provides an in-memory camera for tests.
package cameratest

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/sjteam/spoolscan/internal/camera"
)

// Device is a scriptable camera.Device.
type Device struct {
	// Errs fails Open for the given facing.
	Errs map[camera.Facing]error
	// Frame produces the n-th frame of a stream. Nil yields blank frames.
	Frame func(n int) image.Image
	// Gate, when set, blocks Open until it is closed or the context ends.
	Gate chan struct{}
	// IgnoreCancel returns a stream even if the context ended while gated,
	// like a platform permission prompt that cannot be withdrawn.
	IgnoreCancel bool
	// StubbornStops makes each track ignore this many Stop calls.
	StubbornStops int
	// TracksPerStream defaults to 1.
	TracksPerStream int

	mu      sync.Mutex
	opens   []camera.Constraints
	streams []*Stream
}

// Open implements camera.Device.
func (d *Device) Open(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	d.mu.Lock()
	d.opens = append(d.opens, c)
	gate := d.Gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			if !d.IgnoreCancel {
				return nil, ctx.Err()
			}
			<-gate
		}
	}

	if err := d.Errs[c.Facing]; err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.TracksPerStream
	if n <= 0 {
		n = 1
	}
	s := &Stream{frame: d.Frame, stopped: make(chan struct{})}
	for i := 0; i < n; i++ {
		tr := &Track{id: fmt.Sprintf("video-%d-%d", len(d.streams), i), stubborn: int32(d.StubbornStops)}
		tr.live.Store(true)
		tr.onStop = s.trackStopped
		s.tracks = append(s.tracks, tr)
	}
	d.streams = append(d.streams, s)
	return s, nil
}

// Opens returns the constraints of every Open call so far.
func (d *Device) Opens() []camera.Constraints {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]camera.Constraints(nil), d.opens...)
}

// Streams returns every stream handed out so far.
func (d *Device) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Stream(nil), d.streams...)
}

// LiveTracks counts tracks still capturing across all streams.
func (d *Device) LiveTracks() int {
	live := 0
	for _, s := range d.Streams() {
		for _, tr := range s.tracks {
			if tr.Live() {
				live++
			}
		}
	}
	return live
}

// Stream is an in-memory camera.Stream.
type Stream struct {
	frame   func(int) image.Image
	tracks  []*Track
	mu      sync.Mutex
	n       int
	once    sync.Once
	stopped chan struct{}
	failErr atomic.Value
}

// NextFrame implements camera.Stream.
func (s *Stream) NextFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-s.stopped:
		return nil, camera.ErrStreamEnded
	default:
	}
	if v := s.failErr.Load(); v != nil {
		return nil, v.(error)
	}

	s.mu.Lock()
	n := s.n
	s.n++
	s.mu.Unlock()

	if s.frame == nil {
		return Blank(), nil
	}
	return s.frame(n), nil
}

// Tracks implements camera.Stream.
func (s *Stream) Tracks() []camera.Track {
	out := make([]camera.Track, len(s.tracks))
	for i, tr := range s.tracks {
		out[i] = tr
	}
	return out
}

// Delivered reports how many frames were produced.
func (s *Stream) Delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Fail makes subsequent NextFrame calls return err, as if the device was unplugged.
func (s *Stream) Fail(err error) {
	s.failErr.Store(err)
}

func (s *Stream) trackStopped() {
	for _, tr := range s.tracks {
		if tr.Live() {
			return
		}
	}
	s.once.Do(func() { close(s.stopped) })
}

// Track is an in-memory camera.Track.
type Track struct {
	id       string
	live     atomic.Bool
	stubborn int32
	stops    atomic.Int32
	onStop   func()
}

// ID implements camera.Track.
func (t *Track) ID() string { return t.id }

// Stop implements camera.Track.
func (t *Track) Stop() error {
	n := t.stops.Add(1)
	if n <= t.stubborn {
		return nil
	}
	t.live.Store(false)
	if t.onStop != nil {
		t.onStop()
	}
	return nil
}

// Live implements camera.Track.
func (t *Track) Live() bool { return t.live.Load() }

// Stops reports how many times Stop was called.
func (t *Track) Stops() int { return int(t.stops.Load()) }

// Blank returns a featureless grey frame.
func Blank() image.Image {
	img := image.NewGray(image.Rect(0, 0, 64, 48))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	return img
}

// Surface records attach/detach calls.
type Surface struct {
	mu       sync.Mutex
	attached camera.Stream
	attaches int
	detaches int
}

// Attach implements camera.Surface.
func (s *Surface) Attach(st camera.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = st
	s.attaches++
}

// Detach implements camera.Surface.
func (s *Surface) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = nil
	s.detaches++
}

// Attached reports whether a stream is currently attached.
func (s *Surface) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached != nil
}

// Counts returns the number of attach and detach calls.
func (s *Surface) Counts() (attaches, detaches int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attaches, s.detaches
}
