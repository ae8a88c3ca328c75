//go:build gocv

package camera

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// GocvDevice captures from a local video device through OpenCV. The rear
// index is used for environment-facing requests; a negative rear index means
// the machine has no such camera.
type GocvDevice struct {
	RearIndex     int
	FallbackIndex int
	Width         int
	Height        int
}

// NewGocvDevice returns an OpenCV-backed device.
func NewGocvDevice(rearIndex, fallbackIndex int) (Device, error) {
	return &GocvDevice{RearIndex: rearIndex, FallbackIndex: fallbackIndex}, nil
}

// Open implements Device.
func (d *GocvDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	idx := d.FallbackIndex
	switch c.Facing {
	case FacingEnvironment:
		if d.RearIndex < 0 {
			return nil, ErrConstraint
		}
		idx = d.RearIndex
	case FacingUser:
		idx = d.FallbackIndex
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vc, err := gocv.OpenVideoCapture(idx)
	if err != nil {
		return nil, fmt.Errorf("%w: device %d: %v", ErrNoDevice, idx, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: device %d did not open", ErrNoDevice, idx)
	}
	if d.Width > 0 && d.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(d.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(d.Height))
	}

	// The caller may have gone away while the driver was opening.
	if err := ctx.Err(); err != nil {
		vc.Close()
		return nil, err
	}

	s := &gocvStream{vc: vc}
	s.track = &gocvTrack{id: fmt.Sprintf("video%d", idx), stream: s}
	return s, nil
}

type gocvStream struct {
	mu     sync.Mutex
	vc     *gocv.VideoCapture
	closed bool
	track  *gocvTrack
}

func (s *gocvStream) NextFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStreamEnded
	}

	mat := gocv.NewMat()
	defer mat.Close()
	if ok := s.vc.Read(&mat); !ok || mat.Empty() {
		return nil, fmt.Errorf("%w: empty read from %s", ErrStreamEnded, s.track.id)
	}
	return mat.ToImage()
}

func (s *gocvStream) Tracks() []Track {
	return []Track{s.track}
}

type gocvTrack struct {
	id     string
	stream *gocvStream
}

func (t *gocvTrack) ID() string { return t.id }

func (t *gocvTrack) Stop() error {
	s := t.stream
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.vc.Close()
}

func (t *gocvTrack) Live() bool {
	s := t.stream
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.vc.IsOpened()
}
