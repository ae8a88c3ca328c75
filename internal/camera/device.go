package camera

import (
	"context"
	"errors"
	"image"
)

var (
	// ErrPermissionDenied means the user or the platform refused camera access.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrNoDevice means no capture device is available.
	ErrNoDevice = errors.New("no camera available")
	// ErrConstraint means no device satisfies the requested constraints.
	ErrConstraint = errors.New("no camera matches constraints")
	// ErrStreamEnded is returned by NextFrame once the stream has been stopped.
	ErrStreamEnded = errors.New("camera stream ended")
)

// Facing expresses which way the requested camera should point.
type Facing string

const (
	FacingAny         Facing = "any"
	FacingEnvironment Facing = "environment"
	FacingUser        Facing = "user"
)

// Constraints is the device-selection hint passed to a Device.
type Constraints struct {
	Facing Facing
}

// Device is the platform media-capture interface.
type Device interface {
	// Open acquires a capture device matching c and starts delivering frames.
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is a live capture bound to one or more hardware tracks.
type Stream interface {
	// NextFrame blocks until a frame is available, the context is done, or the
	// stream has been stopped.
	NextFrame(ctx context.Context) (image.Image, error)
	// Tracks returns the hardware tracks backing this stream.
	Tracks() []Track
}

// Track is a single hardware capture track.
type Track interface {
	ID() string
	Stop() error
	// Live reports whether the hardware is still attached and capturing.
	Live() bool
}

// Surface is an optional preview sink for a live stream.
type Surface interface {
	Attach(Stream)
	Detach()
}

// AccessError reports that the camera could not be acquired. It is distinct
// from decode errors so the dialog can offer the photo path instead.
type AccessError struct {
	Err error
}

func (e *AccessError) Error() string {
	return "camera access failed: " + e.Err.Error()
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// IsAccessError reports whether err is a camera access failure.
func IsAccessError(err error) bool {
	var ae *AccessError
	return errors.As(err, &ae)
}
