package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// ReplayDevice plays still images from a directory as if they were frames
// from an environment-facing camera. It stands in for real hardware on
// headless kiosks and in end-to-end checks.
type ReplayDevice struct {
	Dir string
}

// NewReplayDevice returns a device replaying images from dir.
func NewReplayDevice(dir string) *ReplayDevice {
	return &ReplayDevice{Dir: dir}
}

// Open implements Device.
func (d *ReplayDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	if c.Facing == FacingUser {
		return nil, ErrConstraint
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}

	var frames []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg", ".gif":
			frames = append(frames, filepath.Join(d.Dir, e.Name()))
		}
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no frames in %s", ErrNoDevice, d.Dir)
	}
	sort.Strings(frames)

	s := &replayStream{frames: frames, stopped: make(chan struct{})}
	s.track = &replayTrack{id: "replay:" + d.Dir, stream: s}
	s.track.live.Store(true)
	return s, nil
}

type replayStream struct {
	frames  []string
	track   *replayTrack
	mu      sync.Mutex
	next    int
	stopped chan struct{}
	once    sync.Once
}

func (s *replayStream) NextFrame(ctx context.Context) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.stopped:
		return nil, ErrStreamEnded
	default:
	}

	s.mu.Lock()
	path := s.frames[s.next%len(s.frames)]
	s.next++
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame %s: %w", path, err)
	}
	return img, nil
}

func (s *replayStream) Tracks() []Track {
	return []Track{s.track}
}

type replayTrack struct {
	id     string
	stream *replayStream
	live   atomic.Bool
}

func (t *replayTrack) ID() string { return t.id }

func (t *replayTrack) Stop() error {
	t.live.Store(false)
	t.stream.once.Do(func() { close(t.stream.stopped) })
	return nil
}

func (t *replayTrack) Live() bool { return t.live.Load() }
