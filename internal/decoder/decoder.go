// Package decoder turns images into QR code text.
//
// The same Decoder serves both acquisition paths: single frames sampled from a
// live camera stream and whole photographs submitted by the user. A frame that
// holds no readable code is an ordinary NotFound result, never an error.
package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Kind classifies a decode attempt.
type Kind int

const (
	NotFound Kind = iota
	Success
	Error
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case NotFound:
		return "not_found"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Result is the outcome of one decode attempt.
type Result struct {
	Kind Kind
	Text string
	Err  error
}

// Found reports whether the attempt produced text.
func (r Result) Found() bool {
	return r.Kind == Success
}

var (
	// ErrEmptyImage is returned for zero-length still images.
	ErrEmptyImage = errors.New("empty image")
	// ErrEngine wraps unexpected failures of the decode engine.
	ErrEngine = errors.New("decode engine failure")
)

// Decoder wraps a gozxing QR reader.
type Decoder struct {
	newReader func() gozxing.Reader
	tryHarder bool
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithTryHarder makes still images use the slower, more thorough search.
// It is on by default.
func WithTryHarder(enabled bool) Option {
	return func(d *Decoder) {
		d.tryHarder = enabled
	}
}

// New returns a Decoder backed by the gozxing QR reader.
func New(opts ...Option) *Decoder {
	d := &Decoder{
		newReader: qrcode.NewQRCodeReader,
		tryHarder: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DecodeFrame attempts a single fast decode of one live video frame.
func (d *Decoder) DecodeFrame(frame image.Image) Result {
	if frame == nil {
		return Result{Kind: Error, Err: ErrEmptyImage}
	}
	return d.decode(frame, nil)
}

// DecodeStillImage decodes a fully loaded photograph exactly once.
func (d *Decoder) DecodeStillImage(data []byte) Result {
	if len(data) == 0 {
		return Result{Kind: Error, Err: ErrEmptyImage}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{Kind: Error, Err: fmt.Errorf("failed to decode image: %w", err)}
	}

	var hints map[gozxing.DecodeHintType]interface{}
	if d.tryHarder {
		hints = map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		}
	}
	return d.decode(img, hints)
}

func (d *Decoder) decode(img image.Image, hints map[gozxing.DecodeHintType]interface{}) (res Result) {
	// gozxing indexes bit matrices directly; malformed input can panic deep inside it.
	defer func() {
		if r := recover(); r != nil {
			res = Result{Kind: Error, Err: fmt.Errorf("%w: %v", ErrEngine, r)}
		}
	}()

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return Result{Kind: Error, Err: fmt.Errorf("%w: %v", ErrEngine, err)}
	}

	out, err := d.newReader().Decode(bmp, hints)
	if err != nil {
		if isMiss(err) {
			return Result{Kind: NotFound}
		}
		return Result{Kind: Error, Err: fmt.Errorf("%w: %v", ErrEngine, err)}
	}
	if out == nil || out.GetText() == "" {
		return Result{Kind: NotFound}
	}

	return Result{Kind: Success, Text: out.GetText()}
}

// isMiss reports whether err means "no readable code here". Checksum and
// format exceptions come from partially visible codes and count as misses.
func isMiss(err error) bool {
	var re gozxing.ReaderException
	return errors.As(err, &re)
}
