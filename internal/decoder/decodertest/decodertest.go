// Package decodertest builds QR fixtures for tests.
package decodertest

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// QRImage renders text as a QR code on a white quiet zone.
func QRImage(t testing.TB, text string) image.Image {
	t.Helper()

	matrix, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, 240, 240, nil)
	if err != nil {
		t.Fatalf("failed to encode QR fixture: %v", err)
	}

	canvas := image.NewGray(image.Rect(0, 0, 320, 320))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(40, 40, 280, 280), matrix, image.Point{}, draw.Src)
	return canvas
}

// QRPNG returns QRImage encoded as PNG bytes.
func QRPNG(t testing.TB, text string) []byte {
	t.Helper()
	return encodePNG(t, QRImage(t, text))
}

// Blank returns a uniform frame with nothing to decode.
func Blank(shade uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, 160, 120))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Gray{Y: shade}), image.Point{}, draw.Src)
	return img
}

// BlankPNG returns Blank encoded as PNG bytes.
func BlankPNG(t testing.TB) []byte {
	t.Helper()
	return encodePNG(t, Blank(255))
}

func encodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode PNG fixture: %v", err)
	}
	return buf.Bytes()
}
