package handlers

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
)

type photoInfo struct {
	Format string
	Width  int
	Height int
}

// checkPhoto rejects uploads that are not a supported still image before
// they reach the decoder.
func checkPhoto(data []byte, filename string) (photoInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return photoInfo{}, fmt.Errorf("unsupported image %q: %w", filename, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return photoInfo{}, fmt.Errorf("empty image %q", filename)
	}

	slog.Info("Photo received", "filename", filename, "format", format, "width", cfg.Width, "height", cfg.Height)
	return photoInfo{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}
