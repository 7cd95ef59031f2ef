//go:build !linux

package camera

import (
	"context"
	"errors"
	"log/slog"
)

// Webcam is not available on non-Linux platforms.
type Webcam struct{}

func NewWebcam(device, dir string, width, height uint32, logger *slog.Logger) *Webcam {
	return &Webcam{}
}

func (w *Webcam) Capture(context.Context) error {
	return errors.New("webcam: not supported on this platform (requires Linux)")
}

func (w *Webcam) Image(context.Context) ([]byte, error) {
	return nil, ErrNoImage
}
