//go:build linux

package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blackjack/webcam"
)

const mjpeg = webcam.PixelFormat(0x47504A4D) // V4L2_PIX_FMT_MJPEG

// Webcam grabs single MJPEG frames from a local V4L2 device.
type Webcam struct {
	Device string
	Dir    string
	Width  uint32
	Height uint32
	Logger *slog.Logger

	mu   sync.Mutex
	last []byte
	now  func() time.Time
}

func NewWebcam(device, dir string, width, height uint32, logger *slog.Logger) *Webcam {
	return &Webcam{
		Device: device,
		Dir:    dir,
		Width:  width,
		Height: height,
		Logger: logger.With("camera", device),
		now:    time.Now,
	}
}

// Capture grabs a frame and writes it to Dir as <timestamp>.jpg.
func (w *Webcam) Capture(ctx context.Context) error {
	frame, err := w.grab(ctx)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.last = frame
	w.mu.Unlock()

	if w.Dir == "" {
		return nil
	}
	name := filepath.Join(w.Dir, w.now().UTC().Format("20060102T150405Z")+".jpg")
	if err := os.WriteFile(name, frame, 0o644); err != nil {
		return fmt.Errorf("webcam: write %s: %w", name, err)
	}
	w.Logger.Info("picture saved", "file", name, "bytes", len(frame))
	return nil
}

// Image returns the last captured frame.
func (w *Webcam) Image(context.Context) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return nil, ErrNoImage
	}
	return w.last, nil
}

func (w *Webcam) grab(ctx context.Context) ([]byte, error) {
	cam, err := webcam.Open(w.Device)
	if err != nil {
		return nil, fmt.Errorf("webcam: open %s: %w", w.Device, err)
	}
	defer cam.Close()

	if _, ok := cam.GetSupportedFormats()[mjpeg]; !ok {
		return nil, fmt.Errorf("webcam: %s does not support MJPEG", w.Device)
	}

	width, height := w.Width, w.Height
	if width == 0 || height == 0 {
		for _, s := range cam.GetSupportedFrameSizes(mjpeg) {
			if s.MaxWidth*s.MaxHeight > width*height {
				width, height = s.MaxWidth, s.MaxHeight
			}
		}
	}
	if _, _, _, err := cam.SetImageFormat(mjpeg, width, height); err != nil {
		return nil, fmt.Errorf("webcam: set format %dx%d: %w", width, height, err)
	}
	if err := cam.StartStreaming(); err != nil {
		return nil, fmt.Errorf("webcam: start streaming: %w", err)
	}

	// The first frames after power-up are often empty or dark.
	const attempts = 10
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := cam.WaitForFrame(2)
		var timeout *webcam.Timeout
		switch {
		case errors.As(err, &timeout):
			continue
		case err != nil:
			return nil, fmt.Errorf("webcam: wait for frame: %w", err)
		}

		frame, err := cam.ReadFrame()
		if err != nil {
			return nil, fmt.Errorf("webcam: read frame: %w", err)
		}
		if len(frame) > 0 && i >= 2 {
			out := make([]byte, len(frame))
			copy(out, frame)
			return out, nil
		}
	}
	return nil, fmt.Errorf("webcam: no frame from %s after %d attempts", w.Device, attempts)
}
