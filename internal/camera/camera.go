// Package camera triggers picture capture on the grow room cameras and
// fetches the latest image.
package camera

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

var ErrNoImage = errors.New("camera: no image")

// Capturer takes a picture. Capture may take tens of seconds on the remote
// cameras, callers run it in the background.
type Capturer interface {
	Capture(ctx context.Context) error
}

// Imager returns the last picture as JPEG bytes.
type Imager interface {
	Image(ctx context.Context) ([]byte, error)
}

// HTTP is a network camera that exposes GET /take/picture and serves an
// HTML page with the newest picture inlined as a base64 data URI.
type HTTP struct {
	Name     string
	Endpoint string
	Client   *http.Client
	Logger   *slog.Logger
}

func NewHTTP(name, endpoint string, logger *slog.Logger) *HTTP {
	return &HTTP{
		Name:     name,
		Endpoint: strings.TrimRight(endpoint, "/"),
		Client:   &http.Client{Timeout: 60 * time.Second},
		Logger:   logger.With("camera", name),
	}
}

func (c *HTTP) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("camera %s: %s returned %s", c.Name, url, resp.Status)
	}
	return resp, nil
}

func (c *HTTP) Capture(ctx context.Context) error {
	resp, err := c.get(ctx, c.Endpoint+"/take/picture")
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	c.Logger.Info("requested new picture")
	return nil
}

func (c *HTTP) Image(ctx context.Context) ([]byte, error) {
	resp, err := c.get(ctx, c.Endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("camera %s: parse page: %w", c.Name, err)
	}
	return inlineJPEG(doc)
}

const jpegDataURI = "data:image/jpeg;base64,"

// inlineJPEG decodes the first <img> whose src is a base64 JPEG data URI.
func inlineJPEG(n *html.Node) ([]byte, error) {
	if n.Type == html.ElementNode && n.Data == "img" {
		for _, a := range n.Attr {
			if a.Key == "src" && strings.HasPrefix(a.Val, jpegDataURI) {
				return base64.StdEncoding.DecodeString(strings.TrimPrefix(a.Val, jpegDataURI))
			}
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		b, err := inlineJPEG(child)
		if !errors.Is(err, ErrNoImage) {
			return b, err
		}
	}
	return nil, ErrNoImage
}
