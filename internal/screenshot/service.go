// Package screenshot renders an HTML document to a base64 data URL image.
package screenshot

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"html2image/internal/chrome"
	u "html2image/internal/utils"
)

// Request is a validated render request.
type Request struct {
	HTML   string
	Width  int
	Height int
	Format chrome.ImageFormat
}

// Result is a rendered image.
type Result struct {
	Image  string
	Format chrome.ImageFormat
	Bytes  int
}

// Options bounds a render.
type Options struct {
	// LoadTimeout bounds loading the HTML until DOM ready and network idle.
	LoadTimeout time.Duration
	// Timeout bounds the whole render including launch and capture.
	Timeout time.Duration
}

// Service renders requests, each in a fresh browser process.
type Service struct {
	engine chrome.Engine
	opts   Options
}

// NewService returns a Service launching browsers through engine.
func NewService(engine chrome.Engine, opts Options) *Service {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 30 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * opts.LoadTimeout
	}
	return &Service{engine: engine, opts: opts}
}

// Render launches a browser, loads req.HTML at the requested viewport and
// captures the full page. The browser is released on every path; failures
// come back as *Error.
func (s *Service) Render(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	var img []byte
	err := chrome.WithBrowser(ctx, s.engine, func(b chrome.Browser) error {
		err := chrome.WithPage(ctx, b, func(p chrome.Page) error {
			var err error
			img, err = s.capture(ctx, p, req)
			return err
		})
		if err != nil && KindOf(err) == "" {
			return wrap(KindPage, err)
		}
		return err
	})
	if err != nil {
		if KindOf(err) == "" {
			return nil, wrap(KindLaunch, err)
		}
		return nil, err
	}

	return &Result{
		Image:  DataURL(req.Format, img),
		Format: req.Format,
		Bytes:  len(img),
	}, nil
}

func (s *Service) capture(ctx context.Context, p chrome.Page, req Request) ([]byte, error) {
	if err := p.SetViewport(ctx, req.Width, req.Height); err != nil {
		return nil, wrap(KindPage, err)
	}

	loadCtx, cancel := context.WithTimeout(ctx, s.opts.LoadTimeout)
	err := p.SetContent(loadCtx, req.HTML)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, wrap(KindNavigationTimeout, err)
		}
		return nil, wrap(KindNavigation, err)
	}

	img, err := p.Screenshot(ctx, req.Format)
	if err != nil {
		return nil, wrap(KindCapture, err)
	}
	if len(img) == 0 {
		return nil, wrap(KindCapture, ErrEmptyCapture)
	}
	u.Debug("Screenshot captured", "format", string(req.Format), "bytes", len(img))
	return img, nil
}

// DataURL embeds img as a base64 data URL of media type image/<format>.
func DataURL(format chrome.ImageFormat, img []byte) string {
	return "data:image/" + string(format) + ";base64," + base64.StdEncoding.EncodeToString(img)
}
