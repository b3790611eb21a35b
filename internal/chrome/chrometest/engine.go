// Package chrometest provides an in-memory chrome.Engine for tests.
package chrometest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"

	"html2image/internal/chrome"
)

// Engine is a fake chrome.Engine. The zero value renders a solid image of the
// viewport size. Set the *Err fields to inject failures.
type Engine struct {
	LaunchErr  error
	NewPageErr error
	ViewErr    error
	ContentErr error
	CaptureErr error
	CloseErr   error
	// BlockContent makes SetContent wait until its context ends.
	BlockContent bool
	// Image overrides the captured bytes when non-nil.
	Image []byte

	mu       sync.Mutex
	launches int
	closes   int
	pages    int
	html     string
	width    int
	height   int
	format   chrome.ImageFormat
}

func (e *Engine) Launch(ctx context.Context) (chrome.Browser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.launches++
	if e.LaunchErr != nil {
		return nil, e.LaunchErr
	}
	return &browser{e: e}, nil
}

// Launches returns how many times Launch was called.
func (e *Engine) Launches() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.launches
}

// Closes returns how many browsers were closed.
func (e *Engine) Closes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closes
}

// Pages returns how many pages were opened.
func (e *Engine) Pages() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pages
}

// Last returns the HTML, viewport and format of the most recent render.
func (e *Engine) Last() (html string, width, height int, format chrome.ImageFormat) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.html, e.width, e.height, e.format
}

type browser struct{ e *Engine }

func (b *browser) NewPage(ctx context.Context) (chrome.Page, error) {
	b.e.mu.Lock()
	defer b.e.mu.Unlock()
	if b.e.NewPageErr != nil {
		return nil, b.e.NewPageErr
	}
	b.e.pages++
	return &page{e: b.e}, nil
}

func (b *browser) Close() error {
	b.e.mu.Lock()
	defer b.e.mu.Unlock()
	b.e.closes++
	return b.e.CloseErr
}

type page struct{ e *Engine }

func (p *page) SetViewport(ctx context.Context, width, height int) error {
	p.e.mu.Lock()
	defer p.e.mu.Unlock()
	p.e.width, p.e.height = width, height
	return p.e.ViewErr
}

func (p *page) SetContent(ctx context.Context, html string) error {
	p.e.mu.Lock()
	p.e.html = html
	block, err := p.e.BlockContent, p.e.ContentErr
	p.e.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (p *page) Screenshot(ctx context.Context, format chrome.ImageFormat) ([]byte, error) {
	p.e.mu.Lock()
	defer p.e.mu.Unlock()
	p.e.format = format
	if p.e.CaptureErr != nil {
		return nil, p.e.CaptureErr
	}
	if p.e.Image != nil {
		return p.e.Image, nil
	}
	return Solid(p.e.width, p.e.height, format)
}

func (p *page) Close() error { return nil }

// Solid encodes a white width x height image. WebP has no encoder in the
// standard library, so it falls back to PNG bytes.
func Solid(width, height int, format chrome.ImageFormat) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	var err error
	if format == chrome.FormatJPEG {
		err = jpeg.Encode(&buf, img, nil)
	} else {
		err = png.Encode(&buf, img)
	}
	return buf.Bytes(), err
}
