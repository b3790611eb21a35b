// Package chrome launches short-lived headless Chromium processes and drives
// a single page through them.
package chrome

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ImageFormat is a raster format Chromium can capture.
type ImageFormat string

const (
	FormatPNG  ImageFormat = "png"
	FormatJPEG ImageFormat = "jpeg"
	FormatWebP ImageFormat = "webp"
)

// ParseImageFormat normalizes s. "jpg" is accepted as jpeg.
func ParseImageFormat(s string) (ImageFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "webp":
		return FormatWebP, nil
	}
	return "", fmt.Errorf("unsupported image format %q", s)
}

// ErrBrowserNotFound is returned when no Chromium binary can be resolved.
var ErrBrowserNotFound = errors.New("chrome binary not found")

// Engine starts browser processes. Every Launch yields an independent process.
type Engine interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser is one running browser process.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	// Close terminates the process and removes its profile.
	Close() error
}

// Page is one tab of a Browser.
type Page interface {
	// SetViewport sets the layout size with a device scale factor of 1.
	SetViewport(ctx context.Context, width, height int) error
	// SetContent replaces the document with html and returns once the DOM is
	// ready and the network has been idle. ctx bounds the wait.
	SetContent(ctx context.Context, html string) error
	// Screenshot captures the full page.
	Screenshot(ctx context.Context, format ImageFormat) ([]byte, error)
	Close() error
}

// LaunchOptions configures how the chromedp engine starts Chromium.
type LaunchOptions struct {
	// UserDataDir is the parent directory of the per-launch profile; empty
	// means the OS temp dir.
	UserDataDir string
	ExtraFlags  []string
	// NetworkIdle is the quiet period without in-flight requests that
	// SetContent waits for.
	NetworkIdle time.Duration
}

// DefaultNetworkIdle matches the usual "networkidle0" heuristic.
const DefaultNetworkIdle = 500 * time.Millisecond
