package chrome

import (
	"context"

	u "html2image/internal/utils"
)

// WithBrowser launches a browser, runs fn with it and closes it on every exit
// path. A close failure is logged and never replaces the result of fn.
// Launch errors are returned as is.
func WithBrowser(ctx context.Context, e Engine, fn func(Browser) error) error {
	b, err := e.Launch(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			u.Warn("Failed to close browser", "error", cerr)
		}
	}()
	return fn(b)
}

// WithPage opens a page on b, runs fn with it and closes it afterwards. Like
// WithBrowser, a close failure is only logged.
func WithPage(ctx context.Context, b Browser, fn func(Page) error) error {
	p, err := b.NewPage(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			u.Warn("Failed to close page", "error", cerr)
		}
	}()
	return fn(p)
}
