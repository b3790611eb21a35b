package chrome

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ChromedpEngine launches Chromium through chromedp's exec allocator.
type ChromedpEngine struct {
	provisioner Provisioner
	opts        LaunchOptions
}

// NewChromedpEngine returns an engine that resolves its binary with p.
func NewChromedpEngine(p Provisioner, opts LaunchOptions) *ChromedpEngine {
	if opts.NetworkIdle <= 0 {
		opts.NetworkIdle = DefaultNetworkIdle
	}
	return &ChromedpEngine{provisioner: p, opts: opts}
}

// Launch starts a browser process eagerly so that a broken binary or missing
// system library fails here rather than on the first page action.
func (e *ChromedpEngine) Launch(ctx context.Context) (Browser, error) {
	bin, err := e.provisioner.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	profileDir, err := os.MkdirTemp(e.opts.UserDataDir, "html2image-*")
	if err != nil {
		return nil, fmt.Errorf("cannot create temp profile dir: %w", err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(bin, profileDir, e.opts)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		_ = os.RemoveAll(profileDir)
		return nil, fmt.Errorf("start %s (%s): %w", bin, e.provisioner.Name(), err)
	}

	return &chromedpBrowser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		profileDir:  profileDir,
		networkIdle: e.opts.NetworkIdle,
	}, nil
}

// allocatorOptions builds the flag set for restricted container and
// serverless sandboxes without setuid, GPU or a usable /dev/shm.
func allocatorOptions(bin, profileDir string, opts LaunchOptions) []chromedp.ExecAllocatorOption {
	out := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(bin),
		chromedp.UserDataDir(profileDir),
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-accelerated-2d-canvas", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-zygote", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	for _, f := range opts.ExtraFlags {
		name, value, hasValue := strings.Cut(strings.TrimLeft(f, "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			out = append(out, chromedp.Flag(name, value))
		} else {
			out = append(out, chromedp.Flag(name, true))
		}
	}
	return out
}

type chromedpBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	profileDir  string
	networkIdle time.Duration
}

func (b *chromedpBrowser) NewPage(ctx context.Context) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}

	tracker := newNetworkTracker()
	chromedp.ListenTarget(tabCtx, tracker.handle)

	p := &chromedpPage{ctx: tabCtx, cancel: cancel, tracker: tracker, networkIdle: b.networkIdle}
	runCtx, stop := p.bind(ctx)
	defer stop()
	if err := chromedp.Run(runCtx, network.Enable()); err != nil {
		cancel()
		return nil, fmt.Errorf("enable network events: %w", err)
	}
	return p, nil
}

// Close asks the browser to exit, then tears down the allocator and removes
// the profile dir. All failures are joined.
func (b *chromedpBrowser) Close() error {
	errCancel := chromedp.Cancel(b.ctx)
	if errors.Is(errCancel, context.Canceled) {
		errCancel = nil
	}
	b.cancel()
	b.allocCancel()
	errRemove := os.RemoveAll(b.profileDir)
	return errors.Join(errCancel, errRemove)
}

type chromedpPage struct {
	ctx         context.Context
	cancel      context.CancelFunc
	tracker     *networkTracker
	networkIdle time.Duration
}

// bind derives a context from the tab that also ends when ctx ends, so the
// caller's deadline applies to a single action without closing the tab.
func (p *chromedpPage) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(p.ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		parentCancel := cancel
		cancel = func() {
			cancelDeadline()
			parentCancel()
		}
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (p *chromedpPage) SetViewport(ctx context.Context, width, height int) error {
	runCtx, stop := p.bind(ctx)
	defer stop()
	return chromedp.Run(runCtx,
		chromedp.EmulateViewport(int64(width), int64(height), chromedp.EmulateScale(1)),
	)
}

func (p *chromedpPage) SetContent(ctx context.Context, html string) error {
	runCtx, stop := p.bind(ctx)
	defer stop()

	err := chromedp.Run(runCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			p.tracker.reset()
			frame, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frame.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return p.tracker.wait(ctx, p.networkIdle)
		}),
	)
	if err != nil && runCtx.Err() != nil {
		// chromedp may surface its own error text for an expired context.
		return fmt.Errorf("%w: %v", runCtx.Err(), err)
	}
	return err
}

func (p *chromedpPage) Screenshot(ctx context.Context, format ImageFormat) ([]byte, error) {
	runCtx, stop := p.bind(ctx)
	defer stop()

	var buf []byte
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, _, cssContentSize, err := page.GetLayoutMetrics().Do(ctx)
		if err != nil {
			return err
		}
		width := math.Ceil(cssContentSize.Width)
		height := math.Ceil(cssContentSize.Height)

		capture := page.CaptureScreenshot().
			WithFormat(captureFormat(format)).
			WithCaptureBeyondViewport(true).
			WithFromSurface(true).
			WithClip(&page.Viewport{X: 0, Y: 0, Width: width, Height: height, Scale: 1})
		if format != FormatPNG {
			capture = capture.WithQuality(90)
		}
		buf, err = capture.Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *chromedpPage) Close() error {
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func captureFormat(f ImageFormat) page.CaptureScreenshotFormat {
	switch f {
	case FormatJPEG:
		return page.CaptureScreenshotFormatJpeg
	case FormatWebP:
		return page.CaptureScreenshotFormatWebp
	}
	return page.CaptureScreenshotFormatPng
}
