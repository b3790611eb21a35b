package chrome

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/go-rod/rod/lib/launcher"

	u "html2image/internal/utils"
)

// Provisioner resolves the Chromium executable a launch should use.
type Provisioner interface {
	Name() string
	Resolve(ctx context.Context) (string, error)
}

// NewProvisioner selects the provisioning strategy named in cfg.
func NewProvisioner(cfg u.BrowserConfig) (Provisioner, error) {
	switch cfg.Provider {
	case u.ProviderInstalled, "":
		return &InstalledProvisioner{Path: cfg.ChromePath}, nil
	case u.ProviderBundled:
		return &BundledProvisioner{Dir: cfg.BundledDir, Revision: cfg.BundledRevision}, nil
	}
	return nil, fmt.Errorf("unknown browser provider %q", cfg.Provider)
}

// InstalledProvisioner uses a browser already present on the host: the
// configured path, or the first Chrome/Chromium found on the system.
type InstalledProvisioner struct {
	Path string

	// lookPath is replaced in tests.
	lookPath func() (string, bool)
}

func (p *InstalledProvisioner) Name() string { return u.ProviderInstalled }

func (p *InstalledProvisioner) Resolve(ctx context.Context) (string, error) {
	if p.Path != "" {
		if _, err := os.Stat(p.Path); err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrBrowserNotFound, p.Path, err)
		}
		return p.Path, nil
	}
	look := p.lookPath
	if look == nil {
		look = launcher.LookPath
	}
	if bin, ok := look(); ok {
		return bin, nil
	}
	return "", fmt.Errorf("%w: set browser.chrome_path or CHROME_BIN", ErrBrowserNotFound)
}

// BundledProvisioner uses a pinned Chromium build kept under Dir, downloading
// it on first use. The resolved path is cached for the life of the process.
type BundledProvisioner struct {
	Dir      string
	Revision int

	mu   sync.Mutex
	path string
}

func (p *BundledProvisioner) Name() string { return u.ProviderBundled }

func (p *BundledProvisioner) Resolve(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.path != "" {
		return p.path, nil
	}

	b := launcher.NewBrowser()
	b.Context = ctx
	b.Logger = rodLogger{}
	if p.Dir != "" {
		b.RootDir = p.Dir
	}
	if p.Revision > 0 {
		b.Revision = p.Revision
	}

	bin, err := b.Get()
	if err != nil {
		return "", fmt.Errorf("%w: bundled revision %d: %v", ErrBrowserNotFound, b.Revision, err)
	}
	u.Info("Bundled browser ready", "path", bin, "revision", b.Revision)
	p.path = bin
	return bin, nil
}

// rodLogger forwards launcher download progress to the service log.
type rodLogger struct{}

func (rodLogger) Println(args ...any) {
	u.Debug(fmt.Sprint(args...), "component", "launcher")
}
