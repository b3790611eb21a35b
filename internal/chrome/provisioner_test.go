package chrome

import (
	"context"
	"errors"
	"testing"

	u "html2image/internal/utils"
)

func TestNewProvisioner(t *testing.T) {
	p, err := NewProvisioner(u.BrowserConfig{Provider: u.ProviderInstalled, ChromePath: "/bin/true"})
	if err != nil || p.Name() != u.ProviderInstalled {
		t.Fatalf("expected installed provisioner, got %v, %v", p, err)
	}

	p, err = NewProvisioner(u.BrowserConfig{Provider: u.ProviderBundled, BundledDir: t.TempDir()})
	if err != nil || p.Name() != u.ProviderBundled {
		t.Fatalf("expected bundled provisioner, got %v, %v", p, err)
	}

	if _, err := NewProvisioner(u.BrowserConfig{Provider: "lambda"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestInstalledProvisioner_ConfiguredPath(t *testing.T) {
	p := &InstalledProvisioner{Path: "/bin/true"}
	bin, err := p.Resolve(context.Background())
	if err != nil || bin != "/bin/true" {
		t.Fatalf("Resolve = %q, %v", bin, err)
	}

	p = &InstalledProvisioner{Path: "/definitely/missing/chrome"}
	if _, err := p.Resolve(context.Background()); !errors.Is(err, ErrBrowserNotFound) {
		t.Fatalf("expected ErrBrowserNotFound, got %v", err)
	}
}

func TestInstalledProvisioner_LookPath(t *testing.T) {
	p := &InstalledProvisioner{lookPath: func() (string, bool) { return "/opt/chrome/chrome", true }}
	bin, err := p.Resolve(context.Background())
	if err != nil || bin != "/opt/chrome/chrome" {
		t.Fatalf("Resolve = %q, %v", bin, err)
	}

	p = &InstalledProvisioner{lookPath: func() (string, bool) { return "", false }}
	if _, err := p.Resolve(context.Background()); !errors.Is(err, ErrBrowserNotFound) {
		t.Fatalf("expected ErrBrowserNotFound, got %v", err)
	}
}

func TestBundledProvisioner_CachedPath(t *testing.T) {
	p := &BundledProvisioner{path: "/cache/chromium/chrome"}
	bin, err := p.Resolve(context.Background())
	if err != nil || bin != "/cache/chromium/chrome" {
		t.Fatalf("Resolve = %q, %v", bin, err)
	}
}

func TestBundledProvisioner_CanceledDownload(t *testing.T) {
	if testing.Short() {
		t.Skip("touches the launcher download path")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &BundledProvisioner{Dir: t.TempDir()}
	if _, err := p.Resolve(ctx); !errors.Is(err, ErrBrowserNotFound) {
		t.Fatalf("expected ErrBrowserNotFound for a canceled download, got %v", err)
	}
}
