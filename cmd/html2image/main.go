package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"html2image/internal/app"
	"html2image/internal/chrome"
	"html2image/internal/tokens"
	u "html2image/internal/utils"
)

func main() {
	cfg := u.LoadConfig()
	u.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)
	u.SetLogLevel(cfg.Logger.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
	}

	var cache *tokens.Cache
	if cfg.Auth.Postgres.Host != "" {
		repo := tokens.NewPostgresRepository(cfg.Auth.Postgres)
		defer repo.Close()

		cache = tokens.NewCache()
		reloader := tokens.NewReloader(repo, cache, cfg.Auth.ReloadInterval)
		if err := reloader.LoadOnce(ctx); err != nil {
			u.Error("Failed to load API tokens", "error", err)
		}
		reloader.Start(ctx)
	}

	provisioner, err := chrome.NewProvisioner(cfg.Browser)
	if err != nil {
		u.Error("Invalid browser configuration", "error", err)
		os.Exit(1)
	}
	engine := chrome.NewChromedpEngine(provisioner, chrome.LaunchOptions{
		UserDataDir: cfg.Browser.UserDataDir,
		ExtraFlags:  cfg.Browser.ExtraFlags,
		NetworkIdle: cfg.Render.NetworkIdle,
	})
	u.Info("Browser provider selected", "provider", provisioner.Name())

	app := app.SetupApp(app.Deps{
		Config: cfg,
		Engine: engine,
		Redis:  rdb,
		Tokens: cache,
	})

	idleConnsClosed := make(chan struct{})
	startServer(app, cfg, idleConnsClosed)
	<-idleConnsClosed
}

// startServer starts the Fiber app and listens for shutdown signals
func startServer(app *fiber.App, cfg u.Config, idleConnsClosed chan struct{}) {
	go func() {
		if err := app.Listen(cfg.Server.Host + cfg.Server.Port); err != nil {
			u.Error("Server error", "error", err)
		}
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigint)
	<-sigint

	u.Warn("Shutdown signal received, closing server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		u.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	u.Info("Server stopped cleanly")
}
