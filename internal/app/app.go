package app

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/redis/go-redis/v9"

	"html2image/internal/chrome"
	"html2image/internal/handlers"
	"html2image/internal/tokens"
	u "html2image/internal/utils"
)

// Deps are the collaborators the app is built from. Redis and Tokens may be nil.
type Deps struct {
	Config u.Config
	Engine chrome.Engine
	Redis  *redis.Client
	Tokens *tokens.Cache
}

// SetupApp creates and configures a new Fiber app instance
func SetupApp(deps Deps) *fiber.App {
	cfg := deps.Config
	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		BodyLimit:             cfg.Limits.MaxBodyBytes,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			msg := "Internal Server Error"

			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				msg = e.Message
			}

			if code >= fiber.StatusInternalServerError {
				u.Error("Request failed", "path", c.Path(), "status", code, "error", err)
			} else {
				u.Warn("Request failed", "path", c.Path(), "status", code, "reason", msg)
			}

			return c.Status(code).JSON(fiber.Map{"error": msg})
		},
	})

	if deps.Tokens == nil {
		// No token store configured: every presented key is unknown.
		deps.Tokens = tokens.NewCache()
		deps.Tokens.Replace(nil)
	}

	RegisterMiddleware(app, cfg, deps)
	RegisterRoutes(app, cfg, deps)

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

// RegisterRoutes mounts all route handlers to the app
func RegisterRoutes(app *fiber.App, cfg u.Config, deps Deps) {
	// One handler for every method: it owns preflight and the 405 contract.
	render := handlers.HandleRenderRequest(cfg, deps.Engine)
	app.All("/", render)

	v1 := app.Group("/v1")
	v1.All("/render", render)
	v1.Get("/monitor", monitor.New(monitor.Config{Title: "html2image"}))
}

// redisReady reports whether the optional Redis dependency answers a ping.
func redisReady(rdb *redis.Client) bool {
	if rdb == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		u.Warn("Readiness check failed", "dependency", "redis", "error", err)
		return false
	}
	return true
}
