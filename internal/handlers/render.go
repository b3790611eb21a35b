package handlers

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"html2image/internal/chrome"
	"html2image/internal/screenshot"
	u "html2image/internal/utils"
)

// Response messages that clients match on.
const (
	msgMethodNotAllowed = "Method not allowed. Use POST."
	msgHTMLRequired     = "HTML content is required"
	msgInvalidJSON      = "Invalid JSON body"
	msgBadFormat        = "Unsupported image format"
	msgRenderFailed     = "Failed to generate image"
	msgRenderOK         = "Image generated successfully"
)

// RenderRequestParams holds validated input parameters.
type RenderRequestParams struct {
	HTML   string
	Width  int
	Height int
	Format chrome.ImageFormat
}

// renderBody is the JSON request body.
type renderBody struct {
	HTML   string    `json:"html"`
	Width  dimension `json:"width"`
	Height dimension `json:"height"`
	Format string    `json:"format"`
}

// RenderService bundles configuration and the screenshot pipeline.
type RenderService struct {
	Config      *u.Config
	Screenshots *screenshot.Service
}

// NewRenderService creates a RenderService that launches browsers through engine.
func NewRenderService(cfg u.Config, engine chrome.Engine) *RenderService {
	return &RenderService{
		Config: &cfg,
		Screenshots: screenshot.NewService(engine, screenshot.Options{
			LoadTimeout: cfg.Render.LoadTimeout,
			Timeout:     cfg.Render.Timeout,
		}),
	}
}

// HandleRenderRequest returns a Fiber handler for render requests.
func HandleRenderRequest(cfg u.Config, engine chrome.Engine) fiber.Handler {
	return NewRenderService(cfg, engine).HandleRender
}

// HandleRender serves every method on the render route: preflight, the
// method gate, validation and the render itself. All outcomes except the
// preflight carry a JSON body.
func (svc *RenderService) HandleRender(c *fiber.Ctx) error {
	SetCORSHeaders(c)

	switch c.Method() {
	case fiber.MethodOptions:
		c.Status(fiber.StatusOK)
		return nil
	case fiber.MethodPost:
	default:
		return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{"error": msgMethodNotAllowed})
	}

	params, err := validateAndExtractRenderParams(c, *svc.Config)
	if err != nil {
		if fe, ok := err.(*fiber.Error); ok {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}
		return err
	}

	return svc.processRender(c, params)
}

func (svc *RenderService) processRender(c *fiber.Ctx, params *RenderRequestParams) error {
	requestID := c.GetRespHeader(fiber.HeaderXRequestID)
	start := time.Now()

	res, err := svc.Screenshots.Render(c.UserContext(), screenshot.Request{
		HTML:   params.HTML,
		Width:  params.Width,
		Height: params.Height,
		Format: params.Format,
	})
	if err != nil {
		kind := screenshot.KindOf(err)
		u.Error("Image generation failed",
			"kind", string(kind),
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestID,
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   msgRenderFailed,
			"details": err.Error(),
			"kind":    kind,
		})
	}

	u.Info("Image generated",
		"format", string(res.Format),
		"width", params.Width,
		"height", params.Height,
		"bytes", res.Bytes,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", requestID,
	)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"image":   res.Image,
		"format":  res.Format,
		"message": msgRenderOK,
	})
}

// validateAndExtractRenderParams decodes the JSON body and applies defaults.
// HTML is only checked for presence.
func validateAndExtractRenderParams(c *fiber.Ctx, cfg u.Config) (*RenderRequestParams, error) {
	var body renderBody
	if raw := c.Body(); len(raw) > 0 {
		if err := c.App().Config().JSONDecoder(raw, &body); err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, msgInvalidJSON)
		}
	}

	if body.HTML == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, msgHTMLRequired)
	}

	width, err := body.Width.resolve("width", cfg.Render.DefaultWidth, cfg.Render.MaxWidth)
	if err != nil {
		return nil, err
	}
	height, err := body.Height.resolve("height", cfg.Render.DefaultHeight, cfg.Render.MaxHeight)
	if err != nil {
		return nil, err
	}

	formatStr := body.Format
	if formatStr == "" {
		formatStr = cfg.Render.DefaultFormat
	}
	format, err := chrome.ParseImageFormat(formatStr)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, msgBadFormat)
	}

	return &RenderRequestParams{
		HTML:   body.HTML,
		Width:  width,
		Height: height,
		Format: format,
	}, nil
}

func (d dimension) resolve(name string, def, max int) (int, error) {
	switch {
	case d.invalid || (d.set && d.value <= 0):
		return 0, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("Invalid %s: must be a positive integer", name))
	case !d.set:
		return def, nil
	case max > 0 && d.value > max:
		return 0, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("Invalid %s: must not exceed %d", name, max))
	}
	return d.value, nil
}

// SetCORSHeaders applies the fixed CORS policy of the render route.
func SetCORSHeaders(c *fiber.Ctx) {
	c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
	c.Set(fiber.HeaderAccessControlAllowMethods, "GET, POST, OPTIONS")
	c.Set(fiber.HeaderAccessControlAllowHeaders, "Content-Type, Authorization")
}
