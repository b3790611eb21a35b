package app

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"html2image/internal/tokens"
)

type fakeTokenRater struct{ limit int }

func (f fakeTokenRater) RateLimit(token string) int { return f.limit }

func readyTokens(m map[string]int) *tokens.Cache {
	c := tokens.NewCache()
	c.Replace(m)
	return c
}

func TestTokenRateLimit_Enforced(t *testing.T) {
	token := "test-token"
	limit := 2
	store := readyTokens(map[string]int{token: limit})

	app := fiber.New()
	app.Use(APIKeyAuth(store))
	app.Use(TokenRateLimit(time.Hour, store, memoryStorage.New(), NewLimiterCache()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	makeReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-API-Key", token)
		return req
	}

	for i := 0; i < limit; i++ {
		resp, err := app.Test(makeReq(), -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode, "request %d", i+1)
	}

	resp, err := app.Test(makeReq(), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "Too Many Requests")
}

func TestTokenRateLimit_UnlimitedToken(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(apiKeyLocal, "abc")
		return c.Next()
	})
	app.Use(TokenRateLimit(time.Hour, fakeTokenRater{limit: 0}, memoryStorage.New(), NewLimiterCache()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for i := 0; i < 5; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
}

func TestLimiterCache_ReusesHandlerPerLimit(t *testing.T) {
	lc := NewLimiterCache()
	builds := 0
	build := func() fiber.Handler {
		builds++
		return func(c *fiber.Ctx) error { return nil }
	}

	lc.get(5, build)
	lc.get(5, build)
	lc.get(7, build)
	assert.Equal(t, 2, builds)
}

func TestUserRateLimit(t *testing.T) {
	app := fiber.New()
	app.Use(UserRateLimit(2, time.Hour, memoryStorage.New()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	makeReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("User-Agent", "test-agent")
		req.RemoteAddr = "1.2.3.4:5678"
		return req
	}

	for i := 0; i < 2; i++ {
		resp, err := app.Test(makeReq(), -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
	}

	resp, err := app.Test(makeReq(), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
}

func TestRateLimiters_SkipPreflight(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if c.Get("X-API-Key") != "" {
			c.Locals(apiKeyLocal, c.Get("X-API-Key"))
		}
		return c.Next()
	})
	app.Use(TokenRateLimit(time.Hour, fakeTokenRater{limit: 1}, memoryStorage.New(), NewLimiterCache()))
	app.Use(UserRateLimit(1, time.Hour, memoryStorage.New()))
	app.Options("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for _, key := range []string{"", "abc"} {
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodOptions, "/", nil)
			if key != "" {
				req.Header.Set("X-API-Key", key)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusOK, resp.StatusCode, "key %q preflight %d", key, i+1)
		}
	}
}

func TestRenderCORS(t *testing.T) {
	app := fiber.New()
	app.Use(RenderCORS())
	app.Use(func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusTeapot) })

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/v1/render", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTeapot, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/v1/monitor", nil))
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestUserRateLimit_DisabledWhenZero(t *testing.T) {
	app := fiber.New()
	app.Use(UserRateLimit(0, time.Hour, memoryStorage.New()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
}

func TestTokenBasedLimitOverridesUserBasedLimit(t *testing.T) {
	userLimit := 2
	token := "test-token"
	// High token limit so only the user limiter would block if it were applied.
	store := readyTokens(map[string]int{token: 100})
	shared := memoryStorage.New()

	app := fiber.New()
	app.Use(APIKeyAuth(store))
	app.Use(TokenRateLimit(time.Hour, store, shared, NewLimiterCache()))
	app.Use(UserRateLimit(userLimit, time.Hour, shared))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	makeReq := func(withToken bool) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("User-Agent", "test-agent")
		req.RemoteAddr = "1.2.3.4:5678"
		if withToken {
			req.Header.Set("X-API-Key", token)
		}
		return req
	}

	for i := 0; i < userLimit; i++ {
		resp, err := app.Test(makeReq(false), -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
	resp, err := app.Test(makeReq(false), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)

	resp, err = app.Test(makeReq(true), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAPIKeyAuth(t *testing.T) {
	tests := []struct {
		name   string
		store  *tokens.Cache
		method string
		key    string
		code   int
		body   string
	}{
		{"anonymous", readyTokens(map[string]int{"k": 1}), http.MethodGet, "", fiber.StatusOK, "ok"},
		{"valid", readyTokens(map[string]int{"k": 1}), http.MethodGet, "k", fiber.StatusOK, "ok"},
		{"invalid", readyTokens(map[string]int{"k": 1}), http.MethodGet, "nope", fiber.StatusUnauthorized, "invalid api key"},
		{"not ready", tokens.NewCache(), http.MethodGet, "k", fiber.StatusServiceUnavailable, "token store not ready"},
		{"preflight skips", readyTokens(nil), http.MethodOptions, "nope", fiber.StatusOK, "ok"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(APIKeyAuth(tc.store))
			app.All("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

			req := httptest.NewRequest(tc.method, "/", nil)
			if tc.key != "" {
				req.Header.Set("X-API-Key", tc.key)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tc.code, resp.StatusCode)
			body, _ := io.ReadAll(resp.Body)
			assert.True(t, strings.Contains(string(body), tc.body), "body %q", body)
		})
	}
}

func TestNewRateLimitStore(t *testing.T) {
	assert.NotNil(t, NewRateLimitStore("", 0))
	// Unreachable Redis falls back to memory instead of panicking.
	assert.NotNil(t, NewRateLimitStore("127.0.0.1:1", 0))
}
