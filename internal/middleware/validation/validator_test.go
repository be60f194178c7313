package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{MaxQueryLength: 50, MaxDocumentSize: 20}))
	ok := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) }
	app.Post("/api/v1/query", ok)
	app.Post("/api/v1/documents", ok)
	app.Post("/api/v1/feedback", ok)
	return app
}

func post(t *testing.T, app *fiber.App, path, contentType, body string) int {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestQueryValidation(t *testing.T) {
	app := newApp()
	const js = "application/json"

	assert.Equal(t, fiber.StatusOK, post(t, app, "/api/v1/query", js, `{"query":"how do I select a die for pelleting"}`))
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, "/api/v1/query", js, `{"query":""}`))
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, "/api/v1/query", js, `{"query":42}`))
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, "/api/v1/query", js, `not json`))
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, "/api/v1/query", js, `{"query":"`+strings.Repeat("x", 51)+`"}`))
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, "/api/v1/query", js, `{"query":"<script>alert(1)</script>"}`))
}

func TestContentTypeAndDocumentSize(t *testing.T) {
	app := newApp()

	assert.Equal(t, fiber.StatusUnsupportedMediaType, post(t, app, "/api/v1/feedback", "text/xml", `<x/>`))
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, post(t, app, "/api/v1/documents", "application/json", `{"text":"`+strings.Repeat("y", 21)+`"}`))
	assert.Equal(t, fiber.StatusOK, post(t, app, "/api/v1/documents", "application/json", `{"text":"short"}`))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "abc", Sanitize("  a\x00bc \n"))
}
