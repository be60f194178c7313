package reqctx

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ShutdownCancelsRequest(t *testing.T) {
	base, stop := context.WithCancel(context.Background())
	app := fiber.New()
	app.Use(New(Config{Base: base}))

	var seen error
	app.Get("/slow", func(c *fiber.Ctx) error {
		stop()
		select {
		case <-c.UserContext().Done():
			seen = c.UserContext().Err()
		case <-time.After(time.Second):
		}
		return c.SendStatus(fiber.StatusOK)
	})

	_, err := app.Test(httptest.NewRequest("GET", "/slow", nil), -1)
	require.NoError(t, err)
	assert.ErrorIs(t, seen, context.Canceled)
}

func TestNew_Deadline(t *testing.T) {
	app := fiber.New()
	app.Use(New(Config{Timeout: 20 * time.Millisecond}))

	var seen error
	app.Get("/slow", func(c *fiber.Ctx) error {
		<-c.UserContext().Done()
		seen = c.UserContext().Err()
		return c.SendStatus(fiber.StatusOK)
	})

	_, err := app.Test(httptest.NewRequest("GET", "/slow", nil), -1)
	require.NoError(t, err)
	assert.ErrorIs(t, seen, context.DeadlineExceeded)
}
