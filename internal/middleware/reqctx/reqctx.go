package reqctx

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Config controls the context handed to handlers through c.UserContext().
type Config struct {
	// Base is cancelled when the server shuts down.
	Base context.Context
	// Timeout bounds each request. Zero means no deadline.
	Timeout time.Duration
}

// New derives every request context from cfg.Base. fasthttp never cancels a
// request context on client disconnect, so shutdown and the deadline are the
// only signals that abandon in-flight remote calls.
func New(cfg Config) fiber.Handler {
	base := cfg.Base
	if base == nil {
		base = context.Background()
	}

	return func(c *fiber.Ctx) error {
		var (
			ctx    context.Context
			cancel context.CancelFunc
		)
		if cfg.Timeout > 0 {
			ctx, cancel = context.WithTimeout(base, cfg.Timeout)
		} else {
			ctx, cancel = context.WithCancel(base)
		}
		defer cancel()

		c.SetUserContext(ctx)
		return c.Next()
	}
}
