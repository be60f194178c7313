package handlers

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/plantsage/backend/internal/feedback"
	"github.com/plantsage/backend/internal/ingestion"
	"github.com/plantsage/backend/internal/query"
	"github.com/plantsage/backend/internal/retrieval"
	"github.com/plantsage/backend/internal/synthesis"
	"github.com/plantsage/backend/pkg/logger"
)

var validate = validator.New()

var badRequestErrors = []error{
	synthesis.ErrUnsupportedMode,
	query.ErrEmptyQuery,
	feedback.ErrInvalidJudgment,
	ingestion.ErrUnsupportedFormat,
	ingestion.ErrEmptyDocument,
	ingestion.ErrMissingName,
	ingestion.ErrNoReadings,
}

// statusFor maps domain errors to HTTP status codes and client messages.
// Upstream model or index failures are 502; anything unrecognised is 500.
func statusFor(err error) (int, string) {
	for _, target := range badRequestErrors {
		if errors.Is(err, target) {
			return fiber.StatusBadRequest, err.Error()
		}
	}

	var verr validator.ValidationErrors
	if errors.As(err, &verr) {
		return fiber.StatusBadRequest, verr.Error()
	}

	var rerr *retrieval.Error
	if errors.As(err, &rerr) {
		return fiber.StatusBadGateway, "Evidence retrieval failed"
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fiber.StatusRequestTimeout, "Request cancelled"
	}

	return fiber.StatusInternalServerError, "Internal server error"
}

func respondError(c *fiber.Ctx, msg string, err error) error {
	status, clientMsg := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		logger.Error(msg, zap.Error(err), zap.String("path", c.Path()))
	} else {
		logger.Warn(msg, zap.Error(err), zap.String("path", c.Path()))
	}
	return c.Status(status).JSON(fiber.Map{
		"error": clientMsg,
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
	})
}
