package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/plantsage/backend/internal/evaluation"
	"github.com/plantsage/backend/internal/feedback"
	"github.com/plantsage/backend/pkg/logger"
)

type FeedbackSubmitter interface {
	Submit(ctx context.Context, s feedback.Submission) (*feedback.Record, error)
}

type FeedbackHandler struct {
	loop    FeedbackSubmitter
	logPath string
}

func NewFeedbackHandler(loop FeedbackSubmitter, logPath string) *FeedbackHandler {
	return &FeedbackHandler{
		loop:    loop,
		logPath: logPath,
	}
}

type feedbackRequest struct {
	Question     string   `json:"question"`
	Answer       string   `json:"answer"`
	Feedback     string   `json:"feedback" validate:"required,oneof=correct incorrect"`
	Comment      string   `json:"comment"`
	UsedChunkIDs []string `json:"used_chunk_ids"`
}

// SubmitFeedback records the judgment. Chunks that could not be demoted are
// reported back but do not fail the request.
func (h *FeedbackHandler) SubmitFeedback(c *fiber.Ctx) error {
	var req feedbackRequest

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, `feedback must be "correct" or "incorrect"`)
	}

	rec, err := h.loop.Submit(c.UserContext(), feedback.Submission{
		Question:     req.Question,
		Answer:       req.Answer,
		Feedback:     feedback.Judgment(req.Feedback),
		Comment:      req.Comment,
		UsedChunkIDs: req.UsedChunkIDs,
	})

	var partial *feedback.PartialUpdateError
	if err != nil && !errors.As(err, &partial) {
		return respondError(c, "Failed to record feedback", err)
	}

	body := fiber.Map{
		"id":     rec.ID,
		"status": "recorded",
	}
	if partial != nil {
		logger.Warn("Feedback recorded with failed demotions", zap.String("feedback_id", rec.ID), zap.Error(partial))
		failed := make([]string, 0, len(partial.Failed))
		for id := range partial.Failed {
			failed = append(failed, id)
		}
		body["failed_chunk_ids"] = failed
	}
	return c.JSON(body)
}

func (h *FeedbackHandler) GetReport(c *fiber.Ctx) error {
	records, err := feedback.ReadAll(h.logPath)
	if err != nil {
		return respondError(c, "Failed to read feedback log", err)
	}
	return c.JSON(evaluation.Summarize(records, c.QueryInt("top", 10)))
}
