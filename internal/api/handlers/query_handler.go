package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/plantsage/backend/internal/query"
	"github.com/plantsage/backend/internal/retrieval"
	"github.com/plantsage/backend/internal/storage/models"
	"github.com/plantsage/backend/internal/synthesis"
	"github.com/plantsage/backend/pkg/logger"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type Asker interface {
	Ask(ctx context.Context, req query.Request) (*query.Response, error)
}

type HistoryReader interface {
	GetQueryHistory(ctx context.Context, userID string, limit int) ([]models.QueryRecord, error)
}

type QueryHandler struct {
	engine  Asker
	history HistoryReader
}

func NewQueryHandler(engine Asker, history HistoryReader) *QueryHandler {
	return &QueryHandler{
		engine:  engine,
		history: history,
	}
}

type queryRequest struct {
	UserID        string           `json:"user_id"`
	Query         string           `json:"query" validate:"required"`
	Industry      string           `json:"industry"`
	PlantName     string           `json:"plant_name"`
	SMEContext    *retrieval.Scope `json:"sme_context"`
	GroundingMode string           `json:"grounding_mode"`
	UseExternal   *bool            `json:"use_external"`
	History       string           `json:"history"`
	UseMemory     bool             `json:"use_memory"`
}

// toEngine resolves the grounding mode and scope. An explicit grounding_mode
// wins over the use_external toggle; strict is the default.
func (r queryRequest) toEngine() (query.Request, error) {
	mode := synthesis.ModeStrict
	switch {
	case strings.TrimSpace(r.GroundingMode) != "":
		m, err := synthesis.ParseMode(r.GroundingMode)
		if err != nil {
			return query.Request{}, err
		}
		mode = m
	case r.UseExternal != nil:
		mode = synthesis.ModeFromUseExternal(*r.UseExternal)
	}

	var scope retrieval.Scope
	if r.SMEContext != nil {
		scope = *r.SMEContext
	}
	if scope.Industry == "" {
		scope.Industry = r.Industry
	}
	if scope.PlantName == "" {
		scope.PlantName = r.PlantName
	}

	req := query.Request{
		Query:     r.Query,
		UserID:    r.UserID,
		Mode:      mode,
		History:   r.History,
		UseMemory: r.UseMemory,
	}
	if !scope.Empty() {
		req.Scope = &scope
	}
	return req, nil
}

func answerBody(resp *query.Response) fiber.Map {
	a := resp.Answer
	return fiber.Map{
		"id":                  resp.ID,
		"answer":              a.Text,
		"sources":             []string{a.InternalSource, a.ExternalSource},
		"transparency":        []string{a.GroundingPercent, a.UsedExternal.String()},
		"follow_up_questions": a.FollowUps,
		"used_chunk_ids":      a.CitedChunkIDs,
		"grounding_mode":      resp.Mode.String(),
		"cached":              resp.Cached,
		"latency_ms":          resp.LatencyMS,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req queryRequest

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}

	if err := validate.Struct(req); err != nil {
		return badRequest(c, "Query is required")
	}

	engineReq, err := req.toEngine()
	if err != nil {
		return respondError(c, "Invalid grounding mode", err)
	}

	response, err := h.engine.Ask(c.UserContext(), engineReq)
	if err != nil {
		return respondError(c, "Failed to process query", err)
	}

	return c.JSON(answerBody(response))
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return badRequest(c, "user_id is required")
	}

	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}

	records, err := h.history.GetQueryHistory(c.UserContext(), userID, limit)
	if err != nil {
		return respondError(c, "Failed to load query history", err)
	}

	history := make([]fiber.Map, 0, len(records))
	for _, r := range records {
		history = append(history, fiber.Map{
			"id":                r.ID,
			"query":             r.QueryText,
			"grounding_mode":    r.GroundingMode,
			"answer":            r.Answer,
			"grounding_percent": r.GroundingPercent,
			"used_external":     r.UsedExternal,
			"used_chunk_ids":    r.CitedChunkIDs,
			"evidence_count":    r.EvidenceCount,
			"latency_ms":        r.LatencyMS,
			"created_at":        r.CreatedAt.UTC(),
		})
	}

	return c.JSON(fiber.Map{
		"history": history,
	})
}
