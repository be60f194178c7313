package handlers

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/plantsage/backend/internal/ingestion"
	"github.com/plantsage/backend/pkg/logger"
)

// Ingester is the write side of the evidence corpus.
type Ingester interface {
	UpsertDocument(ctx context.Context, in ingestion.DocumentInput) ([]string, error)
	IndexTimeSeries(ctx context.Context, readings []ingestion.Reading) ([]string, error)
	IndexAnnotation(ctx context.Context, a ingestion.Annotation) (string, error)
	IndexRule(ctx context.Context, r ingestion.Rule) (string, error)
}

type DocumentHandler struct {
	processor Ingester
}

func NewDocumentHandler(processor Ingester) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
	}
}

type documentRequest struct {
	Text         string `json:"text" form:"text"`
	DocumentName string `json:"document_name" form:"document_name"`
	DocumentType string `json:"document_type" form:"document_type"`
	Format       string `json:"format" form:"format"`
	UserID       string `json:"user_id" form:"user_id"`
	Industry     string `json:"industry" form:"industry"`
	PlantName    string `json:"plant_name" form:"plant_name"`
}

// UploadDocument accepts either a multipart upload with a "file" field or a
// JSON body carrying the text inline.
func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	var req documentRequest

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}

	format := ingestion.Format(strings.ToLower(req.Format))

	if file, err := c.FormFile("file"); err == nil {
		format, err = ingestion.FormatFromFilename(file.Filename)
		if err != nil {
			return respondError(c, "Rejected document upload", err)
		}
		text, err := readUpload(file)
		if err != nil {
			return respondError(c, "Failed to read uploaded file", err)
		}
		req.Text = text
		if req.DocumentName == "" {
			req.DocumentName = strings.TrimSuffix(file.Filename, filepath.Ext(file.Filename))
		}
	}

	if strings.TrimSpace(req.Text) == "" || strings.TrimSpace(req.DocumentName) == "" {
		return badRequest(c, "Document text and document_name are required")
	}

	ids, err := h.processor.UpsertDocument(c.UserContext(), ingestion.DocumentInput{
		Text:      req.Text,
		Name:      req.DocumentName,
		Type:      req.DocumentType,
		Format:    format,
		UserID:    req.UserID,
		Industry:  req.Industry,
		PlantName: req.PlantName,
	})
	if err != nil {
		return respondError(c, "Failed to process document", err)
	}

	return c.JSON(fiber.Map{
		"message":       "Document processed successfully",
		"document_name": req.DocumentName,
		"chunks":        len(ids),
		"chunk_ids":     ids,
	})
}

func readUpload(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	return string(data), nil
}

type timeSeriesRequest struct {
	Readings []ingestion.Reading `json:"readings" validate:"required,min=1,dive"`
}

func (h *DocumentHandler) UploadTimeSeries(c *fiber.Ctx) error {
	var req timeSeriesRequest

	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return respondError(c, "Invalid time series batch", err)
	}

	ids, err := h.processor.IndexTimeSeries(c.UserContext(), req.Readings)
	if err != nil {
		return respondError(c, "Failed to index time series", err)
	}

	return c.JSON(fiber.Map{
		"readings":  len(req.Readings),
		"chunk_ids": ids,
	})
}

func (h *DocumentHandler) CreateAnnotation(c *fiber.Ctx) error {
	var req ingestion.Annotation

	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return respondError(c, "Invalid annotation", err)
	}

	id, err := h.processor.IndexAnnotation(c.UserContext(), req)
	if err != nil {
		return respondError(c, "Failed to index annotation", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"chunk_id": id,
	})
}

func (h *DocumentHandler) CreateRule(c *fiber.Ctx) error {
	var req ingestion.Rule

	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return respondError(c, "Invalid rule", err)
	}

	id, err := h.processor.IndexRule(c.UserContext(), req)
	if err != nil {
		return respondError(c, "Failed to index rule", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"chunk_id": id,
	})
}
