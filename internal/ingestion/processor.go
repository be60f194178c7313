package ingestion

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/plantsage/backend/internal/chunker"
	"github.com/plantsage/backend/internal/embedding"
	"github.com/plantsage/backend/internal/metrics"
	"github.com/plantsage/backend/internal/retrieval"
	"github.com/plantsage/backend/internal/storage/models"
	"github.com/plantsage/backend/internal/vector"
	"github.com/plantsage/backend/pkg/logger"
	"github.com/plantsage/backend/pkg/utils"
)

var (
	ErrEmptyDocument = errors.New("no content extracted from document")
	ErrMissingName   = errors.New("document name is required")
)

// Registry records ingested documents. The sqlite client satisfies it.
type Registry interface {
	InsertDocument(ctx context.Context, doc *models.Document, chunks []models.DocumentChunk) error
}

type Processor struct {
	registry Registry
	index    vector.Index
	embedder embedding.Gateway
	chunker  *chunker.Chunker
	vocab    retrieval.Vocabulary
	now      func() time.Time
}

func NewProcessor(registry Registry, index vector.Index, embedder embedding.Gateway, ch *chunker.Chunker) *Processor {
	if ch == nil {
		ch = chunker.New()
	}
	return &Processor{
		registry: registry,
		index:    index,
		embedder: embedder,
		chunker:  ch,
		vocab:    retrieval.DefaultVocabulary,
		now:      time.Now,
	}
}

type DocumentInput struct {
	Text      string
	Name      string
	Type      string
	Format    Format
	UserID    string
	Industry  string
	PlantName string
}

// UpsertDocument chunks, embeds and indexes a document and returns the ids
// of its chunks in section order. Re-ingesting a document with the same name
// and owner overwrites its sections in place.
func (p *Processor) UpsertDocument(ctx context.Context, in DocumentInput) ([]string, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrMissingName
	}
	logger.Info("Processing document", zap.String("name", name), zap.String("format", string(in.Format)))

	text, err := extractText(in.Format, in.Text)
	if err != nil {
		return nil, err
	}
	sections := p.chunker.Split(text)
	if len(sections) == 0 {
		return nil, ErrEmptyDocument
	}
	logger.Info("Document chunked", zap.Int("chunks", len(sections)))

	embeddings, err := embedding.Batch(ctx, p.embedder, sections)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	docID := documentID(in.UserID, name)
	tags := scopeTags(map[string]string{
		vector.TagIndustry:     in.Industry,
		vector.TagPlant:        in.PlantName,
		vector.TagUser:         in.UserID,
		vector.TagDocumentType: in.Type,
	})

	now := p.now()
	chunks := make([]vector.Chunk, len(sections))
	rows := make([]models.DocumentChunk, len(sections))
	ids := make([]string, len(sections))
	for i, section := range sections {
		id := fmt.Sprintf("%s-%d", docID, i+1)
		ids[i] = id
		chunks[i] = vector.Chunk{
			ID:          id,
			Vector:      embeddings[i],
			Text:        section,
			SourceLabel: fmt.Sprintf("%s - Section: %d", name, i+1),
			ContentType: vector.ContentDocument,
			ScopeTags:   maps.Clone(tags),
		}
		rows[i] = models.DocumentChunk{ID: id, DocID: docID, ChunkIndex: i, Text: section, CreatedAt: now}
	}

	if err := p.index.Upsert(ctx, chunks...); err != nil {
		return nil, fmt.Errorf("failed to index chunks: %w", err)
	}

	if p.registry != nil {
		doc := &models.Document{
			ID:         docID,
			Name:       name,
			DocType:    in.Type,
			UserID:     in.UserID,
			Industry:   in.Industry,
			PlantName:  in.PlantName,
			ChunkCount: len(chunks),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := p.registry.InsertDocument(ctx, doc, rows); err != nil {
			return nil, fmt.Errorf("failed to register document: %w", err)
		}
	}

	metrics.DocumentsProcessed.Inc()
	metrics.ChunksIndexed.WithLabelValues(string(vector.ContentDocument)).Add(float64(len(chunks)))
	logger.Info("Document processed successfully",
		zap.String("doc_id", docID),
		zap.Int("chunks", len(chunks)),
	)

	return ids, nil
}

func documentID(userID, name string) string {
	if userID == "" {
		return utils.Slugify(name)
	}
	return utils.Slugify(userID + " " + name)
}

func scopeTags(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

var whitespace = regexp.MustCompile(`\s+`)

func cleanHTML(raw string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	parts := textNodes(doc.Find("body"), nil)
	if strings.TrimSpace(strings.Join(parts, "")) == "" {
		parts = textNodes(doc.Selection, nil)
	}

	text := whitespace.ReplaceAllString(strings.Join(parts, " "), " ")
	return strings.TrimSpace(text), nil
}

// textNodes collects text node by node so adjacent block elements stay
// separate words.
func textNodes(s *goquery.Selection, parts []string) []string {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		switch goquery.NodeName(c) {
		case "#text":
			parts = append(parts, c.Text())
		case "#comment":
		default:
			parts = textNodes(c, parts)
		}
	})
	return parts
}
