package ingestion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/plantsage/backend/internal/embedding"
	"github.com/plantsage/backend/internal/metrics"
	"github.com/plantsage/backend/internal/vector"
	"github.com/plantsage/backend/pkg/logger"
)

// Reading is one sensor sample. MinRange and MaxRange are the instrument
// range used for normalisation.
type Reading struct {
	Timestamp time.Time `json:"timestamp" validate:"required"`
	TagID     string    `json:"tag_id" validate:"required"`
	TagLabel  string    `json:"tag_label" validate:"required"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	MinRange  float64   `json:"min_range"`
	MaxRange  float64   `json:"max_range"`
}

type Annotation struct {
	ID          string    `json:"id" validate:"required"`
	TagID       string    `json:"tag_id" validate:"required"`
	Timestamp   time.Time `json:"timestamp" validate:"required"`
	Description string    `json:"description" validate:"required"`
	Category    string    `json:"category"`
	Severity    string    `json:"severity"`
}

type Rule struct {
	ID          string `json:"id" validate:"required"`
	TagID       string `json:"tag_id" validate:"required"`
	Description string `json:"description" validate:"required"`
	Condition   string `json:"condition"`
	Threshold   string `json:"threshold"`
	Severity    string `json:"severity"`
}

var ErrNoReadings = errors.New("no readings to index")

// Normalize maps v into [0,100] over [min,max]. A degenerate range maps to 50.
func Normalize(v, min, max float64) float64 {
	if max == min {
		return 50
	}
	n := (v - min) / (max - min) * 100
	return math.Max(0, math.Min(100, n))
}

// IndexTimeSeries writes one summary chunk per tag id and returns the chunk
// ids in tag order. Re-indexing a tag replaces its summary.
func (p *Processor) IndexTimeSeries(ctx context.Context, readings []Reading) ([]string, error) {
	if len(readings) == 0 {
		return nil, ErrNoReadings
	}

	groups := make(map[string][]Reading)
	var order []string
	for _, r := range readings {
		if _, ok := groups[r.TagID]; !ok {
			order = append(order, r.TagID)
		}
		groups[r.TagID] = append(groups[r.TagID], r)
	}

	texts := make([]string, len(order))
	for i, tagID := range order {
		group := groups[tagID]
		sort.SliceStable(group, func(a, b int) bool { return group[a].Timestamp.Before(group[b].Timestamp) })
		texts[i] = seriesText(group)
	}

	vecs, err := embedding.Batch(ctx, p.embedder, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	chunks := make([]vector.Chunk, len(order))
	ids := make([]string, len(order))
	for i, tagID := range order {
		first := groups[tagID][0]
		ids[i] = "time_series_" + tagID
		chunks[i] = vector.Chunk{
			ID:          ids[i],
			Vector:      vecs[i],
			Text:        texts[i],
			SourceLabel: fmt.Sprintf("%s (%s) time series", first.TagLabel, tagID),
			ContentType: vector.ContentTimeSeries,
			ScopeTags:   map[string]string{vector.TagLabel: p.canonicalTag(first.TagLabel)},
		}
	}

	if err := p.index.Upsert(ctx, chunks...); err != nil {
		return nil, fmt.Errorf("failed to index time series: %w", err)
	}
	metrics.ChunksIndexed.WithLabelValues(string(vector.ContentTimeSeries)).Add(float64(len(chunks)))
	logger.Info("Time series indexed", zap.Int("tags", len(chunks)), zap.Int("readings", len(readings)))
	return ids, nil
}

func seriesText(group []Reading) string {
	first := group[0]
	var b strings.Builder
	fmt.Fprintf(&b, "%s readings in %s, range: %s–%s",
		first.TagLabel, first.Unit, num(first.MinRange), num(first.MaxRange))
	for _, r := range group {
		fmt.Fprintf(&b, "\n%s: %s %s %s (normalized: %s%%)",
			r.Timestamp.UTC().Format(time.RFC3339), r.TagLabel, num(r.Value), r.Unit,
			num(Normalize(r.Value, r.MinRange, r.MaxRange)))
	}
	return b.String()
}

func (p *Processor) IndexAnnotation(ctx context.Context, a Annotation) (string, error) {
	text := fmt.Sprintf("Annotation on %s at %s: %s (Category: %s, Severity: %s)",
		a.TagID, a.Timestamp.UTC().Format(time.RFC3339), a.Description, a.Category, a.Severity)
	return p.indexOne(ctx, vector.Chunk{
		ID:          "annotation_" + a.ID,
		Text:        text,
		SourceLabel: "Annotation " + a.ID,
		ContentType: vector.ContentAnnotation,
		ScopeTags:   map[string]string{vector.TagLabel: p.canonicalTag(a.TagID)},
	})
}

func (p *Processor) IndexRule(ctx context.Context, r Rule) (string, error) {
	text := fmt.Sprintf("Rule for %s: %s (Condition: %s, Threshold: %s, Severity: %s)",
		r.TagID, r.Description, r.Condition, r.Threshold, r.Severity)
	return p.indexOne(ctx, vector.Chunk{
		ID:          "rule_" + r.ID,
		Text:        text,
		SourceLabel: "Rule " + r.ID,
		ContentType: vector.ContentRule,
		ScopeTags:   map[string]string{vector.TagLabel: p.canonicalTag(r.TagID)},
	})
}

func (p *Processor) indexOne(ctx context.Context, c vector.Chunk) (string, error) {
	vec, err := p.embedder.Embed(ctx, c.Text)
	if err != nil {
		return "", fmt.Errorf("failed to generate embedding: %w", err)
	}
	c.Vector = vec
	if err := p.index.Upsert(ctx, c); err != nil {
		return "", fmt.Errorf("failed to index %s: %w", c.ContentType, err)
	}
	metrics.ChunksIndexed.WithLabelValues(string(c.ContentType)).Inc()
	logger.Debug("Evidence indexed", zap.String("chunk_id", c.ID))
	return c.ID, nil
}

// canonicalTag maps a free-form tag name onto the vocabulary so tag-filtered
// retrieval finds it. Unknown names are kept as given.
func (p *Processor) canonicalTag(name string) string {
	if tags := p.vocab.Extract(name); len(tags) > 0 {
		return tags[0]
	}
	return strings.TrimSpace(name)
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
