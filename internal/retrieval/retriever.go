// Package retrieval turns a question into ranked evidence from the vector
// index.
package retrieval

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/plantsage/backend/internal/embedding"
	"github.com/plantsage/backend/internal/metrics"
	"github.com/plantsage/backend/internal/vector"
	"github.com/plantsage/backend/pkg/logger"
)

// ScopingPolicy decides how scope attributes influence document retrieval.
type ScopingPolicy string

const (
	// ScopeEmbed appends the serialized scope to the embedded query text.
	ScopeEmbed ScopingPolicy = "embed"
	// ScopeFilter turns industry and plant name into hard index filters.
	ScopeFilter ScopingPolicy = "filter"
	ScopeBoth   ScopingPolicy = "both"
)

type Config struct {
	DocumentTopK      int
	TagTopK           int
	MaxTagsConsidered int
	Policy            ScopingPolicy
	Vocabulary        Vocabulary
}

func DefaultConfig() Config {
	return Config{
		DocumentTopK:      10,
		TagTopK:           5,
		MaxTagsConsidered: 3,
		Policy:            ScopeEmbed,
		Vocabulary:        DefaultVocabulary,
	}
}

type Request struct {
	Query string
	Scope *Scope
	// ContentTypes limits the search. Empty searches every content type.
	ContentTypes []vector.ContentType
	UserID       string
}

type Result struct {
	Matches []vector.Match
	// Tags are the tags the fan-out queried, empty on the untagged path.
	Tags []string
}

// IDs returns the chunk ids of the matches in rank order.
func (r *Result) IDs() []string {
	ids := make([]string, len(r.Matches))
	for i, m := range r.Matches {
		ids[i] = m.Chunk.ID
	}
	return ids
}

type Retriever struct {
	embedder embedding.Gateway
	index    vector.Index
	cfg      Config
}

func NewRetriever(embedder embedding.Gateway, index vector.Index, cfg Config) *Retriever {
	def := DefaultConfig()
	if cfg.DocumentTopK <= 0 {
		cfg.DocumentTopK = def.DocumentTopK
	}
	if cfg.TagTopK <= 0 {
		cfg.TagTopK = def.TagTopK
	}
	if cfg.MaxTagsConsidered <= 0 {
		cfg.MaxTagsConsidered = def.MaxTagsConsidered
	}
	if cfg.Policy == "" {
		cfg.Policy = def.Policy
	}
	if cfg.Vocabulary == nil {
		cfg.Vocabulary = def.Vocabulary
	}
	return &Retriever{embedder: embedder, index: index, cfg: cfg}
}

// tagScoped reports whether the searched content carries tag labels.
func tagScoped(types []vector.ContentType) bool {
	if len(types) == 0 {
		return true
	}
	return slices.ContainsFunc(types, func(t vector.ContentType) bool { return t != vector.ContentDocument })
}

func documentsOnly(types []vector.ContentType) bool {
	return len(types) > 0 && !tagScoped(types)
}

func (r *Retriever) Retrieve(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, &Error{Op: "validate", Err: fmt.Errorf("query is empty")}
	}

	var tags []string
	if tagScoped(req.ContentTypes) {
		tags = r.cfg.Vocabulary.Extract(req.Query)
	}

	base := vector.Filter{
		ContentTypes: req.ContentTypes,
		UserID:       req.UserID,
		ExcludeBad:   true,
	}

	scoped := documentsOnly(req.ContentTypes) && !req.Scope.Empty()
	text := req.Query
	if scoped && (r.cfg.Policy == ScopeEmbed || r.cfg.Policy == ScopeBoth) {
		text = req.Query + " " + req.Scope.Serialize()
	}
	if scoped && (r.cfg.Policy == ScopeFilter || r.cfg.Policy == ScopeBoth) {
		base.Tags = map[string]string{}
		if req.Scope.Industry != "" {
			base.Tags[vector.TagIndustry] = req.Scope.Industry
		}
		if req.Scope.PlantName != "" {
			base.Tags[vector.TagPlant] = req.Scope.PlantName
		}
	}

	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, r.fail(ctx, "embed", err)
	}

	if len(tags) == 0 {
		matches, err := r.index.Query(ctx, vec, r.cfg.DocumentTopK, base)
		if err != nil {
			return nil, r.fail(ctx, "query", err)
		}
		metrics.RetrievalResults.WithLabelValues("untagged").Observe(float64(len(matches)))
		return &Result{Matches: matches}, nil
	}

	return r.fanOut(ctx, vec, base, tags)
}

// fanOut issues one tag-filtered query per considered tag concurrently and
// merges the results by score.
func (r *Retriever) fanOut(ctx context.Context, vec []float32, base vector.Filter, tags []string) (*Result, error) {
	considered := tags[:min(len(tags), r.cfg.MaxTagsConsidered)]
	results := make([][]vector.Match, len(considered))

	g, gctx := errgroup.WithContext(ctx)
	for i, tag := range considered {
		filter := base
		filter.Tags = map[string]string{vector.TagLabel: tag}
		g.Go(func() error {
			metrics.TagQueries.WithLabelValues(tag).Inc()
			matches, err := r.index.Query(gctx, vec, r.cfg.TagTopK, filter)
			if err != nil {
				return fmt.Errorf("tag %s: %w", tag, err)
			}
			results[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, r.fail(ctx, "query", err)
	}

	best := make(map[string]vector.Match)
	for _, ms := range results {
		for _, m := range ms {
			if prev, ok := best[m.Chunk.ID]; !ok || m.Score > prev.Score {
				best[m.Chunk.ID] = m
			}
		}
	}
	merged := make([]vector.Match, 0, len(best))
	for _, m := range best {
		merged = append(merged, m)
	}
	vector.SortMatches(merged)
	if limit := r.cfg.TagTopK * len(considered); len(merged) > limit {
		merged = merged[:limit]
	}

	logger.Debug("Tag-scoped retrieval completed",
		zap.Strings("tags", considered),
		zap.Int("results", len(merged)),
	)
	metrics.RetrievalResults.WithLabelValues("tagged").Observe(float64(len(merged)))
	return &Result{Matches: merged, Tags: considered}, nil
}

// fail wraps err unless the caller went away, in which case the context
// error is returned as is.
func (r *Retriever) fail(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &Error{Op: op, Err: err}
}
