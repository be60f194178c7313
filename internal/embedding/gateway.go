// Package embedding defines the text-to-vector gateway consumed by ingestion
// and retrieval.
package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/plantsage/backend/internal/cache"
	"github.com/plantsage/backend/internal/metrics"
	"github.com/plantsage/backend/pkg/logger"
	"github.com/plantsage/backend/pkg/utils"
)

// Gateway converts text to a fixed-dimension vector. Failures propagate;
// callers never substitute a fallback vector.
type Gateway interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type BatchGateway interface {
	Gateway
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Batch embeds texts in one call when gw supports it, else one by one.
func Batch(ctx context.Context, gw Gateway, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if bg, ok := gw.(BatchGateway); ok {
		vecs, err := bg.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(vecs), len(texts))
		}
		return vecs, nil
	}

	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := gw.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}

// Cached memoises a gateway. Cache errors are logged and bypassed.
type Cached struct {
	next      Gateway
	cache     cache.Cache
	namespace string
	ttl       time.Duration
}

// NewCached wraps next. namespace should identify the embedding model so
// switching models never serves stale vectors.
func NewCached(next Gateway, c cache.Cache, namespace string, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: c, namespace: namespace, ttl: ttl}
}

func (g *Cached) key(text string) string {
	return cache.PrefixEmbedding + utils.HashString(g.namespace, text)
}

func (g *Cached) lookup(ctx context.Context, text string) ([]float32, bool) {
	var vec []float32
	ok, err := cache.GetJSON(ctx, g.cache, g.key(text), &vec)
	if err != nil {
		logger.Warn("Embedding cache read failed", zap.Error(err))
		return nil, false
	}
	if ok {
		metrics.CacheHits.WithLabelValues("embedding").Inc()
	} else {
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
	}
	return vec, ok
}

func (g *Cached) store(ctx context.Context, text string, vec []float32) {
	if err := cache.SetJSON(ctx, g.cache, g.key(text), vec, g.ttl); err != nil {
		logger.Warn("Embedding cache write failed", zap.Error(err))
	}
}

func (g *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := g.lookup(ctx, text); ok {
		return vec, nil
	}
	vec, err := g.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	g.store(ctx, text, vec)
	return vec, nil
}

func (g *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missing []string
		slots   []int
	)
	for i, t := range texts {
		if vec, ok := g.lookup(ctx, t); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, t)
		slots = append(slots, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := Batch(ctx, g.next, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range vecs {
		out[slots[j]] = vec
		g.store(ctx, missing[j], vec)
	}
	return out, nil
}
