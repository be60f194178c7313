// Package memory is an in-process vector.Index using brute-force cosine
// similarity. It backs local development and tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/plantsage/backend/internal/vector"
)

type Index struct {
	mu     sync.RWMutex
	dim    int
	chunks map[string]vector.Chunk
}

// New returns an empty index. A dim of 0 adopts the dimension of the first
// upserted chunk.
func New(dim int) *Index {
	return &Index{dim: dim, chunks: make(map[string]vector.Chunk)}
}

func (s *Index) Upsert(ctx context.Context, chunks ...vector.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dim
	if dim == 0 && len(chunks) > 0 {
		dim = len(chunks[0].Vector)
	}

	staged := make([]vector.Chunk, 0, len(chunks))
	for _, c := range chunks {
		n, err := vector.Normalize(c, dim)
		if err != nil {
			return err
		}
		staged = append(staged, clone(n))
	}

	s.dim = dim
	for _, c := range staged {
		s.chunks[c.ID] = c
	}
	return nil
}

func (s *Index) Query(ctx context.Context, vec []float32, topK int, filter vector.Filter) ([]vector.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dim > 0 && len(vec) != s.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", vector.ErrDimensionMismatch, len(vec), s.dim)
	}

	matches := make([]vector.Match, 0, min(topK, len(s.chunks)))
	for _, c := range s.chunks {
		if !filter.Accepts(c) {
			continue
		}
		matches = append(matches, vector.Match{Chunk: clone(c), Score: vector.Cosine(vec, c.Vector)})
	}
	vector.SortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *Index) UpdateMetadata(ctx context.Context, id string, patch vector.Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chunks[id]
	if !ok {
		return fmt.Errorf("%w: %s", vector.ErrNotFound, id)
	}
	if patch.Status != nil {
		c.Status = *patch.Status
	}
	s.chunks[id] = c
	return nil
}

// Get returns a copy of the stored chunk.
func (s *Index) Get(id string) (vector.Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[id]
	return clone(c), ok
}

func (s *Index) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

func (s *Index) Close() error { return nil }

func clone(c vector.Chunk) vector.Chunk {
	c.Vector = slices.Clone(c.Vector)
	c.ScopeTags = maps.Clone(c.ScopeTags)
	return c
}
