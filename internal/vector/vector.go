// Package vector defines the similarity-searchable evidence store used by
// ingestion, retrieval and feedback.
package vector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
)

type ContentType string

const (
	ContentDocument   ContentType = "document"
	ContentTimeSeries ContentType = "time_series"
	ContentAnnotation ContentType = "annotation"
	ContentRule       ContentType = "rule"
)

func (t ContentType) Valid() bool {
	switch t {
	case ContentDocument, ContentTimeSeries, ContentAnnotation, ContentRule:
		return true
	}
	return false
}

type Status string

const (
	StatusActive Status = "active"
	StatusBad    Status = "bad"
)

// Scope tag keys understood by every Index implementation.
const (
	TagIndustry     = "industry"
	TagPlant        = "plant_name"
	TagUser         = "user_id"
	TagLabel        = "tag_label"
	TagDocumentType = "document_type"
)

var ScopeTagKeys = []string{TagIndustry, TagPlant, TagUser, TagLabel, TagDocumentType}

var (
	ErrNotFound          = errors.New("vector: chunk not found")
	ErrDimensionMismatch = errors.New("vector: dimension mismatch")
)

// Chunk is one indexed unit of evidence.
type Chunk struct {
	ID          string            `json:"id"`
	Vector      []float32         `json:"-"`
	Text        string            `json:"text"`
	SourceLabel string            `json:"source_label"`
	ContentType ContentType       `json:"content_type"`
	ScopeTags   map[string]string `json:"scope_tags,omitempty"`
	Status      Status            `json:"status"`
}

type Match struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// Filter narrows a query. Empty fields do not constrain.
type Filter struct {
	ContentTypes []ContentType
	// Tags are exact-match constraints on scope tags.
	Tags map[string]string
	// UserID admits chunks owned by this user plus chunks with no owner.
	UserID     string
	ExcludeBad bool
}

// Accepts reports whether c passes the filter. Index implementations that
// cannot push a filter down to their backend use it directly.
func (f Filter) Accepts(c Chunk) bool {
	if f.ExcludeBad && c.Status == StatusBad {
		return false
	}
	if len(f.ContentTypes) > 0 && !slices.Contains(f.ContentTypes, c.ContentType) {
		return false
	}
	for k, v := range f.Tags {
		if c.ScopeTags[k] != v {
			return false
		}
	}
	if f.UserID != "" {
		if owner := c.ScopeTags[TagUser]; owner != "" && owner != f.UserID {
			return false
		}
	}
	return true
}

type Patch struct {
	Status *Status
}

func StatusPatch(s Status) Patch {
	return Patch{Status: &s}
}

// Index is a similarity-searchable store of chunks.
//
// Upsert overwrites by id. Query returns matches ordered by descending
// score. UpdateMetadata returns ErrNotFound for unknown ids.
type Index interface {
	Upsert(ctx context.Context, chunks ...Chunk) error
	Query(ctx context.Context, vec []float32, topK int, filter Filter) ([]Match, error)
	UpdateMetadata(ctx context.Context, id string, patch Patch) error
	Close() error
}

// Normalize fills defaults on a chunk about to be written and validates it
// against the index dimension.
func Normalize(c Chunk, dim int) (Chunk, error) {
	if c.ID == "" {
		return c, errors.New("vector: chunk id is required")
	}
	if dim > 0 && len(c.Vector) != dim {
		return c, fmt.Errorf("%w: chunk %s has %d, index has %d", ErrDimensionMismatch, c.ID, len(c.Vector), dim)
	}
	if c.ContentType == "" {
		c.ContentType = ContentDocument
	}
	if !c.ContentType.Valid() {
		return c, fmt.Errorf("vector: unknown content type %q", c.ContentType)
	}
	if c.Status == "" {
		c.Status = StatusActive
	}
	return c, nil
}

// SortMatches orders by descending score, breaking ties by id.
func SortMatches(ms []Match) {
	slices.SortStableFunc(ms, func(a, b Match) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		if a.Chunk.ID < b.Chunk.ID {
			return -1
		}
		if a.Chunk.ID > b.Chunk.ID {
			return 1
		}
		return 0
	})
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
