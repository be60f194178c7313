// Package milvus implements vector.Index on a Milvus or Zilliz Cloud
// collection.
package milvus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/plantsage/backend/internal/vector"
	"github.com/plantsage/backend/pkg/logger"
)

const (
	fieldID          = "chunk_id"
	fieldEmbedding   = "embedding"
	fieldText        = "text"
	fieldSource      = "source_label"
	fieldContentType = "content_type"
	fieldStatus      = "status"
	fieldUpdatedAt   = "updated_at"
)

var outputFields = append([]string{fieldID, fieldText, fieldSource, fieldContentType, fieldStatus}, vector.ScopeTagKeys...)

type Config struct {
	Address    string
	APIKey     string
	Collection string
	Dimension  int
	NProbe     int
}

type Index struct {
	client     client.Client
	collection string
	dim        int
	nprobe     int
}

func New(ctx context.Context, cfg Config) (*Index, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: cfg.Address,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	if cfg.NProbe <= 0 {
		cfg.NProbe = 16
	}

	logger.Info("Milvus client initialized",
		zap.String("address", cfg.Address),
		zap.String("collection", cfg.Collection),
	)

	return &Index{
		client:     c,
		collection: cfg.Collection,
		dim:        cfg.Dimension,
		nprobe:     cfg.NProbe,
	}, nil
}

func (m *Index) Close() error {
	return m.client.Close()
}

func varchar(name string, maxLen int) *entity.Field {
	return &entity.Field{
		Name:       name,
		DataType:   entity.FieldTypeVarChar,
		TypeParams: map[string]string{"max_length": fmt.Sprintf("%d", maxLen)},
	}
}

// EnsureCollection creates, indexes and loads the collection when missing.
func (m *Index) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !has {
		pk := varchar(fieldID, 256)
		pk.PrimaryKey = true

		fields := []*entity.Field{
			pk,
			{
				Name:       fieldEmbedding,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", m.dim)},
			},
			varchar(fieldText, 65535),
			varchar(fieldSource, 512),
			varchar(fieldContentType, 32),
			varchar(fieldStatus, 16),
			{Name: fieldUpdatedAt, DataType: entity.FieldTypeInt64},
		}
		for _, key := range vector.ScopeTagKeys {
			fields = append(fields, varchar(key, 256))
		}

		schema := &entity.Schema{
			CollectionName: m.collection,
			Description:    "Process engineering evidence chunks",
			Fields:         fields,
		}

		if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx, err := entity.NewIndexIvfFlat(entity.COSINE, 1024)
		if err != nil {
			return fmt.Errorf("failed to build index params: %w", err)
		}
		if err := m.client.CreateIndex(ctx, m.collection, fieldEmbedding, idx, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}

		logger.Info("Collection created", zap.String("collection", m.collection))
	}

	if err := m.client.LoadCollection(ctx, m.collection, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

func (m *Index) Upsert(ctx context.Context, chunks ...vector.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	n := len(chunks)
	ids := make([]string, n)
	embeddings := make([][]float32, n)
	texts := make([]string, n)
	sources := make([]string, n)
	types := make([]string, n)
	statuses := make([]string, n)
	updated := make([]int64, n)
	tags := make(map[string][]string, len(vector.ScopeTagKeys))
	for _, key := range vector.ScopeTagKeys {
		tags[key] = make([]string, n)
	}

	now := time.Now().Unix()
	for i, c := range chunks {
		c, err := vector.Normalize(c, m.dim)
		if err != nil {
			return err
		}
		ids[i] = c.ID
		embeddings[i] = c.Vector
		texts[i] = c.Text
		sources[i] = c.SourceLabel
		types[i] = string(c.ContentType)
		statuses[i] = string(c.Status)
		updated[i] = now
		for _, key := range vector.ScopeTagKeys {
			tags[key][i] = c.ScopeTags[key]
		}
	}

	columns := []entity.Column{
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnFloatVector(fieldEmbedding, m.dim, embeddings),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnVarChar(fieldSource, sources),
		entity.NewColumnVarChar(fieldContentType, types),
		entity.NewColumnVarChar(fieldStatus, statuses),
		entity.NewColumnInt64(fieldUpdatedAt, updated),
	}
	for _, key := range vector.ScopeTagKeys {
		columns = append(columns, entity.NewColumnVarChar(key, tags[key]))
	}

	if _, err := m.client.Upsert(ctx, m.collection, "", columns...); err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}

	if err := m.client.Flush(ctx, m.collection, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Debug("Chunks upserted into vector DB", zap.Int("count", n))
	return nil
}

func (m *Index) Query(ctx context.Context, vec []float32, topK int, filter vector.Filter) ([]vector.Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	if len(vec) != m.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", vector.ErrDimensionMismatch, len(vec), m.dim)
	}

	expr := buildExpr(filter)
	sp, err := entity.NewIndexIvfFlatSearchParam(m.nprobe)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	results, err := m.client.Search(
		ctx,
		m.collection,
		[]string{},
		expr,
		outputFields,
		[]entity.Vector{entity.FloatVector(vec)},
		fieldEmbedding,
		entity.COSINE,
		topK,
		sp,
		client.WithSearchQueryConsistencyLevel(entity.ClStrong),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	matches := make([]vector.Match, 0, topK)
	for _, sr := range results {
		for i := 0; i < sr.ResultCount; i++ {
			c, err := rowToChunk(sr.Fields, i)
			if err != nil {
				return nil, err
			}
			matches = append(matches, vector.Match{Chunk: c, Score: sr.Scores[i]})
		}
	}
	vector.SortMatches(matches)

	logger.Debug("Vector search completed",
		zap.Int("top_k", topK),
		zap.Int("results", len(matches)),
		zap.String("expr", expr),
	)
	return matches, nil
}

// UpdateMetadata reads the row by primary key and writes it back patched.
// Milvus upserts are atomic per primary key.
func (m *Index) UpdateMetadata(ctx context.Context, id string, patch vector.Patch) error {
	rows, err := m.client.QueryByPks(
		ctx,
		m.collection,
		nil,
		entity.NewColumnVarChar(fieldID, []string{id}),
		append([]string{fieldEmbedding}, outputFields...),
		client.WithSearchQueryConsistencyLevel(entity.ClStrong),
	)
	if err != nil {
		return fmt.Errorf("failed to fetch chunk %s: %w", id, err)
	}

	idCol := column(rows, fieldID)
	if idCol == nil || idCol.Len() == 0 {
		return fmt.Errorf("%w: %s", vector.ErrNotFound, id)
	}

	c, err := rowToChunk(rows, 0)
	if err != nil {
		return err
	}
	vecCol, ok := column(rows, fieldEmbedding).(*entity.ColumnFloatVector)
	if !ok || len(vecCol.Data()) == 0 {
		return fmt.Errorf("chunk %s: embedding not returned", id)
	}
	c.Vector = vecCol.Data()[0]

	if patch.Status != nil {
		c.Status = *patch.Status
	}
	return m.Upsert(ctx, c)
}

func column(cols []entity.Column, name string) entity.Column {
	for _, col := range cols {
		if col != nil && col.Name() == name {
			return col
		}
	}
	return nil
}

func stringAt(cols []entity.Column, name string, i int) string {
	col := column(cols, name)
	if col == nil {
		return ""
	}
	v, err := col.Get(i)
	if err != nil {
		return ""
	}
	str, _ := v.(string)
	return str
}

func rowToChunk(cols []entity.Column, i int) (vector.Chunk, error) {
	id := stringAt(cols, fieldID, i)
	if id == "" {
		return vector.Chunk{}, fmt.Errorf("search result %d has no %s", i, fieldID)
	}
	c := vector.Chunk{
		ID:          id,
		Text:        stringAt(cols, fieldText, i),
		SourceLabel: stringAt(cols, fieldSource, i),
		ContentType: vector.ContentType(stringAt(cols, fieldContentType, i)),
		Status:      vector.Status(stringAt(cols, fieldStatus, i)),
	}
	for _, key := range vector.ScopeTagKeys {
		if v := stringAt(cols, key, i); v != "" {
			if c.ScopeTags == nil {
				c.ScopeTags = make(map[string]string)
			}
			c.ScopeTags[key] = v
		}
	}
	return c, nil
}

// buildExpr compiles a filter to a Milvus boolean expression.
func buildExpr(f vector.Filter) string {
	var parts []string
	if f.ExcludeBad {
		parts = append(parts, fmt.Sprintf(`%s != %s`, fieldStatus, quote(string(vector.StatusBad))))
	}
	if len(f.ContentTypes) > 0 {
		vals := make([]string, len(f.ContentTypes))
		for i, t := range f.ContentTypes {
			vals[i] = quote(string(t))
		}
		parts = append(parts, fmt.Sprintf(`%s in [%s]`, fieldContentType, strings.Join(vals, ", ")))
	}
	for _, key := range vector.ScopeTagKeys {
		if v, ok := f.Tags[key]; ok {
			parts = append(parts, fmt.Sprintf(`%s == %s`, key, quote(v)))
		}
	}
	if f.UserID != "" {
		parts = append(parts, fmt.Sprintf(`(%s == %s || %s == "")`, vector.TagUser, quote(f.UserID), vector.TagUser))
	}
	return strings.Join(parts, " && ")
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
