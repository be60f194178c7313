// Package pgvector implements vector.Index on PostgreSQL with the pgvector
// extension.
package pgvector

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/plantsage/backend/internal/vector"
	"github.com/plantsage/backend/pkg/logger"
)

type Config struct {
	DSN       string
	Table     string
	Dimension int
}

type Index struct {
	pool  *pgxpool.Pool
	table string
	dim   int
}

func New(ctx context.Context, cfg Config) (*Index, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	table := cfg.Table
	if table == "" {
		table = "evidence_chunks"
	}

	logger.Info("pgvector index initialized", zap.String("table", table), zap.Int("dimension", cfg.Dimension))

	return &Index{pool: pool, table: pgx.Identifier{table}.Sanitize(), dim: cfg.Dimension}, nil
}

func (p *Index) Close() error {
	p.pool.Close()
	return nil
}

func (p *Index) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			text TEXT NOT NULL,
			source_label TEXT NOT NULL DEFAULT '',
			content_type TEXT NOT NULL,
			industry TEXT NOT NULL DEFAULT '',
			plant_name TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			tag_label TEXT NOT NULL DEFAULT '',
			document_type TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, p.table, p.dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (content_type, status)`,
			pgx.Identifier{strings.Trim(p.table, `"`) + "_type_status_idx"}.Sanitize(), p.table),
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize pgvector schema: %w", err)
		}
	}
	return nil
}

func (p *Index) Upsert(ctx context.Context, chunks ...vector.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, text, source_label, content_type,
			industry, plant_name, user_id, tag_label, document_type, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (id) DO UPDATE SET
			embedding = excluded.embedding,
			text = excluded.text,
			source_label = excluded.source_label,
			content_type = excluded.content_type,
			industry = excluded.industry,
			plant_name = excluded.plant_name,
			user_id = excluded.user_id,
			tag_label = excluded.tag_label,
			document_type = excluded.document_type,
			status = excluded.status,
			updated_at = excluded.updated_at`, p.table)

	batch := &pgx.Batch{}
	for _, c := range chunks {
		c, err := vector.Normalize(c, p.dim)
		if err != nil {
			return err
		}
		batch.Queue(query,
			c.ID, pgv.NewVector(c.Vector), c.Text, c.SourceLabel, string(c.ContentType),
			c.ScopeTags[vector.TagIndustry], c.ScopeTags[vector.TagPlant], c.ScopeTags[vector.TagUser],
			c.ScopeTags[vector.TagLabel], c.ScopeTags[vector.TagDocumentType], string(c.Status),
		)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}
	return nil
}

func (p *Index) Query(ctx context.Context, vec []float32, topK int, filter vector.Filter) ([]vector.Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	if len(vec) != p.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", vector.ErrDimensionMismatch, len(vec), p.dim)
	}

	query, args := buildQuery(p.table, filter, topK)
	rows, err := p.pool.Query(ctx, query, append([]any{pgv.NewVector(vec)}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer rows.Close()

	var matches []vector.Match
	for rows.Next() {
		var (
			c     vector.Chunk
			ctype string
			state string
			tags  [5]string
			score float64
		)
		if err := rows.Scan(&c.ID, &c.Text, &c.SourceLabel, &ctype, &state,
			&tags[0], &tags[1], &tags[2], &tags[3], &tags[4], &score); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		c.ContentType = vector.ContentType(ctype)
		c.Status = vector.Status(state)
		for i, key := range vector.ScopeTagKeys {
			if tags[i] != "" {
				if c.ScopeTags == nil {
					c.ScopeTags = make(map[string]string)
				}
				c.ScopeTags[key] = tags[i]
			}
		}
		matches = append(matches, vector.Match{Chunk: c, Score: float32(score)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read matches: %w", err)
	}
	return matches, nil
}

func (p *Index) UpdateMetadata(ctx context.Context, id string, patch vector.Patch) error {
	if patch.Status == nil {
		return nil
	}
	tag, err := p.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = $2, updated_at = now() WHERE id = $1`, p.table),
		id, string(*patch.Status))
	if err != nil {
		return fmt.Errorf("failed to update chunk %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", vector.ErrNotFound, id)
	}
	return nil
}

// buildQuery returns the similarity query for filter. $1 is reserved for the
// query vector; args hold the remaining placeholders in order.
func buildQuery(table string, f vector.Filter, topK int) (string, []any) {
	var (
		where []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args)+1)
	}

	if f.ExcludeBad {
		where = append(where, "status <> "+next(string(vector.StatusBad)))
	}
	if len(f.ContentTypes) > 0 {
		types := make([]string, len(f.ContentTypes))
		for i, t := range f.ContentTypes {
			types[i] = string(t)
		}
		where = append(where, "content_type = ANY("+next(types)+")")
	}
	for _, key := range vector.ScopeTagKeys {
		if v, ok := f.Tags[key]; ok {
			where = append(where, key+" = "+next(v))
		}
	}
	if f.UserID != "" {
		where = append(where, "(user_id = "+next(f.UserID)+" OR user_id = '')")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT id, text, source_label, content_type, status, %s, 1 - (embedding <=> $1) AS score FROM %s",
		strings.Join(vector.ScopeTagKeys, ", "), table)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY embedding <=> $1, id LIMIT %s", next(topK))
	return b.String(), args
}
