package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/plantsage/backend/internal/storage/models"
	"github.com/plantsage/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		doc_type TEXT,
		user_id TEXT,
		industry TEXT,
		plant_name TEXT,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_user ON documents(user_id);
	CREATE INDEX IF NOT EXISTS idx_documents_industry ON documents(industry);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (doc_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON document_chunks(doc_id);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		query_text TEXT NOT NULL,
		grounding_mode TEXT NOT NULL,
		answer TEXT,
		grounding_percent TEXT,
		used_external INTEGER DEFAULT 0,
		fallback INTEGER DEFAULT 0,
		cited_chunk_ids TEXT,
		evidence_count INTEGER,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_user ON query_history(user_id);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// InsertDocument registers doc and replaces its chunk rows in one
// transaction. Re-ingesting a document keeps its original created_at.
func (c *Client) InsertDocument(ctx context.Context, doc *models.Document, chunks []models.DocumentChunk) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, name, doc_type, user_id, industry, plant_name, chunk_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			doc_type = excluded.doc_type,
			industry = excluded.industry,
			plant_name = excluded.plant_name,
			chunk_count = excluded.chunk_count,
			updated_at = excluded.updated_at
	`,
		doc.ID,
		doc.Name,
		doc.DocType,
		doc.UserID,
		doc.Industry,
		doc.PlantName,
		doc.ChunkCount,
		doc.CreatedAt.Unix(),
		doc.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE doc_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO document_chunks (id, doc_id, chunk_index, text, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, ch := range chunks {
		if _, err := stmt.ExecContext(ctx, ch.ID, doc.ID, ch.ChunkIndex, ch.Text, ch.CreatedAt.Unix()); err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document: %w", err)
	}

	logger.Debug("Document inserted", zap.String("doc_id", doc.ID), zap.Int("chunks", len(chunks)))
	return nil
}

func (c *Client) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	query := `SELECT id, name, doc_type, user_id, industry, plant_name, chunk_count, created_at, updated_at FROM documents WHERE id = ?`

	var doc models.Document
	var createdAt, updatedAt int64

	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID,
		&doc.Name,
		&doc.DocType,
		&doc.UserID,
		&doc.Industry,
		&doc.PlantName,
		&doc.ChunkCount,
		&createdAt,
		&updatedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.CreatedAt = time.Unix(createdAt, 0)
	doc.UpdatedAt = time.Unix(updatedAt, 0)

	return &doc, nil
}

func (c *Client) InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error {
	query := `
		INSERT INTO query_history (id, user_id, query_text, grounding_mode, answer, grounding_percent,
			used_external, fallback, cited_chunk_ids, evidence_count, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	cited, err := json.Marshal(record.CitedChunkIDs)
	if err != nil {
		return fmt.Errorf("failed to encode cited chunk ids: %w", err)
	}

	_, err = c.db.ExecContext(ctx,
		query,
		record.ID,
		record.UserID,
		record.QueryText,
		record.GroundingMode,
		record.Answer,
		record.GroundingPercent,
		boolInt(record.UsedExternal),
		boolInt(record.Fallback),
		string(cited),
		record.EvidenceCount,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	logger.Info("Query recorded",
		zap.String("query_id", record.ID),
		zap.String("grounding_mode", record.GroundingMode),
		zap.Int("evidence", record.EvidenceCount),
	)

	return nil
}

func (c *Client) GetQueryHistory(ctx context.Context, userID string, limit int) ([]models.QueryRecord, error) {
	query := `
		SELECT id, user_id, query_text, grounding_mode, answer, grounding_percent, used_external,
			fallback, cited_chunk_ids, evidence_count, latency_ms, created_at
		FROM query_history
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var (
			r                      models.QueryRecord
			usedExternal, fallback int
			cited                  sql.NullString
			createdAt              int64
		)

		err := rows.Scan(&r.ID, &r.UserID, &r.QueryText, &r.GroundingMode, &r.Answer, &r.GroundingPercent,
			&usedExternal, &fallback, &cited, &r.EvidenceCount, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.UsedExternal = usedExternal == 1
		r.Fallback = fallback == 1
		if cited.Valid && cited.String != "" {
			if err := json.Unmarshal([]byte(cited.String), &r.CitedChunkIDs); err != nil {
				logger.Warn("Corrupt cited chunk ids", zap.String("query_id", r.ID), zap.Error(err))
			}
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}

	return records, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
