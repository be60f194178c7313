package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantsage/backend/internal/storage/models"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "plantsage.db"))
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDocumentReingestReplacesChunks(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()
	created := time.Unix(1700000000, 0)

	doc := &models.Document{ID: "pellet-sop", Name: "Pellet SOP", DocType: "sop", Industry: "Feed Milling", ChunkCount: 2, CreatedAt: created, UpdatedAt: created}
	require.NoError(t, c.InsertDocument(ctx, doc, []models.DocumentChunk{
		{ID: "pellet-sop-1", ChunkIndex: 0, Text: "a", CreatedAt: created},
		{ID: "pellet-sop-2", ChunkIndex: 1, Text: "b", CreatedAt: created},
	}))

	later := created.Add(time.Hour)
	doc2 := *doc
	doc2.ChunkCount = 1
	doc2.CreatedAt, doc2.UpdatedAt = later, later
	require.NoError(t, c.InsertDocument(ctx, &doc2, []models.DocumentChunk{
		{ID: "pellet-sop-1", ChunkIndex: 0, Text: "a2", CreatedAt: later},
	}))

	got, err := c.GetDocument(ctx, "pellet-sop")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ChunkCount)
	assert.Equal(t, created.Unix(), got.CreatedAt.Unix())
	assert.Equal(t, later.Unix(), got.UpdatedAt.Unix())

	var n int
	require.NoError(t, c.db.QueryRow(`SELECT COUNT(*) FROM document_chunks WHERE doc_id = ?`, "pellet-sop").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestQueryHistoryRoundTrip(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	for i, q := range []string{"first", "second", "third"} {
		require.NoError(t, c.InsertQueryRecord(ctx, &models.QueryRecord{
			ID:            q,
			UserID:        "u1",
			QueryText:     q,
			GroundingMode: "strict",
			Answer:        "answer " + q,
			UsedExternal:  i == 1,
			CitedChunkIDs: []string{"doc-1-" + q},
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, c.InsertQueryRecord(ctx, &models.QueryRecord{ID: "other", UserID: "u2", QueryText: "x", GroundingMode: "hybrid", CreatedAt: base}))

	got, err := c.GetQueryHistory(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "third", got[0].ID)
	assert.Equal(t, "second", got[1].ID)
	assert.True(t, got[1].UsedExternal)
	assert.Equal(t, []string{"doc-1-third"}, got[0].CitedChunkIDs)
}

func TestGetDocumentMissing(t *testing.T) {
	_, err := newClient(t).GetDocument(context.Background(), "nope")
	assert.Error(t, err)
}
