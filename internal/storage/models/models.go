package models

import "time"

// Document is the registry row for an ingested document. Its chunks live in
// the vector index; document_chunks keeps the text for audit.
type Document struct {
	ID         string
	Name       string
	DocType    string
	UserID     string
	Industry   string
	PlantName  string
	ChunkCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type DocumentChunk struct {
	ID         string
	DocID      string
	ChunkIndex int
	Text       string
	CreatedAt  time.Time
}

type QueryRecord struct {
	ID               string
	UserID           string
	QueryText        string
	GroundingMode    string
	Answer           string
	GroundingPercent string
	UsedExternal     bool
	Fallback         bool
	CitedChunkIDs    []string
	EvidenceCount    int
	LatencyMS        int
	CreatedAt        time.Time
}
