package store

import "time"

// Chunk is a stored code chunk. ID is the deterministic chunk id assigned
// by the chunking engine; upserts with the same namespace and id overwrite.
type Chunk struct {
	ID        string
	Path      string
	Language  string
	Name      string
	Kind      string
	StartLine int
	EndLine   int
	Content   string
}

// SearchResult is a chunk with its similarity score (1.0 = identical
// direction, cosine).
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// RepoRecord summarizes one ingested repository.
type RepoRecord struct {
	ID         string
	ChunkCount int
	IndexedAt  time.Time
}
