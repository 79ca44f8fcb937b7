// Package knowledge implements the document side of retrieval: chunking,
// embedding and vector similarity search over PostgreSQL + pgvector.
package knowledge

import "time"

// Document is one indexed chunk of source material.
type Document struct {
	ID         string // unique chunk identifier
	Content    string
	Source     string // originating document identifier (file name)
	ChunkIndex int    // position of the chunk within its source
	CreatedAt  time.Time
}

// Fragment is a unit of retrieved evidence with provenance. Created
// transiently per search call and not persisted.
type Fragment struct {
	Content    string
	SourceID   string
	ChunkIndex int
	Score      float32 // cosine similarity, higher is more relevant
}

// SourceInfo summarizes one ingested source document.
type SourceInfo struct {
	Source string
	Chunks int
}
