package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// searchTimeout bounds a single vector search, embedding included.
const searchTimeout = 10 * time.Second

// ErrEmptyEmbedding indicates the embedder returned no vector.
var ErrEmptyEmbedding = errors.New("embedder returned empty embedding")

// Store manages indexed document chunks with vector search.
//
// Store is safe for concurrent use by multiple goroutines. Search is
// read-only; writes happen only through Add and DeleteSource, which the
// ingestion path owns.
type Store struct {
	pool     *pgxpool.Pool
	embedder ai.Embedder
	minScore float32
	logger   *slog.Logger
}

// NewStore creates a Store. minScore filters search results below the given
// cosine similarity; zero disables the floor.
func NewStore(pool *pgxpool.Pool, embedder ai.Embedder, minScore float32, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pool:     pool,
		embedder: embedder,
		minScore: minScore,
		logger:   logger,
	}
}

// embed converts text to a query/document vector.
func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("generating embedding: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, ErrEmptyEmbedding
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}

// Search returns the k most similar chunks to query, ordered by descending
// similarity. The result may be shorter than k (or empty) when the index
// holds less matching content.
func (s *Store) Search(ctx context.Context, query string, k int) ([]Fragment, error) {
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT content, source, chunk_index, 1 - (embedding <=> $1) AS score
		FROM documents
		ORDER BY embedding <=> $1
		LIMIT $2`,
		vec, k,
	)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var fragments []Fragment
	for rows.Next() {
		var f Fragment
		var score float64
		if err := rows.Scan(&f.Content, &f.SourceID, &f.ChunkIndex, &score); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		f.Score = float32(score)
		if f.Score < s.minScore {
			// Rows are ordered by similarity; everything after is below
			// the floor too.
			break
		}
		fragments = append(fragments, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}

	s.logger.Debug("vector search",
		"query_len", len(query),
		"k", k,
		"results", len(fragments),
	)
	return fragments, nil
}

// Add upserts one chunk, embedding its content.
func (s *Store) Add(ctx context.Context, doc Document) error {
	vec, err := s.embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embedding chunk %q: %w", doc.ID, err)
	}

	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (id, content, embedding, source, chunk_index, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			source = EXCLUDED.source,
			chunk_index = EXCLUDED.chunk_index`,
		doc.ID, doc.Content, vec, doc.Source, doc.ChunkIndex, createdAt,
	)
	if err != nil {
		return fmt.Errorf("upserting chunk %q: %w", doc.ID, err)
	}
	return nil
}

// DeleteSource removes every chunk of one source document.
func (s *Store) DeleteSource(ctx context.Context, source string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE source = $1`, source)
	if err != nil {
		return 0, fmt.Errorf("deleting source %q: %w", source, err)
	}
	s.logger.Info("deleted source", "source", source, "chunks", tag.RowsAffected())
	return tag.RowsAffected(), nil
}

// ListSources returns the ingested sources and their chunk counts.
func (s *Store) ListSources(ctx context.Context) ([]SourceInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT source, COUNT(*) FROM documents GROUP BY source ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	defer rows.Close()

	var sources []SourceInfo
	for rows.Next() {
		var si SourceInfo
		if err := rows.Scan(&si.Source, &si.Chunks); err != nil {
			return nil, fmt.Errorf("scanning source row: %w", err)
		}
		sources = append(sources, si)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading source rows: %w", err)
	}
	return sources, nil
}
