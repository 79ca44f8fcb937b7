package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// chunkWriter is the subset of Store the indexer needs.
type chunkWriter interface {
	Add(ctx context.Context, doc Document) error
	DeleteSource(ctx context.Context, source string) (int64, error)
}

// Indexer ingests text files into the vector store.
type Indexer struct {
	store   chunkWriter
	chunker *Chunker
	logger  *slog.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(store chunkWriter, chunker *Chunker, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{store: store, chunker: chunker, logger: logger}
}

// indexableExtensions lists the plain-text formats the indexer accepts.
var indexableExtensions = map[string]bool{
	".txt": true,
	".md":  true,
}

// IndexFile ingests one file, replacing any previously indexed chunks of
// the same source. The source identifier is the file's base name. Returns
// the number of chunks written.
func (ix *Indexer) IndexFile(ctx context.Context, path string) (int, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !indexableExtensions[ext] {
		return 0, fmt.Errorf("unsupported file type %q", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}

	source := filepath.Base(path)
	chunks := ix.chunker.Split(string(data))
	if len(chunks) == 0 {
		ix.logger.Warn("file has no indexable content", "path", path)
		return 0, nil
	}

	// Reindexing replaces the old chunks wholesale so stale ones never
	// linger when the file shrinks.
	if _, err := ix.store.DeleteSource(ctx, source); err != nil {
		return 0, err
	}

	docID := uuid.NewString()
	now := time.Now()
	for i, chunk := range chunks {
		doc := Document{
			ID:         fmt.Sprintf("%s:%d", docID, i),
			Content:    chunk,
			Source:     source,
			ChunkIndex: i,
			CreatedAt:  now,
		}
		if err := ix.store.Add(ctx, doc); err != nil {
			return i, fmt.Errorf("indexing %s chunk %d: %w", source, i, err)
		}
	}

	ix.logger.Info("indexed file", "source", source, "chunks", len(chunks))
	return len(chunks), nil
}

// IndexDir ingests every supported file under root, recursively. Returns
// the total number of chunks written.
func (ix *Indexer) IndexDir(ctx context.Context, root string) (int, error) {
	total := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !indexableExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		n, err := ix.IndexFile(ctx, path)
		if err != nil {
			return err
		}
		total += n
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("walking %s: %w", root, err)
	}
	return total, nil
}
