package vector

import "context"

// Chunk is a unit ready for indexing: text plus its embedding and the
// metadata the retrieval layer needs to build citations.
type Chunk struct {
	ID          string
	DocumentID  string
	SectionType string
	Ordinal     int
	PageStart   int
	PageEnd     int
	Text        string
	ContentHash string
	Embedding   []float32
}

// Hit is one search result. Score is similarity, higher is better.
type Hit struct {
	ChunkID     string
	DocumentID  string
	SectionType string
	PageStart   int
	PageEnd     int
	Text        string
	ContentHash string
	Version     int64
	Score       float64
}

// UpsertStats reports what an upsert actually did. Re-ingesting an
// unchanged document yields all-Unchanged.
type UpsertStats struct {
	Inserted  int
	Unchanged int
	Replaced  int
}

// Index is the vector store. Upsert is idempotent: a chunk whose id and
// content hash both match the stored entry is left untouched, a matching
// id with a different hash replaces the entry and bumps its version.
type Index interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, chunks []Chunk) (UpsertStats, error)
	Search(ctx context.Context, embedding []float32, topK int) ([]Hit, error)
	DeleteChunks(ctx context.Context, chunkIDs []string) error
	DeleteByDocument(ctx context.Context, documentID string) error
	Close() error
}
