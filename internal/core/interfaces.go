package core

import "context"

// Embedder turns texts into vectors, one per input and in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([]Vector, error)
}

// VectorStore owns the single collection of chunks and their vectors.
type VectorStore interface {
	// Upsert inserts new chunks or replaces existing ones matched by id.
	Upsert(ctx context.Context, chunks []Chunk, vectors []Vector) error
	// Delete removes chunks by id. Unknown ids are ignored.
	Delete(ctx context.Context, ids []string) error
	// Query returns up to k nearest chunks ordered by descending score.
	Query(ctx context.Context, vector Vector, k int) ([]SearchResult, error)
	// Reset removes every chunk from the collection.
	Reset(ctx context.Context) error
	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)
	// Name is the collection name, for reports and logs.
	Name() string
	Close() error
}

// Answerer produces the reply text for a user question. Implementations
// never return an empty string.
type Answerer interface {
	Answer(ctx context.Context, question string) string
}
