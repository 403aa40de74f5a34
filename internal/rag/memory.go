package rag

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ccp-pamplona/ccpbot/internal/core"
	"github.com/ccp-pamplona/ccpbot/internal/logger"
)

type memoryRecord struct {
	chunk  core.Chunk
	vector core.Vector
}

// MemoryStore keeps the collection in process memory. Contents are lost on
// exit; it backs local development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	name    string
	dim     int
	records map[string]memoryRecord
}

// NewMemoryStore creates an empty in-memory collection.
func NewMemoryStore(name string) *MemoryStore {
	logger.Debug("Initializing in-memory vector store %s", name)
	return &MemoryStore{name: name, records: make(map[string]memoryRecord)}
}

// Upsert implements core.VectorStore.
func (s *MemoryStore) Upsert(_ context.Context, chunks []core.Chunk, vectors []core.Vector) error {
	if err := checkUpsert(chunks, vectors); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dim != 0 && len(vectors[0]) != s.dim {
		return fmt.Errorf("%w: collection has %d, got %d", core.ErrDimensionMismatch, s.dim, len(vectors[0]))
	}
	s.dim = len(vectors[0])
	for i, c := range chunks {
		v := make(core.Vector, len(vectors[i]))
		copy(v, vectors[i])
		s.records[c.ID] = memoryRecord{chunk: c, vector: v}
	}
	return nil
}

// Delete implements core.VectorStore.
func (s *MemoryStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.records, id)
	}
	return nil
}

// Query implements core.VectorStore.
func (s *MemoryStore) Query(_ context.Context, vector core.Vector, k int) ([]core.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || len(s.records) == 0 {
		return []core.SearchResult{}, nil
	}
	if len(vector) != s.dim {
		return nil, fmt.Errorf("%w: collection has %d, query has %d", core.ErrDimensionMismatch, s.dim, len(vector))
	}

	results := make([]core.SearchResult, 0, len(s.records))
	for _, r := range s.records {
		results = append(results, core.SearchResult{Chunk: r.chunk, Score: cosine(vector, r.vector)})
	}
	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Reset implements core.VectorStore.
func (s *MemoryStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]memoryRecord)
	s.dim = 0
	return nil
}

// Count implements core.VectorStore.
func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Name implements core.VectorStore.
func (s *MemoryStore) Name() string { return s.name }

// Close implements core.VectorStore.
func (s *MemoryStore) Close() error { return nil }

// sortResults orders by descending score, ties broken by id for stable output.
func sortResults(results []core.SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
}
