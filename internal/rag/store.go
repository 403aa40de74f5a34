// Package rag holds the vector store gateways. Every store mode keeps a single
// collection of chunks and answers nearest-neighbour queries over it.
package rag

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/ccp-pamplona/ccpbot/internal/config"
	"github.com/ccp-pamplona/ccpbot/internal/core"
	"github.com/ccp-pamplona/ccpbot/internal/logger"
)

const requestTimeout = 30 * time.Second

// New opens the store selected by cfg.Mode. dim is the embedding dimension
// the collection is created with where the backend needs it up front.
func New(ctx context.Context, cfg config.VectorStore, dim int) (core.VectorStore, error) {
	logger.Info("Opening vector store mode=%s collection=%s", cfg.Mode, cfg.Collection)
	switch cfg.Mode {
	case config.StoreCloud, config.StoreHTTP:
		return NewChromaStore(ChromaConfig{
			Host:       cfg.ChromaHost,
			Token:      cfg.ChromaToken,
			Tenant:     cfg.Tenant,
			Database:   cfg.Database,
			Collection: cfg.Collection,
		}, &http.Client{Timeout: requestTimeout}), nil
	case config.StoreMilvus:
		return NewMilvusStore(ctx, cfg.MilvusAddress, cfg.MilvusToken, cfg.Collection, dim)
	case config.StoreLocal:
		return NewSQLiteStore(cfg.LocalPath, cfg.Collection)
	case config.StoreMemory:
		return NewMemoryStore(cfg.Collection), nil
	default:
		return nil, fmt.Errorf("unknown vector store mode %q", cfg.Mode)
	}
}

func checkUpsert(chunks []core.Chunk, vectors []core.Vector) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("upsert: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	dim := 0
	for i, v := range vectors {
		if chunks[i].ID == "" {
			return fmt.Errorf("upsert: chunk %d has no id", i)
		}
		if len(v) == 0 {
			return fmt.Errorf("upsert: chunk %s has an empty vector", chunks[i].ID)
		}
		if dim == 0 {
			dim = len(v)
		} else if len(v) != dim {
			return fmt.Errorf("%w: chunk %s has %d, batch has %d", core.ErrDimensionMismatch, chunks[i].ID, len(v), dim)
		}
	}
	return nil
}

// cosine returns the cosine similarity of a and b, or 0 when either is the
// zero vector. Callers check that the lengths match.
func cosine(a, b core.Vector) float32 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
