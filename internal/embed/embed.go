// Package embed turns text into vectors through a hosted or self-hosted
// embedding service.
package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ccp-pamplona/ccpbot/internal/config"
	"github.com/ccp-pamplona/ccpbot/internal/core"
)

// BatchSize is the number of texts sent in one request.
const BatchSize = 32

const requestTimeout = 60 * time.Second

// ErrUnexpectedShape is returned when a provider answers with vectors that do
// not line up with the inputs.
var ErrUnexpectedShape = errors.New("unexpected embedding response shape")

// New builds the embedder selected by cfg.Backend.
func New(cfg config.Embedding) (core.Embedder, error) {
	httpClient := &http.Client{Timeout: requestTimeout}
	switch cfg.Backend {
	case config.EmbedHF, "":
		return NewHFEmbedder(cfg.BaseURL, cfg.Model, cfg.Token, httpClient), nil
	case config.EmbedOpenAI:
		return NewOpenAIEmbedder(cfg.BaseURL, cfg.Model, cfg.Token, httpClient), nil
	case config.EmbedOllama:
		return NewOllamaEmbedder(cfg.BaseURL, cfg.Model, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Backend)
	}
}

// ModelName returns the model cfg resolves to, including backend defaults.
func ModelName(cfg config.Embedding) string {
	if cfg.Model != "" {
		return cfg.Model
	}
	switch cfg.Backend {
	case config.EmbedOpenAI:
		return DefaultOpenAIModel
	case config.EmbedOllama:
		return DefaultOllamaModel
	default:
		return config.DefaultHFModel
	}
}

// EmbedQuery embeds a single text.
func EmbedQuery(ctx context.Context, e core.Embedder, text string) (core.Vector, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for 1 input", ErrUnexpectedShape, len(vecs))
	}
	return vecs[0], nil
}

// batchFunc embeds one request-sized batch.
type batchFunc func(ctx context.Context, texts []string) ([]core.Vector, error)

// inBatches splits texts into BatchSize requests and checks that every
// request returned one vector per input with a consistent dimension.
func inBatches(ctx context.Context, texts []string, fn batchFunc) ([]core.Vector, error) {
	out := make([]core.Vector, 0, len(texts))
	dim := 0
	for start := 0; start < len(texts); start += BatchSize {
		end := start + BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := fn(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrUnexpectedShape, len(vecs), end-start)
		}
		for _, v := range vecs {
			if len(v) == 0 {
				return nil, fmt.Errorf("%w: empty vector", ErrUnexpectedShape)
			}
			if dim == 0 {
				dim = len(v)
			} else if len(v) != dim {
				return nil, fmt.Errorf("%w: dimension %d, expected %d", ErrUnexpectedShape, len(v), dim)
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}
