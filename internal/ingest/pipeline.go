package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ccp-pamplona/ccpbot/internal/core"
	"github.com/ccp-pamplona/ccpbot/internal/embed"
	"github.com/ccp-pamplona/ccpbot/internal/logger"
)

const (
	// DefaultConcurrency bounds the embedding requests in flight.
	DefaultConcurrency = 4
	// fallbackBatch is the sub-batch size used when a whole upsert fails.
	fallbackBatch = 512
)

// Options control one ingestion run.
type Options struct {
	Dir          string
	ChunkSize    int
	ChunkOverlap int
	Reset        bool
	// Backend and Model only label the report.
	Backend string
	Model   string
}

// Report summarises a completed run.
type Report struct {
	Collection    string   `json:"collection"`
	Chunks        int      `json:"chunks"`
	UniqueSources []string `json:"unique_sources"`
	Backend       string   `json:"backend"`
	Model         string   `json:"model"`
	Dir           string   `json:"dir"`
}

// Pipeline loads, chunks, embeds and stores the knowledge base.
type Pipeline struct {
	loader      *Loader
	embedder    core.Embedder
	store       core.VectorStore
	concurrency int
}

// NewPipeline creates a new Pipeline instance.
func NewPipeline(loader *Loader, embedder core.Embedder, store core.VectorStore) *Pipeline {
	if loader == nil {
		loader = NewLoader()
	}
	return &Pipeline{
		loader:      loader,
		embedder:    embedder,
		store:       store,
		concurrency: DefaultConcurrency,
	}
}

// SetConcurrency overrides the number of concurrent embedding requests.
func (p *Pipeline) SetConcurrency(n int) {
	if n > 0 {
		p.concurrency = n
	}
}

// Run executes one ingestion. An empty knowledge base is not an error; the
// report then has zero chunks and nothing is written.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Report, error) {
	if err := validateWindow(opts.ChunkSize, opts.ChunkOverlap); err != nil {
		return nil, err
	}

	dir := opts.Dir
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	report := &Report{
		Collection:    p.store.Name(),
		UniqueSources: []string{},
		Backend:       opts.Backend,
		Model:         opts.Model,
		Dir:           dir,
	}

	docs, err := p.loader.Load(ctx, opts.Dir)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		logger.Info("No documents found in %s", dir)
		return report, nil
	}

	chunks, err := BuildChunks(docs, opts.ChunkSize, opts.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		logger.Info("No chunks produced")
		return report, nil
	}

	logger.Info("Embedding %d chunks with backend=%s model=%s", len(chunks), opts.Backend, opts.Model)
	vectors, err := p.embedAll(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}

	if opts.Reset {
		if err := p.store.Reset(ctx); err != nil {
			logger.Warn("Could not reset collection %s: %v", p.store.Name(), err)
		} else {
			logger.Warn("Collection %s reset", p.store.Name())
		}
	}

	if err := p.upsert(ctx, chunks, vectors); err != nil {
		return nil, fmt.Errorf("store chunks: %w", err)
	}

	report.Chunks = len(chunks)
	report.UniqueSources = uniqueSources(chunks)
	logger.Info("Ingestion complete: %d chunks into collection %s", len(chunks), p.store.Name())
	return report, nil
}

// embedAll embeds chunk texts in request-sized batches, several at a time.
func (p *Pipeline) embedAll(ctx context.Context, chunks []core.Chunk) ([]core.Vector, error) {
	vectors := make([]core.Vector, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for start := 0; start < len(chunks); start += embed.BatchSize {
		end := start + embed.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.Text)
			}
			vecs, err := p.embedder.Embed(gctx, texts)
			if err != nil {
				return err
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("%w: got %d vectors for %d texts", embed.ErrUnexpectedShape, len(vecs), len(texts))
			}
			copy(vectors[start:end], vecs)
			logger.Debug("Embedded chunks %d-%d", start, end-1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// upsert writes everything in one call and, if that fails, retries in
// sub-batches that first delete the ids they are about to write.
func (p *Pipeline) upsert(ctx context.Context, chunks []core.Chunk, vectors []core.Vector) error {
	err := p.store.Upsert(ctx, chunks, vectors)
	if err == nil {
		return nil
	}
	logger.Warn("Upsert failed: %v. Retrying with delete+upsert in batches of %d", err, fallbackBatch)

	for start := 0; start < len(chunks); start += fallbackBatch {
		end := start + fallbackBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		ids := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			ids = append(ids, c.ID)
		}
		if err := p.store.Delete(ctx, ids); err != nil {
			logger.Debug("Delete before retry failed: %v", err)
		}
		if err := p.store.Upsert(ctx, chunks[start:end], vectors[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func uniqueSources(chunks []core.Chunk) []string {
	seen := make(map[string]struct{})
	for _, c := range chunks {
		if c.Metadata.Source != "" {
			seen[c.Metadata.Source] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
