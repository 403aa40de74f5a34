package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ccp-pamplona/ccpbot/internal/core"
	"github.com/ccp-pamplona/ccpbot/internal/logger"
)

const (
	// chromaBatch is the number of records sent per upsert or delete call.
	chromaBatch = 256
	// chromaPage is the page size used to list ids on reset.
	chromaPage = 1000
)

// ChromaConfig locates one collection on a Chroma server or Chroma Cloud.
type ChromaConfig struct {
	Host       string
	Token      string
	Tenant     string
	Database   string
	Collection string
}

// ChromaStore talks to Chroma over its v2 REST API.
type ChromaStore struct {
	cfg     ChromaConfig
	baseURL string
	http    *http.Client

	mu           sync.Mutex
	collectionID string
}

// NewChromaStore creates a store for cfg. The collection is created on
// first use.
func NewChromaStore(cfg ChromaConfig, httpClient *http.Client) *ChromaStore {
	if cfg.Tenant == "" {
		cfg.Tenant = "default_tenant"
	}
	if cfg.Database == "" {
		cfg.Database = "default_database"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	logger.Info("Chroma vector store host=%s tenant=%s database=%s collection=%s token_set=%t",
		cfg.Host, cfg.Tenant, cfg.Database, cfg.Collection, cfg.Token != "")
	return &ChromaStore{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.Host, "/"),
		http:    httpClient,
	}
}

func (s *ChromaStore) collectionsPath() string {
	return fmt.Sprintf("/api/v2/tenants/%s/databases/%s/collections",
		url.PathEscape(s.cfg.Tenant), url.PathEscape(s.cfg.Database))
}

// collection returns the collection id, creating the collection if needed.
// A failed attempt is retried on the next call.
func (s *ChromaStore) collection(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collectionID != "" {
		return s.collectionID, nil
	}

	req := map[string]any{
		"name":          s.cfg.Collection,
		"metadata":      map[string]any{"hnsw:space": "cosine"},
		"get_or_create": true,
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionsPath(), req, &resp); err != nil {
		return "", fmt.Errorf("get or create collection %s: %w", s.cfg.Collection, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("get or create collection %s: empty id", s.cfg.Collection)
	}
	s.collectionID = resp.ID
	logger.Debug("Chroma collection %s has id %s", s.cfg.Collection, resp.ID)
	return resp.ID, nil
}

func (s *ChromaStore) recordsPath(id, op string) string {
	return s.collectionsPath() + "/" + url.PathEscape(id) + "/" + op
}

// Upsert implements core.VectorStore.
func (s *ChromaStore) Upsert(ctx context.Context, chunks []core.Chunk, vectors []core.Vector) error {
	if err := checkUpsert(chunks, vectors); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	id, err := s.collection(ctx)
	if err != nil {
		return err
	}

	for start := 0; start < len(chunks); start += chromaBatch {
		end := min(start+chromaBatch, len(chunks))
		n := end - start
		req := struct {
			IDs        []string         `json:"ids"`
			Embeddings []core.Vector    `json:"embeddings"`
			Documents  []string         `json:"documents"`
			Metadatas  []map[string]any `json:"metadatas"`
		}{
			IDs:        make([]string, 0, n),
			Embeddings: vectors[start:end],
			Documents:  make([]string, 0, n),
			Metadatas:  make([]map[string]any, 0, n),
		}
		for _, c := range chunks[start:end] {
			req.IDs = append(req.IDs, c.ID)
			req.Documents = append(req.Documents, c.Text)
			req.Metadatas = append(req.Metadatas, c.Metadata.Map())
		}
		if err := s.do(ctx, http.MethodPost, s.recordsPath(id, "upsert"), req, nil); err != nil {
			return fmt.Errorf("upsert records %d-%d: %w", start, end-1, dimensionError(err))
		}
	}
	return nil
}

// Delete implements core.VectorStore.
func (s *ChromaStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	id, err := s.collection(ctx)
	if err != nil {
		return err
	}
	for start := 0; start < len(ids); start += chromaBatch {
		end := min(start+chromaBatch, len(ids))
		req := map[string]any{"ids": ids[start:end]}
		if err := s.do(ctx, http.MethodPost, s.recordsPath(id, "delete"), req, nil); err != nil {
			return fmt.Errorf("delete records: %w", err)
		}
	}
	return nil
}

type chromaQueryResponse struct {
	IDs       [][]string         `json:"ids"`
	Documents [][]*string        `json:"documents"`
	Metadatas [][]map[string]any `json:"metadatas"`
	Distances [][]float32        `json:"distances"`
}

// Query implements core.VectorStore. Chroma returns cosine distances;
// scores are 1 - distance.
func (s *ChromaStore) Query(ctx context.Context, vector core.Vector, k int) ([]core.SearchResult, error) {
	if k <= 0 {
		return []core.SearchResult{}, nil
	}
	id, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}

	req := map[string]any{
		"query_embeddings": []core.Vector{vector},
		"n_results":        k,
		"include":          []string{"documents", "metadatas", "distances"},
	}
	var resp chromaQueryResponse
	if err := s.do(ctx, http.MethodPost, s.recordsPath(id, "query"), req, &resp); err != nil {
		return nil, fmt.Errorf("query: %w", dimensionError(err))
	}
	if len(resp.IDs) == 0 {
		return []core.SearchResult{}, nil
	}

	ids := resp.IDs[0]
	results := make([]core.SearchResult, 0, len(ids))
	for i, chunkID := range ids {
		c := core.Chunk{ID: chunkID}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) && resp.Documents[0][i] != nil {
			c.Text = *resp.Documents[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			c.Metadata = core.MetadataFromMap(resp.Metadatas[0][i])
		}
		var score float32
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			score = 1 - resp.Distances[0][i]
		}
		results = append(results, core.SearchResult{Chunk: c, Score: score})
	}
	sortResults(results)
	return results, nil
}

// Reset implements core.VectorStore by deleting every record page by page.
func (s *ChromaStore) Reset(ctx context.Context) error {
	id, err := s.collection(ctx)
	if err != nil {
		return err
	}
	for {
		req := map[string]any{"include": []string{}, "limit": chromaPage}
		var resp struct {
			IDs []string `json:"ids"`
		}
		if err := s.do(ctx, http.MethodPost, s.recordsPath(id, "get"), req, &resp); err != nil {
			return fmt.Errorf("list records: %w", err)
		}
		if len(resp.IDs) == 0 {
			return nil
		}
		if err := s.Delete(ctx, resp.IDs); err != nil {
			return err
		}
		if len(resp.IDs) < chromaPage {
			return nil
		}
	}
}

// Count implements core.VectorStore.
func (s *ChromaStore) Count(ctx context.Context) (int, error) {
	id, err := s.collection(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.do(ctx, http.MethodGet, s.recordsPath(id, "count"), nil, &n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Name implements core.VectorStore.
func (s *ChromaStore) Name() string { return s.cfg.Collection }

// Close implements core.VectorStore.
func (s *ChromaStore) Close() error {
	s.http.CloseIdleConnections()
	return nil
}

func (s *ChromaStore) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
		req.Header.Set("X-Chroma-Token", s.cfg.Token)
	}
	req.Header.Set("X-Chroma-Tenant", s.cfg.Tenant)
	req.Header.Set("X-Chroma-Database", s.cfg.Database)

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return core.NewHTTPError("chroma", resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// dimensionError tags a remote rejection that mentions the embedding
// dimension so callers can match core.ErrDimensionMismatch.
func dimensionError(err error) error {
	var httpErr *core.HTTPError
	if errors.As(err, &httpErr) && strings.Contains(strings.ToLower(httpErr.Body), "dimension") {
		return fmt.Errorf("%w: %w", core.ErrDimensionMismatch, err)
	}
	return err
}
