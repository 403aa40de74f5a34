package core

import (
	"errors"
	"fmt"
)

// Vector is a dense embedding. Its length is fixed by the embedding model.
type Vector []float32

// ChunkMetadata is the provenance attached to every chunk.
type ChunkMetadata struct {
	Source     string `json:"source"`
	SourcePath string `json:"source_path"`
	Title      string `json:"title"`
	Page       int    `json:"page,omitempty"` // 1-based, 0 when the source has no pages
	ChunkSize  int    `json:"chunk_size"`     // word count of the chunk
}

// Map flattens the metadata for stores that keep free-form key/value payloads.
func (m ChunkMetadata) Map() map[string]interface{} {
	out := map[string]interface{}{
		"source":      m.Source,
		"source_path": m.SourcePath,
		"title":       m.Title,
		"chunk_size":  m.ChunkSize,
	}
	if m.Page > 0 {
		out["page"] = m.Page
	}
	return out
}

// MetadataFromMap is the inverse of ChunkMetadata.Map. Numbers may arrive as
// float64 (JSON) or int64 (drivers); both are accepted.
func MetadataFromMap(in map[string]interface{}) ChunkMetadata {
	var m ChunkMetadata
	if in == nil {
		return m
	}
	m.Source, _ = in["source"].(string)
	m.SourcePath, _ = in["source_path"].(string)
	m.Title, _ = in["title"].(string)
	m.Page = toInt(in["page"])
	m.ChunkSize = toInt(in["chunk_size"])
	return m
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// Chunk is a bounded word-count slice of a source document, the unit of retrieval.
type Chunk struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// SearchResult represents a search result with a chunk and a score
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// Turn is one inbound question and its reply. It only lives for the
// duration of a request and is never stored.
type Turn struct {
	SenderID     string
	InboundText  string
	OutboundText string
}

// ErrDimensionMismatch is returned when a query vector does not live in the
// same embedding space as the stored vectors.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// HTTPError is a non-2xx answer from one of the hosted services.
type HTTPError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Service, e.StatusCode, e.Body)
}

// NewHTTPError builds an HTTPError, clipping the body so log lines stay short.
func NewHTTPError(service string, status int, body []byte) *HTTPError {
	const maxBody = 300
	b := string(body)
	if clipped := TruncateRunes(b, maxBody); clipped != b {
		b = clipped + "..."
	}
	return &HTTPError{Service: service, StatusCode: status, Body: b}
}
