package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ccp-pamplona/ccpbot/internal/core"
	"github.com/ccp-pamplona/ccpbot/internal/logger"
)

// DefaultHFBaseURL is the Hugging Face feature-extraction pipeline.
const DefaultHFBaseURL = "https://api-inference.huggingface.co/pipeline/feature-extraction"

// HFEmbedder calls the Hugging Face feature-extraction endpoint.
type HFEmbedder struct {
	baseURL    string
	model      string
	token      string
	httpClient *http.Client
}

// NewHFEmbedder creates a new HFEmbedder instance.
func NewHFEmbedder(baseURL, model, token string, httpClient *http.Client) *HFEmbedder {
	if baseURL == "" {
		baseURL = DefaultHFBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &HFEmbedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		token:      token,
		httpClient: httpClient,
	}
}

type hfRequest struct {
	Inputs  []string  `json:"inputs"`
	Options hfOptions `json:"options"`
}

type hfOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

// Embed implements core.Embedder.
func (e *HFEmbedder) Embed(ctx context.Context, texts []string) ([]core.Vector, error) {
	return inBatches(ctx, texts, e.embedBatch)
}

func (e *HFEmbedder) embedBatch(ctx context.Context, texts []string) ([]core.Vector, error) {
	payload, err := json.Marshal(hfRequest{Inputs: texts, Options: hfOptions{WaitForModel: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := e.baseURL + "/" + e.model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	logger.Debug("Embedding %d texts with %s", len(texts), e.model)
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, core.NewHTTPError("huggingface", resp.StatusCode, body)
	}

	sh, err := parseShape(body, len(texts))
	if err != nil {
		return nil, err
	}
	return sh.vectors(), nil
}

// shapeKind tags the layouts the feature-extraction endpoint is known to
// answer with.
type shapeKind int

const (
	shapePooled shapeKind = iota // [text][dim]
	shapeTokens                  // [text][token][dim]
	shapeSingle                  // [dim], one input only
)

func (k shapeKind) String() string {
	switch k {
	case shapePooled:
		return "pooled"
	case shapeTokens:
		return "tokens"
	case shapeSingle:
		return "single"
	default:
		return "unknown"
	}
}

type shape struct {
	kind   shapeKind
	pooled [][]float32
	tokens [][][]float32
}

// parseShape decodes body once into one of the known layouts and checks it
// against the number of inputs.
func parseShape(body []byte, inputs int) (shape, error) {
	var tokens [][][]float32
	if err := json.Unmarshal(body, &tokens); err == nil && len(tokens) > 0 {
		if len(tokens) != inputs {
			return shape{}, fmt.Errorf("%w: %d token matrices for %d inputs", ErrUnexpectedShape, len(tokens), inputs)
		}
		for i, m := range tokens {
			if err := checkTokenMatrix(m, i); err != nil {
				return shape{}, err
			}
		}
		return shape{kind: shapeTokens, tokens: tokens}, nil
	}

	var pooled [][]float32
	if err := json.Unmarshal(body, &pooled); err == nil && len(pooled) > 0 {
		if len(pooled) == inputs {
			return shape{kind: shapePooled, pooled: pooled}, nil
		}
		// A lone input may come back as its token matrix without the outer axis.
		if inputs == 1 {
			if err := checkTokenMatrix(pooled, 0); err != nil {
				return shape{}, err
			}
			return shape{kind: shapeTokens, tokens: [][][]float32{pooled}}, nil
		}
		return shape{}, fmt.Errorf("%w: %d vectors for %d inputs", ErrUnexpectedShape, len(pooled), inputs)
	}

	var single []float32
	if err := json.Unmarshal(body, &single); err == nil && len(single) > 0 {
		if inputs != 1 {
			return shape{}, fmt.Errorf("%w: single vector for %d inputs", ErrUnexpectedShape, inputs)
		}
		return shape{kind: shapeSingle, pooled: [][]float32{single}}, nil
	}

	return shape{}, fmt.Errorf("%w: %s", ErrUnexpectedShape, logger.Preview(string(body), 120))
}

// checkTokenMatrix requires at least one token and every token row to have
// the same non-zero length.
func checkTokenMatrix(m [][]float32, input int) error {
	if len(m) == 0 {
		return fmt.Errorf("%w: no tokens for input %d", ErrUnexpectedShape, input)
	}
	dim := len(m[0])
	for j, row := range m {
		if len(row) == 0 || len(row) != dim {
			return fmt.Errorf("%w: token %d of input %d has %d values, expected %d", ErrUnexpectedShape, j, input, len(row), dim)
		}
	}
	return nil
}

func (s shape) vectors() []core.Vector {
	if s.kind != shapeTokens {
		out := make([]core.Vector, len(s.pooled))
		for i, v := range s.pooled {
			out[i] = core.Vector(v)
		}
		return out
	}
	out := make([]core.Vector, len(s.tokens))
	for i, m := range s.tokens {
		out[i] = meanPool(m)
	}
	return out
}

// meanPool averages token vectors component-wise. Rows have equal length,
// checked by parseShape.
func meanPool(rows [][]float32) core.Vector {
	out := make(core.Vector, len(rows[0]))
	for _, r := range rows {
		for d, v := range r {
			out[d] += v
		}
	}
	n := float32(len(rows))
	for d := range out {
		out[d] /= n
	}
	return out
}
