package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ccp-pamplona/ccpbot/internal/config"
	"github.com/ccp-pamplona/ccpbot/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShape(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		inputs int
		kind   shapeKind
		want   []core.Vector
	}{
		{
			name:   "pooled",
			body:   `[[1,2,3],[4,5,6]]`,
			inputs: 2,
			kind:   shapePooled,
			want:   []core.Vector{{1, 2, 3}, {4, 5, 6}},
		},
		{
			name:   "tokens are mean pooled",
			body:   `[[[1,2],[3,4]],[[0,0],[2,2],[4,4]]]`,
			inputs: 2,
			kind:   shapeTokens,
			want:   []core.Vector{{2, 3}, {2, 2}},
		},
		{
			name:   "single",
			body:   `[0.5,0.25]`,
			inputs: 1,
			kind:   shapeSingle,
			want:   []core.Vector{{0.5, 0.25}},
		},
		{
			name:   "lone input token matrix",
			body:   `[[1,1],[3,3]]`,
			inputs: 1,
			kind:   shapeTokens,
			want:   []core.Vector{{2, 2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sh, err := parseShape([]byte(tt.body), tt.inputs)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, sh.kind)
			assert.Equal(t, tt.want, sh.vectors())
		})
	}
}

func TestParseShapeRejectsUnknownLayouts(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		inputs int
	}{
		{"object", `{"error":"loading"}`, 1},
		{"empty array", `[]`, 1},
		{"count mismatch", `[[1,2],[3,4],[5,6]]`, 2},
		{"single for many", `[1,2,3]`, 2},
		{"token count mismatch", `[[[1,2]]]`, 2},
		{"strings", `["a","b"]`, 2},
		{"ragged tokens", `[[[1,2,3],[4]]]`, 1},
		{"empty token row", `[[[1,2],[]]]`, 1},
		{"ragged unbatched tokens", `[[1,2,3],[4]]`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseShape([]byte(tt.body), tt.inputs)
			assert.ErrorIs(t, err, ErrUnexpectedShape)
		})
	}
}

func TestHFEmbedderRequest(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq hfRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)
		_, _ = w.Write([]byte(`[[0.1,0.2],[0.3,0.4]]`))
	}))
	defer srv.Close()

	e := NewHFEmbedder(srv.URL, "org/model", "tok", srv.Client())
	vecs, err := e.Embed(context.Background(), []string{"hola", "adiós"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "/org/model", gotPath)
	assert.Equal(t, []string{"hola", "adiós"}, gotReq.Inputs)
	assert.True(t, gotReq.Options.WaitForModel)
	assert.Equal(t, []core.Vector{{0.1, 0.2}, {0.3, 0.4}}, vecs)
}

func TestHFEmbedderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"Model is loading"}`))
	}))
	defer srv.Close()

	e := NewHFEmbedder(srv.URL, "m", "", srv.Client())
	_, err := e.Embed(context.Background(), []string{"x"})

	var httpErr *core.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
}

func TestEmbedSplitsIntoBatches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req hfRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		out := make([][]float32, len(req.Inputs))
		for i := range out {
			out[i] = []float32{float32(i), 1}
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	texts := make([]string, BatchSize+5)
	for i := range texts {
		texts[i] = fmt.Sprintf("text %d", i)
	}

	e := NewHFEmbedder(srv.URL, "m", "", srv.Client())
	vecs, err := e.Embed(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vecs, len(texts))
	assert.Equal(t, 2, calls)
}

func TestInBatchesRejectsInconsistentDimensions(t *testing.T) {
	_, err := inBatches(context.Background(), []string{"a", "b"}, func(ctx context.Context, texts []string) ([]core.Vector, error) {
		return []core.Vector{{1, 2}, {1, 2, 3}}, nil
	})
	assert.ErrorIs(t, err, ErrUnexpectedShape)

	_, err = inBatches(context.Background(), []string{"a"}, func(ctx context.Context, texts []string) ([]core.Vector, error) {
		return []core.Vector{{}}, nil
	})
	assert.ErrorIs(t, err, ErrUnexpectedShape)
}

func TestOpenAIEmbedderOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[2,2]},{"index":0,"embedding":[1,1]}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(srv.URL, "", "sk", srv.Client())
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []core.Vector{{1, 1}, {2, 2}}, vecs)
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultOllamaModel, req.Model)
		_, _ = w.Write([]byte(`{"embeddings":[[0.5,0.5]]}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "", srv.Client())
	v, err := EmbedQuery(context.Background(), e, "hola")
	require.NoError(t, err)
	assert.Equal(t, core.Vector{0.5, 0.5}, v)
}

func TestNewSelectsBackend(t *testing.T) {
	e, err := New(config.Embedding{Backend: config.EmbedOpenAI})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIEmbedder{}, e)

	e, err = New(config.Embedding{Backend: config.EmbedHF})
	require.NoError(t, err)
	assert.IsType(t, &HFEmbedder{}, e)

	_, err = New(config.Embedding{Backend: "onnx"})
	assert.Error(t, err)
}

func TestModelName(t *testing.T) {
	assert.Equal(t, "custom", ModelName(config.Embedding{Backend: config.EmbedOllama, Model: "custom"}))
	assert.Equal(t, DefaultOpenAIModel, ModelName(config.Embedding{Backend: config.EmbedOpenAI}))
	assert.Equal(t, DefaultOllamaModel, ModelName(config.Embedding{Backend: config.EmbedOllama}))
	assert.Equal(t, config.DefaultHFModel, ModelName(config.Embedding{}))
}
