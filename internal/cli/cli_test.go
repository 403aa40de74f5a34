package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccp-pamplona/ccpbot/internal/config"
	"github.com/ccp-pamplona/ccpbot/internal/core"
	"github.com/ccp-pamplona/ccpbot/internal/embed"
	"github.com/ccp-pamplona/ccpbot/internal/ingest"
	"github.com/ccp-pamplona/ccpbot/internal/llm"
	"github.com/ccp-pamplona/ccpbot/internal/logger"
	"github.com/ccp-pamplona/ccpbot/internal/rag"
)

type constEmbedder struct{}

func (constEmbedder) Embed(_ context.Context, texts []string) ([]core.Vector, error) {
	out := make([]core.Vector, len(texts))
	for i := range texts {
		out[i] = core.Vector{1, 0, 0}
	}
	return out, nil
}

type stubCompleter struct {
	reply string
	err   error
}

func (s stubCompleter) Complete(context.Context, []llm.Message) (string, error) {
	return s.reply, s.err
}

func testConfig() *config.Config {
	return &config.Config{
		LLM:       config.LLM{APIKey: "key", Model: "test"},
		Embedding: config.Embedding{Backend: config.EmbedOllama, Dimension: 3},
		VectorStore: config.VectorStore{
			Mode:       config.StoreMemory,
			Collection: "ccp_docs",
		},
		Retrieval: config.Retrieval{TopK: 5, ContextChunks: 4, MaxChunkChars: 1200, MaxContextChars: 4000},
	}
}

// setupTestServices swaps the constructors for in-process fakes sharing one
// memory store, and resets flag variables between runs.
func setupTestServices(t *testing.T, cfg *config.Config, completer llm.Completer) *rag.MemoryStore {
	t.Helper()
	store := rag.NewMemoryStore(cfg.VectorStore.Collection)

	origLoad, origEmbed, origStore, origLLM := loadConfig, newEmbedder, openStore, newCompleter
	loadConfig = func() (*config.Config, error) { return cfg, nil }
	newEmbedder = func(config.Embedding) (core.Embedder, error) { return constEmbedder{}, nil }
	openStore = func(context.Context, config.VectorStore, int) (core.VectorStore, error) { return store, nil }
	newCompleter = func(config.LLM) llm.Completer { return completer }

	ingestDir, ingestBackend, ingestModel = "knowledge/ccp", "", ""
	ingestChunkSize, ingestOverlap = ingest.DefaultChunkSize, ingest.DefaultChunkOverlap
	ingestReset, ingestConcurrency = false, ingest.DefaultConcurrency

	t.Cleanup(func() {
		loadConfig, newEmbedder, openStore, newCompleter = origLoad, origEmbed, origStore, origLLM
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	return store
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeKnowledge(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "horarios.txt"),
		[]byte("La sede principal atiende de lunes a viernes de 8:00 a 12:00 y de 14:00 a 18:00."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "registro.md"),
		[]byte("# Registro mercantil\n\nLa matrícula mercantil se renueva antes del 31 de marzo."), 0o644))
	return dir
}

func TestIngestCmd_Flags(t *testing.T) {
	for name, def := range map[string]string{
		"dir":           "knowledge/ccp",
		"chunk-size":    "420",
		"chunk-overlap": "80",
		"reset":         "false",
		"backend":       "",
		"model":         "",
	} {
		flag := ingestCmd.Flags().Lookup(name)
		require.NotNil(t, flag, name)
		assert.Equal(t, def, flag.DefValue, name)
	}
}

func TestIngestCmd_PrintsReport(t *testing.T) {
	store := setupTestServices(t, testConfig(), stubCompleter{})
	dir := writeKnowledge(t)

	out, err := execute(t, "", "ingest", "--dir", dir, "--reset")
	require.NoError(t, err)

	var report ingest.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "ccp_docs", report.Collection)
	assert.Equal(t, 2, report.Chunks)
	assert.Equal(t, []string{"horarios.txt", "registro.md"}, report.UniqueSources)
	assert.Equal(t, "ollama", report.Backend)
	assert.Equal(t, embed.DefaultOllamaModel, report.Model)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestIngestCmd_ModelFlagLabelsReport(t *testing.T) {
	setupTestServices(t, testConfig(), stubCompleter{})

	out, err := execute(t, "", "ingest", "--dir", writeKnowledge(t), "--model", "nomic-embed-text")
	require.NoError(t, err)
	assert.Contains(t, out, `"model": "nomic-embed-text"`)
}

func TestIngestCmd_RejectsBadWindow(t *testing.T) {
	setupTestServices(t, testConfig(), stubCompleter{})

	_, err := execute(t, "", "ingest", "--dir", writeKnowledge(t), "--chunk-size", "80", "--chunk-overlap", "80")
	require.Error(t, err)
	assert.ErrorIs(t, err, ingest.ErrInvalidChunking)
}

func TestIngestCmd_ValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.VectorStore.Mode = "bogus"
	setupTestServices(t, cfg, stubCompleter{})

	_, err := execute(t, "", "ingest")
	require.Error(t, err)
	var cerr *config.Error
	assert.True(t, errors.As(err, &cerr))
}

func TestAskCmd_AnswersArgument(t *testing.T) {
	store := setupTestServices(t, testConfig(), stubCompleter{reply: "La sede abre a las 8:00."})
	require.NoError(t, store.Upsert(context.Background(),
		[]core.Chunk{{ID: "ccp_0", Text: "Horario de 8:00 a 12:00."}}, []core.Vector{{1, 0, 0}}))

	out, err := execute(t, "", "ask", "¿A qué hora abren?")
	require.NoError(t, err)
	assert.Equal(t, "La sede abre a las 8:00.\n", out)
}

func TestAskCmd_EmptyCollectionGivesNoInformation(t *testing.T) {
	setupTestServices(t, testConfig(), stubCompleter{reply: "no debería usarse"})

	out, err := execute(t, "", "ask", "¿Cuánto cuesta la matrícula?")
	require.NoError(t, err)
	assert.Contains(t, out, llm.DefaultPersona().Replies.NoInformation)
}

func TestAskCmd_LoopStopsOnSalir(t *testing.T) {
	store := setupTestServices(t, testConfig(), stubCompleter{reply: "Respuesta de prueba."})
	require.NoError(t, store.Upsert(context.Background(),
		[]core.Chunk{{ID: "ccp_0", Text: "Texto."}}, []core.Vector{{1, 0, 0}}))

	out, err := execute(t, "primera\n\nSALIR\nnunca\n", "ask")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "Respuesta de prueba."))
	assert.Equal(t, 3, strings.Count(out, "Pregunta (o 'salir'): "))
}

func TestAskCmd_LoopEndsAtEOF(t *testing.T) {
	setupTestServices(t, testConfig(), stubCompleter{reply: "ok"})

	_, err := execute(t, "una pregunta", "ask")
	assert.NoError(t, err)
}

func TestAskCmd_RejectsTwoArgs(t *testing.T) {
	setupTestServices(t, testConfig(), stubCompleter{})

	_, err := execute(t, "", "ask", "a", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts at most 1 arg(s)")
}

func TestDotEnvLogLevelApplies(t *testing.T) {
	setupTestServices(t, testConfig(), stubCompleter{})
	t.Setenv("LOG_LEVEL", "")
	require.NoError(t, os.Unsetenv("LOG_LEVEL"))
	t.Setenv("LOG_FORMAT", "console")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOG_LEVEL=debug\n"), 0o644))
	t.Chdir(dir)
	t.Cleanup(func() {
		_ = os.Unsetenv("LOG_LEVEL")
		logger.Init(false)
	})

	_, err := execute(t, "", "ask", "hola")
	require.NoError(t, err)
	assert.True(t, logger.IsDebugEnabled())
}
