package rag

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccp-pamplona/ccpbot/internal/config"
	"github.com/ccp-pamplona/ccpbot/internal/core"
)

func sampleChunks() ([]core.Chunk, []core.Vector) {
	chunks := []core.Chunk{
		{ID: "ccp_0", Text: "Horario de atención de lunes a viernes", Metadata: core.ChunkMetadata{Source: "horarios.txt", Title: "horarios", ChunkSize: 7}},
		{ID: "ccp_1", Text: "Renovación de matrícula mercantil", Metadata: core.ChunkMetadata{Source: "registro.pdf", Title: "registro", Page: 2, ChunkSize: 4}},
		{ID: "ccp_2", Text: "Conciliación y arbitraje", Metadata: core.ChunkMetadata{Source: "cac.md", Title: "cac", ChunkSize: 3}},
	}
	vectors := []core.Vector{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
	return chunks, vectors
}

// storeContract exercises the behaviour every store mode must share.
func storeContract(t *testing.T, s core.VectorStore) {
	ctx := context.Background()
	chunks, vectors := sampleChunks()

	require.NoError(t, s.Upsert(ctx, chunks, vectors))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	t.Run("self retrieval", func(t *testing.T) {
		for i, v := range vectors {
			res, err := s.Query(ctx, v, 1)
			require.NoError(t, err)
			require.Len(t, res, 1)
			assert.Equal(t, chunks[i].ID, res[0].Chunk.ID)
			assert.Equal(t, chunks[i].Text, res[0].Chunk.Text)
			assert.Equal(t, chunks[i].Metadata, res[0].Chunk.Metadata)
			assert.InDelta(t, 1.0, res[0].Score, 1e-5)
		}
	})

	t.Run("sorted by score and bounded by k", func(t *testing.T) {
		res, err := s.Query(ctx, core.Vector{0.9, 0.4, 0}, 5)
		require.NoError(t, err)
		require.Len(t, res, 3)
		assert.Equal(t, "ccp_0", res[0].Chunk.ID)
		assert.Equal(t, "ccp_1", res[1].Chunk.ID)
		for i := 1; i < len(res); i++ {
			assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
		}

		res, err = s.Query(ctx, core.Vector{0.9, 0.4, 0}, 2)
		require.NoError(t, err)
		assert.Len(t, res, 2)
	})

	t.Run("upsert replaces by id", func(t *testing.T) {
		replaced := chunks[0]
		replaced.Text = "Nuevo horario"
		require.NoError(t, s.Upsert(ctx, []core.Chunk{replaced}, []core.Vector{{1, 0, 0}}))

		res, err := s.Query(ctx, core.Vector{1, 0, 0}, 1)
		require.NoError(t, err)
		assert.Equal(t, "Nuevo horario", res[0].Chunk.Text)
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := s.Query(ctx, core.Vector{1, 0}, 1)
		assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	})

	t.Run("delete ignores unknown ids", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, []string{"ccp_2", "missing"}))
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("reset is idempotent", func(t *testing.T) {
		require.NoError(t, s.Reset(ctx))
		require.NoError(t, s.Reset(ctx))
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		res, err := s.Query(ctx, core.Vector{1, 0, 0}, 3)
		require.NoError(t, err)
		assert.Empty(t, res)
	})
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore("ccp_docs")
	defer s.Close()
	assert.Equal(t, "ccp_docs", s.Name())
	storeContract(t, s)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "kb.db"), "ccp_docs")
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "ccp_docs", s.Name())
	storeContract(t, s)
}

func TestSQLiteStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.db")
	chunks, vectors := sampleChunks()

	s, err := NewSQLiteStore(path, "ccp_docs")
	require.NoError(t, err)
	require.NoError(t, s.Upsert(context.Background(), chunks, vectors))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path, "ccp_docs")
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSQLiteStoreRejectsBadTableName(t *testing.T) {
	_, err := NewSQLiteStore(filepath.Join(t.TempDir(), "kb.db"), "ccp docs; drop")
	assert.Error(t, err)
}

func TestUpsertValidation(t *testing.T) {
	s := NewMemoryStore("c")
	ctx := context.Background()
	chunks, vectors := sampleChunks()

	assert.Error(t, s.Upsert(ctx, chunks, vectors[:2]))
	assert.ErrorIs(t, s.Upsert(ctx, chunks[:2], []core.Vector{{1, 0}, {1, 0, 0}}), core.ErrDimensionMismatch)

	require.NoError(t, s.Upsert(ctx, chunks, vectors))
	assert.ErrorIs(t, s.Upsert(ctx, chunks[:1], []core.Vector{{1, 0}}), core.ErrDimensionMismatch)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine(core.Vector{1, 2}, core.Vector{2, 4}), 1e-6)
	assert.InDelta(t, 0.0, cosine(core.Vector{1, 0}, core.Vector{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, cosine(core.Vector{1, 0}, core.Vector{-1, 0}), 1e-6)
	assert.Equal(t, float32(0), cosine(core.Vector{0, 0}, core.Vector{1, 1}))
}

func TestNewSelectsMode(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, config.VectorStore{Mode: config.StoreMemory, Collection: "c"}, 3)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = New(ctx, config.VectorStore{Mode: config.StoreLocal, Collection: "c", LocalPath: filepath.Join(t.TempDir(), "x.db")}, 3)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	s, err = New(ctx, config.VectorStore{Mode: config.StoreHTTP, Collection: "c", ChromaHost: "http://localhost:8000"}, 3)
	require.NoError(t, err)
	assert.IsType(t, &ChromaStore{}, s)

	_, err = New(ctx, config.VectorStore{Mode: "faiss"}, 3)
	assert.Error(t, err)
}

func TestMilvusRows(t *testing.T) {
	chunks, vectors := sampleChunks()
	rows, err := milvusRows(chunks, vectors, 42)
	require.NoError(t, err)

	assert.Equal(t, []string{"ccp_0", "ccp_1", "ccp_2"}, rows.ids)
	assert.Equal(t, []string{"horarios", "registro", "cac"}, rows.titles)
	assert.Equal(t, []int64{42, 42, 42}, rows.createTimes)
	assert.Equal(t, chunks[1].Metadata, decodeMilvusMetadata(rows.metadata[1]))
	assert.Equal(t, chunks[2].Metadata, decodeMilvusMetadata(string(rows.metadata[2])))
	assert.Equal(t, core.ChunkMetadata{}, decodeMilvusMetadata(12))
}
