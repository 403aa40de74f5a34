package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/ccp-pamplona/ccpbot/internal/core"
	"github.com/ccp-pamplona/ccpbot/internal/logger"
)

// Field names for the Milvus collection
const (
	FieldID         = "id"
	FieldText       = "text"
	FieldTitle      = "title"
	FieldSource     = "source"
	FieldMetadata   = "metadata"
	FieldCreateTime = "create_time"
	FieldVector     = "vector"
)

// Default constants for VarChar fields
const (
	DefaultMaxVarCharLength = "65535"
	DefaultIDMaxLength      = "255" // Max length for IDs (PKs)
	DefaultTitleMaxLength   = "1024"
)

// milvusBatch is the number of rows sent per upsert call.
const milvusBatch = 512

var outputFields = []string{FieldID, FieldText, FieldMetadata}

// MilvusStore keeps the collection in Milvus with an HNSW index on cosine
// distance.
type MilvusStore struct {
	client       *milvusclient.Client
	collection   string
	embeddingDim int

	mu    sync.Mutex
	ready bool
}

// NewMilvusStore connects to Milvus. The collection is created and loaded on
// first use.
func NewMilvusStore(ctx context.Context, addr, token, collection string, embeddingDim int) (*MilvusStore, error) {
	logger.Info("Connecting to Milvus at %s with dimension %d (token set=%t)", addr, embeddingDim, token != "")
	if embeddingDim <= 0 {
		return nil, fmt.Errorf("milvus: embedding dimension must be positive, got %d", embeddingDim)
	}

	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address: addr,
		APIKey:  token,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Milvus: %w", err)
	}

	return &MilvusStore{
		client:       c,
		collection:   collection,
		embeddingDim: embeddingDim,
	}, nil
}

func (s *MilvusStore) schema() *entity.Schema {
	return &entity.Schema{
		CollectionName: s.collection,
		Description:    "Knowledge base chunks",
		Fields: []*entity.Field{
			{
				Name:       FieldID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": DefaultIDMaxLength},
			},
			{
				Name:       FieldText,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": DefaultMaxVarCharLength},
			},
			{
				Name:       FieldTitle,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": DefaultTitleMaxLength},
			},
			{
				Name:       FieldSource,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": DefaultTitleMaxLength},
			},
			{
				Name:     FieldMetadata,
				DataType: entity.FieldTypeJSON,
			},
			{
				Name:     FieldCreateTime,
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       FieldVector,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(s.embeddingDim)},
			},
		},
	}
}

// ensureCollection creates the collection and its index if missing and
// loads it into memory. After the first success it is a no-op; a failed
// attempt is retried on the next call.
func (s *MilvusStore) ensureCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	if err := s.createAndLoad(ctx); err != nil {
		return err
	}
	s.ready = true
	return nil
}

func (s *MilvusStore) createAndLoad(ctx context.Context) error {
	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(s.collection))
	if err != nil {
		return fmt.Errorf("failed to check if collection exists: %w", err)
	}

	if !exists {
		if err := s.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(s.collection, s.schema())); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx := index.NewHNSWIndex(entity.COSINE, 16, 200)
		task, err := s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(s.collection, FieldVector, idx))
		if err != nil {
			return fmt.Errorf("failed to create index on vector field: %w", err)
		}
		if err := task.Await(ctx); err != nil {
			return fmt.Errorf("failed waiting for index: %w", err)
		}
		logger.Info("Created collection with HNSW index: %s", s.collection)
	}

	loadTask, err := s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(s.collection))
	if err != nil {
		return fmt.Errorf("failed to load collection %s into memory: %w", s.collection, err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return fmt.Errorf("failed waiting for collection load: %w", err)
	}
	return nil
}

// Upsert implements core.VectorStore.
func (s *MilvusStore) Upsert(ctx context.Context, chunks []core.Chunk, vectors []core.Vector) error {
	if err := checkUpsert(chunks, vectors); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	if len(vectors[0]) != s.embeddingDim {
		return fmt.Errorf("%w: collection has %d, got %d", core.ErrDimensionMismatch, s.embeddingDim, len(vectors[0]))
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	now := time.Now().Unix()
	for start := 0; start < len(chunks); start += milvusBatch {
		end := min(start+milvusBatch, len(chunks))
		rows, err := milvusRows(chunks[start:end], vectors[start:end], now)
		if err != nil {
			return err
		}
		opt := milvusclient.NewColumnBasedInsertOption(s.collection).
			WithVarcharColumn(FieldID, rows.ids).
			WithVarcharColumn(FieldText, rows.texts).
			WithVarcharColumn(FieldTitle, rows.titles).
			WithVarcharColumn(FieldSource, rows.sources).
			WithColumns(column.NewColumnJSONBytes(FieldMetadata, rows.metadata)).
			WithInt64Column(FieldCreateTime, rows.createTimes).
			WithFloatVectorColumn(FieldVector, s.embeddingDim, rows.vectors)
		if _, err := s.client.Upsert(ctx, opt); err != nil {
			return fmt.Errorf("failed to upsert chunks %d-%d: %w", start, end-1, err)
		}
	}
	return nil
}

type milvusColumns struct {
	ids, texts, titles, sources []string
	metadata                    [][]byte
	createTimes                 []int64
	vectors                     [][]float32
}

func milvusRows(chunks []core.Chunk, vectors []core.Vector, now int64) (milvusColumns, error) {
	n := len(chunks)
	cols := milvusColumns{
		ids:         make([]string, n),
		texts:       make([]string, n),
		titles:      make([]string, n),
		sources:     make([]string, n),
		metadata:    make([][]byte, n),
		createTimes: make([]int64, n),
		vectors:     make([][]float32, n),
	}
	for i, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return milvusColumns{}, fmt.Errorf("encoding metadata for %s: %w", c.ID, err)
		}
		cols.ids[i] = c.ID
		cols.texts[i] = c.Text
		cols.titles[i] = c.Metadata.Title
		cols.sources[i] = c.Metadata.Source
		cols.metadata[i] = meta
		cols.createTimes[i] = now
		cols.vectors[i] = vectors[i]
	}
	return cols, nil
}

// Delete implements core.VectorStore.
func (s *MilvusStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}
	if _, err := s.client.Delete(ctx, milvusclient.NewDeleteOption(s.collection).WithStringIDs(FieldID, ids)); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// Query implements core.VectorStore. Milvus reports cosine similarity
// directly as the score.
func (s *MilvusStore) Query(ctx context.Context, vector core.Vector, k int) ([]core.SearchResult, error) {
	if k <= 0 {
		return []core.SearchResult{}, nil
	}
	if len(vector) != s.embeddingDim {
		return nil, fmt.Errorf("%w: collection has %d, query has %d", core.ErrDimensionMismatch, s.embeddingDim, len(vector))
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	opt := milvusclient.NewSearchOption(s.collection, k, []entity.Vector{entity.FloatVector(vector)}).
		WithANNSField(FieldVector).
		WithOutputFields(outputFields...)
	sets, err := s.client.Search(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search: %w", err)
	}
	if len(sets) == 0 || sets[0].ResultCount == 0 {
		return []core.SearchResult{}, nil
	}

	rs := sets[0]
	textCol := rs.GetColumn(FieldText)
	metaCol := rs.GetColumn(FieldMetadata)
	results := make([]core.SearchResult, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		id, err := rs.IDs.GetAsString(i)
		if err != nil {
			logger.Warn("Skipping Milvus hit %d without id: %v", i, err)
			continue
		}
		c := core.Chunk{ID: id}
		if textCol != nil {
			c.Text, _ = textCol.GetAsString(i)
		}
		if metaCol != nil {
			if raw, err := metaCol.Get(i); err == nil {
				c.Metadata = decodeMilvusMetadata(raw)
			}
		}
		var score float32
		if i < len(rs.Scores) {
			score = rs.Scores[i]
		}
		results = append(results, core.SearchResult{Chunk: c, Score: score})
	}
	sortResults(results)
	return results, nil
}

func decodeMilvusMetadata(raw any) core.ChunkMetadata {
	var data []byte
	switch v := raw.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return core.ChunkMetadata{}
	}
	var md core.ChunkMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		logger.Debug("Unreadable Milvus metadata: %v", err)
	}
	return md
}

// Reset implements core.VectorStore.
func (s *MilvusStore) Reset(ctx context.Context) error {
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}
	if _, err := s.client.Delete(ctx, milvusclient.NewDeleteOption(s.collection).WithExpr(FieldID+` != ""`)); err != nil {
		return fmt.Errorf("failed to clear collection: %w", err)
	}
	return nil
}

// Count implements core.VectorStore.
func (s *MilvusStore) Count(ctx context.Context) (int, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return 0, err
	}
	rs, err := s.client.Query(ctx, milvusclient.NewQueryOption(s.collection).
		WithFilter(FieldID+` != ""`).
		WithOutputFields("count(*)").
		WithConsistencyLevel(entity.ClStrong))
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	col := rs.GetColumn("count(*)")
	if col == nil || col.Len() == 0 {
		return 0, nil
	}
	v, err := col.Get(0)
	if err != nil {
		return 0, fmt.Errorf("failed to read count: %w", err)
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected count type %T", v)
	}
	return int(n), nil
}

// Name implements core.VectorStore.
func (s *MilvusStore) Name() string { return s.collection }

// Close closes the connection to Milvus
func (s *MilvusStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Close(ctx)
}
