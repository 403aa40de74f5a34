package rag

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/ccp-pamplona/ccpbot/internal/core"
	"github.com/ccp-pamplona/ccpbot/internal/logger"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteStore keeps the collection in a single SQLite table and answers
// queries with a full scan. It is meant for knowledge bases of a few
// thousand chunks.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	table string
}

// NewSQLiteStore opens (creating if needed) the database file at path and
// the table named after the collection.
func NewSQLiteStore(path, collection string) (*SQLiteStore, error) {
	if !tableName.MatchString(collection) {
		return nil, fmt.Errorf("collection name %q is not a valid table name", collection)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db, path: path, table: collection}
	if err := s.ensureTable(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("SQLite vector store ready at %s (table %s)", path, collection)
	return s, nil
}

func (s *SQLiteStore) ensureTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id        TEXT PRIMARY KEY,
			text      TEXT NOT NULL,
			metadata  TEXT NOT NULL,
			dim       INTEGER NOT NULL,
			embedding BLOB NOT NULL
		)`, s.table))
	if err != nil {
		return fmt.Errorf("creating table %s: %w", s.table, err)
	}
	return nil
}

// Upsert implements core.VectorStore.
func (s *SQLiteStore) Upsert(ctx context.Context, chunks []core.Chunk, vectors []core.Vector) error {
	if err := checkUpsert(chunks, vectors); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	if dim, err := s.dimension(ctx); err != nil {
		return err
	} else if dim != 0 && dim != len(vectors[0]) {
		return fmt.Errorf("%w: collection has %d, got %d", core.ErrDimensionMismatch, dim, len(vectors[0]))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, text, metadata, dim, embedding) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			metadata = excluded.metadata,
			dim = excluded.dim,
			embedding = excluded.embedding`, s.table))
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata for %s: %w", c.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.Text, string(meta), len(vectors[i]), float32SliceToBytes(vectors[i])); err != nil {
			return fmt.Errorf("upserting %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// dimension returns the vector length stored in the table, 0 when empty.
func (s *SQLiteStore) dimension(ctx context.Context) (int, error) {
	var dim sql.NullInt64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT dim FROM %s LIMIT 1`, s.table)).Scan(&dim)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading dimension: %w", err)
	}
	return int(dim.Int64), nil
}

// Delete implements core.VectorStore.
func (s *SQLiteStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.table))
	if err != nil {
		return fmt.Errorf("preparing delete: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("deleting %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Query implements core.VectorStore.
func (s *SQLiteStore) Query(ctx context.Context, vector core.Vector, k int) ([]core.SearchResult, error) {
	if k <= 0 {
		return []core.SearchResult{}, nil
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT id, text, metadata, dim, embedding FROM %s`, s.table))
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	results := []core.SearchResult{}
	for rows.Next() {
		var (
			c        core.Chunk
			metaJSON string
			dim      int
			blob     []byte
		)
		if err := rows.Scan(&c.ID, &c.Text, &metaJSON, &dim, &blob); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if dim != len(vector) {
			return nil, fmt.Errorf("%w: collection has %d, query has %d", core.ErrDimensionMismatch, dim, len(vector))
		}
		if err := json.Unmarshal([]byte(metaJSON), &c.Metadata); err != nil {
			logger.Warn("Chunk %s has unreadable metadata: %v", c.ID, err)
		}
		results = append(results, core.SearchResult{Chunk: c, Score: cosine(vector, bytesToFloat32Slice(blob))})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Reset implements core.VectorStore.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table)); err != nil {
		return fmt.Errorf("clearing %s: %w", s.table, err)
	}
	return nil
}

// Count implements core.VectorStore.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

// Name implements core.VectorStore.
func (s *SQLiteStore) Name() string { return s.table }

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) core.Vector {
	floats := make(core.Vector, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
