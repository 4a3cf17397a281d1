// Package store provides a SQLite-backed embedding cache. Vectors are keyed
// by embedding model and chunk text, so re-ingesting an unchanged handbook
// only pays for the chunks that changed.
//
// CachedEmbedder wraps any rag.Embedder with the cache. Cache failures never
// fail an embed call; they are logged and the inner embedder is used.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/handbook-rag/internal/rag"
)

// Cache persists and retrieves embeddings keyed by (model, text).
// Implementations must be safe for concurrent use.
type Cache interface {
	// Lookup returns the cached vectors for texts under model. The result is
	// parallel to texts; misses are nil.
	Lookup(ctx context.Context, model string, texts []string) ([]rag.Vector, error)
	// Put stores vectors for texts under model, replacing existing entries.
	Put(ctx context.Context, model string, texts []string, vectors []rag.Vector) error
	// Close releases any resources held by the cache.
	Close() error
}

// SQLiteCache is a Cache backed by a local SQLite database.
type SQLiteCache struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the embedding cache database.
// It resolves to ~/.hbrag/embeddings.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".hbrag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "embeddings.db"), nil
}

// Open opens (or creates) a SQLiteCache at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteCache, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	c := &SQLiteCache{db: db}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// migrate creates the schema if it does not already exist.
func (c *SQLiteCache) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS embeddings (
    key          TEXT    PRIMARY KEY,   -- sha256(model \x00 text), hex
    model        TEXT    NOT NULL,
    dim          INTEGER NOT NULL,
    vector       BLOB    NOT NULL,      -- little-endian float32
    created_at   INTEGER NOT NULL       -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings (model);
`
	if _, err := c.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Lookup returns cached vectors parallel to texts, with nil for misses.
func (c *SQLiteCache) Lookup(ctx context.Context, model string, texts []string) ([]rag.Vector, error) {
	out := make([]rag.Vector, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	pos := make(map[string][]int, len(texts))
	args := make([]any, 0, len(texts))
	for i, t := range texts {
		k := cacheKey(model, t)
		if _, seen := pos[k]; !seen {
			args = append(args, k)
		}
		pos[k] = append(pos[k], i)
	}

	q := `SELECT key, vector FROM embeddings WHERE key IN (?` + strings.Repeat(",?", len(args)-1) + `)`
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: lookup: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var blob []byte
		if err := rows.Scan(&key, &blob); err != nil {
			return nil, fmt.Errorf("store: lookup scan: %w", err)
		}
		v, err := decodeVector(blob)
		if err != nil {
			return nil, err
		}
		for _, i := range pos[key] {
			out[i] = v
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: lookup rows: %w", err)
	}
	return out, nil
}

// Put stores vectors for texts in one transaction.
func (c *SQLiteCache) Put(ctx context.Context, model string, texts []string, vectors []rag.Vector) error {
	if len(texts) != len(vectors) {
		return fmt.Errorf("store: put: %d texts but %d vectors", len(texts), len(vectors))
	}
	if len(texts) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: put begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `INSERT OR REPLACE INTO embeddings (key, model, dim, vector, created_at) VALUES (?, ?, ?, ?, ?)`
	now := time.Now().Unix()
	for i, t := range texts {
		if _, err := tx.ExecContext(ctx, q, cacheKey(model, t), model, len(vectors[i]), encodeVector(vectors[i]), now); err != nil {
			return fmt.Errorf("store: put: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: put commit: %w", err)
	}
	return nil
}

// Count returns the number of cached vectors for model.
func (c *SQLiteCache) Count(ctx context.Context, model string) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE model = ?`, model).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// Close releases the database connection pool.
func (c *SQLiteCache) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// cacheKey derives the primary key for (model, text).
func cacheKey(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// encodeVector serialises v as little-endian float32 values.
func encodeVector(v rag.Vector) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// decodeVector is the inverse of encodeVector.
func decodeVector(b []byte) (rag.Vector, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("store: corrupt vector blob of %d bytes", len(b))
	}
	v := make(rag.Vector, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
