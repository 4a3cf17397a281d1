package pipeline

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/54b3r/handbook-rag/internal/chunker"
	"github.com/54b3r/handbook-rag/internal/rag"
)

// Defaults applied by DefaultConfig and ConfigFromEnv.
const (
	// DefaultTopK is the number of chunks retrieved per question.
	DefaultTopK = 3
	// DefaultBatchSize is the number of chunks sent per embed call.
	DefaultBatchSize = 64
	// DefaultConcurrency is the number of embed calls in flight during ingestion.
	DefaultConcurrency = 4
	// DefaultEmbedTimeout bounds a single embed call.
	DefaultEmbedTimeout = 60 * time.Second
	// DefaultGenerateTimeout bounds a single answer generation call.
	DefaultGenerateTimeout = 120 * time.Second
)

// Config holds the tunable parameters of a Pipeline. It is validated once by
// New; a Pipeline never re-reads it.
type Config struct {
	// ChunkSize is the maximum chunk length in characters.
	ChunkSize int
	// ChunkOverlap is the number of characters shared by consecutive chunks
	// of the same document. Must be smaller than ChunkSize.
	ChunkOverlap int
	// TopK is the number of chunks retrieved when Answer is called with k <= 0.
	TopK int
	// Temperature is the sampling temperature handed to the answer generator.
	// The pipeline only validates it; the generator applies it.
	Temperature float32
	// BatchSize is the number of chunk texts per embed call.
	BatchSize int
	// Concurrency is the maximum number of embed calls in flight.
	Concurrency int
	// EmbedTimeout bounds each embed call. Zero disables the bound.
	EmbedTimeout time.Duration
	// GenerateTimeout bounds each generate call. Zero disables the bound.
	GenerateTimeout time.Duration
}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:       chunker.DefaultChunkSize,
		ChunkOverlap:    chunker.DefaultChunkOverlap,
		TopK:            DefaultTopK,
		Temperature:     0,
		BatchSize:       DefaultBatchSize,
		Concurrency:     DefaultConcurrency,
		EmbedTimeout:    DefaultEmbedTimeout,
		GenerateTimeout: DefaultGenerateTimeout,
	}
}

// Validate reports the first invalid field, wrapped in rag.ErrConfiguration.
func (c Config) Validate() error {
	switch {
	case c.ChunkSize <= 0:
		return fmt.Errorf("pipeline: chunk_size must be > 0, got %d: %w", c.ChunkSize, rag.ErrConfiguration)
	case c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize:
		return fmt.Errorf("pipeline: chunk_overlap must be in [0, chunk_size), got %d: %w", c.ChunkOverlap, rag.ErrConfiguration)
	case c.TopK < 1:
		return fmt.Errorf("pipeline: top_k must be >= 1, got %d: %w", c.TopK, rag.ErrConfiguration)
	case c.Temperature < 0 || c.Temperature > 2:
		return fmt.Errorf("pipeline: llm_temperature must be in [0, 2], got %v: %w", c.Temperature, rag.ErrConfiguration)
	case c.BatchSize < 1:
		return fmt.Errorf("pipeline: embed batch size must be >= 1, got %d: %w", c.BatchSize, rag.ErrConfiguration)
	case c.Concurrency < 1:
		return fmt.Errorf("pipeline: embed concurrency must be >= 1, got %d: %w", c.Concurrency, rag.ErrConfiguration)
	case c.EmbedTimeout < 0 || c.GenerateTimeout < 0:
		return fmt.Errorf("pipeline: timeouts must not be negative: %w", rag.ErrConfiguration)
	}
	return nil
}

// ConfigFromEnv overlays environment variables onto DefaultConfig.
//
// Environment variables:
//
//	CHUNK_SIZE        (default: 1000)
//	CHUNK_OVERLAP     (default: 200)
//	TOP_K             (default: 3)
//	LLM_TEMPERATURE   (default: 0)
//	EMBED_BATCH_SIZE  (default: 64)
//	EMBED_CONCURRENCY (default: 4)
//	EMBED_TIMEOUT     (default: 60s, Go duration syntax)
//	GENERATE_TIMEOUT  (default: 120s, Go duration syntax)
//
// A value that does not parse is an error rather than a silent fallback, so
// a typo never changes retrieval behaviour unnoticed.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	var err error
	if cfg.ChunkSize, err = envInt("CHUNK_SIZE", cfg.ChunkSize); err != nil {
		return cfg, err
	}
	if cfg.ChunkOverlap, err = envInt("CHUNK_OVERLAP", cfg.ChunkOverlap); err != nil {
		return cfg, err
	}
	if cfg.TopK, err = envInt("TOP_K", cfg.TopK); err != nil {
		return cfg, err
	}
	if cfg.Temperature, err = envFloat32("LLM_TEMPERATURE", cfg.Temperature); err != nil {
		return cfg, err
	}
	if cfg.BatchSize, err = envInt("EMBED_BATCH_SIZE", cfg.BatchSize); err != nil {
		return cfg, err
	}
	if cfg.Concurrency, err = envInt("EMBED_CONCURRENCY", cfg.Concurrency); err != nil {
		return cfg, err
	}
	if cfg.EmbedTimeout, err = envDuration("EMBED_TIMEOUT", cfg.EmbedTimeout); err != nil {
		return cfg, err
	}
	if cfg.GenerateTimeout, err = envDuration("GENERATE_TIMEOUT", cfg.GenerateTimeout); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// envInt parses the named integer variable, returning fallback when unset.
func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("pipeline: %s=%q is not an integer: %w", key, v, rag.ErrConfiguration)
	}
	return i, nil
}

// envFloat32 parses the named float variable, returning fallback when unset.
func envFloat32(key string, fallback float32) (float32, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return fallback, fmt.Errorf("pipeline: %s=%q is not a number: %w", key, v, rag.ErrConfiguration)
	}
	return float32(f), nil
}

// envDuration parses the named duration variable, returning fallback when unset.
func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("pipeline: %s=%q is not a duration: %w", key, v, rag.ErrConfiguration)
	}
	return d, nil
}
