package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/54b3r/handbook-rag/internal/logging"
	"github.com/54b3r/handbook-rag/internal/rag"
)

// CachedEmbedder decorates a rag.Embedder with a Cache. Hits are served from
// the cache; all misses of one call are embedded together and written back.
type CachedEmbedder struct {
	// inner computes embeddings for cache misses.
	inner rag.Embedder
	// cache stores previously computed vectors.
	cache Cache
	// model namespaces cache entries so switching models never reuses
	// vectors from another embedding space.
	model string
}

// NewCachedEmbedder wraps inner with cache under the given model identity.
func NewCachedEmbedder(inner rag.Embedder, cache Cache, model string) (*CachedEmbedder, error) {
	if inner == nil || cache == nil {
		return nil, fmt.Errorf("store: embedder and cache must not be nil: %w", rag.ErrConfiguration)
	}
	if model == "" {
		return nil, fmt.Errorf("store: cache model identity must not be empty: %w", rag.ErrConfiguration)
	}
	return &CachedEmbedder{inner: inner, cache: cache, model: model}, nil
}

// Model returns the wrapped embedder's model identity.
func (c *CachedEmbedder) Model() string { return c.model }

// Embed returns vectors for texts, calling the inner embedder only for texts
// not found in the cache.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([]rag.Vector, error) {
	log := logging.FromContext(ctx)

	out, err := c.cache.Lookup(ctx, c.model, texts)
	if err != nil {
		log.Warn("store: cache lookup failed, embedding without cache", slog.Any("error", err))
		return c.inner.Embed(ctx, texts) //nolint:wrapcheck // transparent decorator
	}

	var missIdx []int
	var missTexts []string
	for i, v := range out {
		if v == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err //nolint:wrapcheck // transparent decorator
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("store: embedder returned %d vectors for %d texts: %w",
			len(vecs), len(missTexts), rag.ErrProviderUnavailable)
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
	}

	if err := c.cache.Put(ctx, c.model, missTexts, vecs); err != nil {
		log.Warn("store: cache write failed", slog.Any("error", err))
	}

	log.Debug("store: embedded with cache",
		slog.Int("hits", len(texts)-len(missTexts)),
		slog.Int("misses", len(missTexts)),
	)
	return out, nil
}
