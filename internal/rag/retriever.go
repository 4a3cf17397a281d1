package rag

import (
	"context"
	"fmt"
)

// DefaultRetriever implements Retriever by embedding the question and
// delegating nearest-neighbour search to a VectorIndex.
type DefaultRetriever struct {
	// embedder converts the question to a dense vector.
	embedder Embedder

	// index performs the similarity search.
	index VectorIndex
}

// NewRetriever constructs a DefaultRetriever from the given Embedder and
// VectorIndex.
func NewRetriever(embedder Embedder, index VectorIndex) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil: %w", ErrConfiguration)
	}
	if index == nil {
		return nil, fmt.Errorf("rag: index must not be nil: %w", ErrConfiguration)
	}
	return &DefaultRetriever{embedder: embedder, index: index}, nil
}

// Retrieve embeds question and returns the k most similar chunks. Errors
// from the embedder and the index are wrapped, so errors.Is still matches
// their sentinel.
func (r *DefaultRetriever) Retrieve(ctx context.Context, question string, k int) (RetrievalResult, error) {
	vectors, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding question: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("rag: embedder returned %d vectors for 1 question: %w",
			len(vectors), ErrProviderUnavailable)
	}

	hits, err := r.index.Search(ctx, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search: %w", err)
	}
	return hits, nil
}
