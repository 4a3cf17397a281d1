package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// FlatIndex is an exact in-memory VectorIndex. Search scans every entry and
// ranks by cosine similarity, so results are exact and deterministic.
// It is safe for concurrent use: Search calls proceed in parallel and Insert
// takes an exclusive lock.
type FlatIndex struct {
	// mu guards entries, norms and dim.
	mu sync.RWMutex

	// entries holds stored chunks in insertion order.
	entries []IndexEntry

	// norms caches the L2 norm of each stored vector, parallel to entries.
	norms []float64

	// dim is the dimensionality fixed by the first insert. Zero until then.
	dim int
}

// NewFlatIndex returns an empty FlatIndex.
func NewFlatIndex() *FlatIndex {
	return &FlatIndex{}
}

// Insert appends entries to the index. The batch is validated as a whole
// before any entry is stored.
func (f *FlatIndex) Insert(_ context.Context, entries []IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dim := f.dim
	if dim == 0 {
		dim = len(entries[0].Vector)
		if dim == 0 {
			return fmt.Errorf("rag: flat index: zero-length vector: %w", ErrDimensionMismatch)
		}
	}
	for i, e := range entries {
		if len(e.Vector) != dim {
			return fmt.Errorf("rag: flat index: entry %d has dimension %d, want %d: %w",
				i, len(e.Vector), dim, ErrDimensionMismatch)
		}
	}

	f.dim = dim
	for _, e := range entries {
		f.entries = append(f.entries, e)
		f.norms = append(f.norms, norm(e.Vector))
	}
	return nil
}

// Search returns the k entries most similar to query.
func (f *FlatIndex) Search(_ context.Context, query Vector, k int) (RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("rag: flat index: k must be positive, got %d: %w", k, ErrInvalidInput)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.entries) == 0 {
		return nil, fmt.Errorf("rag: flat index: %w", ErrEmptyIndex)
	}
	if len(query) != f.dim {
		return nil, fmt.Errorf("rag: flat index: query has dimension %d, want %d: %w",
			len(query), f.dim, ErrDimensionMismatch)
	}

	qn := norm(query)
	hits := make(RetrievalResult, len(f.entries))
	for i, e := range f.entries {
		hits[i] = ScoredChunk{Chunk: e.Chunk, Score: cosine(query, e.Vector, qn, f.norms[i])}
	}

	// Stable sort keeps insertion order among equal scores.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Len reports the number of stored entries.
func (f *FlatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// Dimension reports the dimensionality fixed by the first insert, or 0.
func (f *FlatIndex) Dimension() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dim
}

// Cosine returns the cosine similarity of a and b, or 0 when either vector
// has zero norm. a and b must have equal length.
func Cosine(a, b Vector) float32 {
	return cosine(a, b, norm(a), norm(b))
}

// cosine computes dot(a, b) / (na * nb) with float64 accumulation.
func cosine(a, b Vector, na, nb float64) float32 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (na * nb))
}

// norm returns the L2 norm of v.
func norm(v Vector) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
