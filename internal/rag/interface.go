// Package rag defines the data model and collaborator interfaces of the
// retrieval core: documents, chunks, vectors, the embedding provider, the
// vector index and the answer generator.
//
// Concrete implementations live next to the interfaces (FlatIndex,
// QdrantIndex, DefaultRetriever) or in sibling packages (embedder,
// generator) so the pipeline never depends on a specific backend.
package rag

import (
	"context"
	"strings"
)

// Document is one source text of the corpus. It is immutable once loaded.
type Document struct {
	// ID is the source path of the document. It is used verbatim as the
	// citation reported alongside answers.
	ID string

	// Text is the full UTF-8 text of the document.
	Text string
}

// Chunk is a contiguous span of a document's text sized for embedding.
type Chunk struct {
	// DocumentID is the ID of the document this chunk was cut from.
	DocumentID string

	// SequenceIndex is the position of the chunk within its document,
	// starting at 0 and strictly increasing.
	SequenceIndex int

	// Text is the chunk content. Its length in characters always equals
	// CharEnd - CharStart.
	Text string

	// CharStart is the character (rune) offset of the first character of
	// Text within the document.
	CharStart int

	// CharEnd is the exclusive character offset of the end of Text.
	CharEnd int
}

// Vector is a dense embedding. All vectors stored in one index share the
// dimensionality established by the first insert.
type Vector []float32

// IndexEntry pairs a chunk with its embedding.
type IndexEntry struct {
	// Chunk is the indexed text span.
	Chunk Chunk

	// Vector is the embedding of Chunk.Text.
	Vector Vector
}

// ScoredChunk is a search hit: a chunk and its cosine similarity to the query.
type ScoredChunk struct {
	// Chunk is the matched text span.
	Chunk Chunk

	// Score is the cosine similarity in [-1, 1]. Higher is more relevant.
	Score float32
}

// RetrievalResult is an ordered list of hits, at most k long, with
// non-increasing scores.
type RetrievalResult []ScoredChunk

// Passages returns the chunk texts of r in ranking order.
func (r RetrievalResult) Passages() []string {
	out := make([]string, len(r))
	for i, sc := range r {
		out[i] = sc.Chunk.Text
	}
	return out
}

// Sources returns the distinct document IDs of r in order of first
// appearance.
func (r RetrievalResult) Sources() []string {
	seen := make(map[string]struct{}, len(r))
	out := make([]string, 0, len(r))
	for _, sc := range r {
		if _, ok := seen[sc.Chunk.DocumentID]; ok {
			continue
		}
		seen[sc.Chunk.DocumentID] = struct{}{}
		out = append(out, sc.Chunk.DocumentID)
	}
	return out
}

// AnswerResult is the response to a question.
type AnswerResult struct {
	// Answer is the generated answer text.
	Answer string

	// Sources lists the IDs of the documents that supplied the retrieved
	// passages, deduplicated, in first-appearance order.
	Sources []string
}

// SourceNames returns the last path element of each source ID, for display.
// IDs without a slash are returned unchanged.
func (a *AnswerResult) SourceNames() []string {
	out := make([]string, len(a.Sources))
	for i, id := range a.Sources {
		out[i] = SourceName(id)
	}
	return out
}

// SourceName returns the part of id after its final slash, or id itself when
// that part would be empty.
func SourceName(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 && i < len(id)-1 {
		return id[i+1:]
	}
	return id
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed returns one vector per input text, in input order. Failures wrap
	// ErrProviderUnavailable, ErrRateLimited or ErrInvalidInput.
	Embed(ctx context.Context, texts []string) ([]Vector, error)
}

// VectorIndex stores embedded chunks and answers nearest-neighbour queries
// by cosine similarity. Implementations must allow concurrent Search calls.
type VectorIndex interface {
	// Insert adds a batch of entries. If any vector's dimensionality differs
	// from the index's, the whole batch is rejected with ErrDimensionMismatch.
	Insert(ctx context.Context, entries []IndexEntry) error

	// Search returns up to k entries ranked by descending similarity to
	// query. Equal scores keep insertion order.
	Search(ctx context.Context, query Vector, k int) (RetrievalResult, error)

	// Len reports the number of stored entries.
	Len() int
}

// AnswerGenerator produces a natural-language answer from a question and the
// ranked passages retrieved for it.
type AnswerGenerator interface {
	// Generate returns the answer text. Failures wrap ErrProviderUnavailable
	// or ErrRateLimited.
	Generate(ctx context.Context, question string, passages []string) (string, error)
}

// Retriever fetches the passages relevant to a question.
// Implementations must be safe to call from multiple goroutines.
type Retriever interface {
	// Retrieve returns the top-k chunks for question.
	Retrieve(ctx context.Context, question string, k int) (RetrievalResult, error)
}
