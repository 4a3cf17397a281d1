package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/54b3r/handbook-rag/internal/rag"
)

// defaultHashDimensions is the vector size of the hashing embedder.
const defaultHashDimensions = 512

// HashEmbedder is a deterministic, offline embedder. Each lower-cased word
// that is not a stopword is hashed into one of Dimensions buckets with a
// hash-derived sign, and the resulting term-frequency vector is
// L2-normalised. Texts that share vocabulary therefore score high under
// cosine similarity without any network call.
type HashEmbedder struct {
	// dim is the output vector length.
	dim int
	// tokenPattern extracts words.
	tokenPattern *regexp.Regexp
	// stopwords are ignored when hashing.
	stopwords map[string]struct{}
}

// NewHashEmbedder returns a HashEmbedder producing dim-length vectors.
// A non-positive dim selects the default of 512.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = defaultHashDimensions
	}
	return &HashEmbedder{
		dim:          dim,
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`),
		stopwords:    defaultStopwords(),
	}
}

// Model returns the embedder identity used for cache keys.
func (e *HashEmbedder) Model() string { return fmt.Sprintf("hash/%d", e.dim) }

// Dimensions returns the output vector length.
func (e *HashEmbedder) Dimensions() int { return e.dim }

// Embed hashes each text into a vector. It never fails except on empty
// input or a cancelled context.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([]rag.Vector, error) {
	if err := rag.ValidateTexts(texts); err != nil {
		return nil, fmt.Errorf("hash embedder: %w", err)
	}
	out := make([]rag.Vector, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("hash embedder: %v: %w", err, rag.ErrProviderUnavailable)
		}
		out[i] = e.vector(t)
	}
	return out, nil
}

// vector computes the normalised hashed term-frequency vector of text.
func (e *HashEmbedder) vector(text string) rag.Vector {
	acc := make([]float64, e.dim)
	for _, tok := range e.tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dim)) //nolint:gosec // dim is positive
		if sum>>63 == 1 {
			acc[bucket]--
		} else {
			acc[bucket]++
		}
	}

	var norm float64
	for _, x := range acc {
		norm += x * x
	}
	norm = math.Sqrt(norm)

	v := make(rag.Vector, e.dim)
	if norm == 0 {
		return v
	}
	for i, x := range acc {
		v[i] = float32(x / norm)
	}
	return v
}

// tokenize lower-cases text and returns its non-stopword tokens with a
// light plural fold so "days" and "day" share a bucket.
func (e *HashEmbedder) tokenize(text string) []string {
	raw := e.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := e.stopwords[t]; stop {
			continue
		}
		if len(t) > 3 && strings.HasSuffix(t, "s") && !strings.HasSuffix(t, "ss") {
			t = t[:len(t)-1]
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at",
		"by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that",
		"these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so",
		"such", "into", "about", "between", "through", "during", "before", "after", "above", "below",
		"out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "how", "do", "does", "our", "we", "i", "my", "me", "you", "your", "s",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
