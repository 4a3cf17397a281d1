package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(doc string, seq int, v ...float32) IndexEntry {
	return IndexEntry{
		Chunk:  Chunk{DocumentID: doc, SequenceIndex: seq, Text: fmt.Sprintf("%s-%d", doc, seq)},
		Vector: v,
	}
}

func TestFlatIndex_SearchRanksByCosine(t *testing.T) {
	t.Parallel()

	idx := NewFlatIndex()
	require.NoError(t, idx.Insert(context.Background(), []IndexEntry{
		entry("a", 0, 1, 0),
		entry("b", 0, 0, 1),
		entry("c", 0, 1, 1),
	}))

	hits, err := idx.Search(context.Background(), Vector{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "a", hits[0].Chunk.DocumentID)
	assert.Equal(t, "c", hits[1].Chunk.DocumentID)
	assert.Equal(t, "b", hits[2].Chunk.DocumentID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.InDelta(t, 0.7071, hits[1].Score, 1e-4)
	assert.InDelta(t, 0.0, hits[2].Score, 1e-6)
}

func TestFlatIndex_SearchOrderAndBounds(t *testing.T) {
	t.Parallel()

	idx := NewFlatIndex()
	var batch []IndexEntry
	for i := range 20 {
		batch = append(batch, entry("doc", i, float32(i%7)-3, float32(i%5)+1, float32(i%3)))
	}
	require.NoError(t, idx.Insert(context.Background(), batch))

	for _, k := range []int{1, 5, 20, 50} {
		hits, err := idx.Search(context.Background(), Vector{1, 2, 3}, k)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(hits), k)
		assert.LessOrEqual(t, len(hits), idx.Len())
		for i := 1; i < len(hits); i++ {
			assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score, "k=%d position %d", k, i)
		}
	}
}

func TestFlatIndex_TiesKeepInsertionOrder(t *testing.T) {
	t.Parallel()

	idx := NewFlatIndex()
	require.NoError(t, idx.Insert(context.Background(), []IndexEntry{
		entry("first", 0, 2, 0),
		entry("second", 0, 1, 0),
		entry("third", 0, 5, 0),
	}))

	hits, err := idx.Search(context.Background(), Vector{1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, hits.Sources())
}

func TestFlatIndex_Deterministic(t *testing.T) {
	t.Parallel()

	idx := NewFlatIndex()
	require.NoError(t, idx.Insert(context.Background(), []IndexEntry{
		entry("a", 0, 0.3, 0.1), entry("b", 0, 0.1, 0.3), entry("c", 0, 0.2, 0.2),
	}))

	first, err := idx.Search(context.Background(), Vector{0.5, 0.4}, 2)
	require.NoError(t, err)
	for range 10 {
		again, err := idx.Search(context.Background(), Vector{0.5, 0.4}, 2)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestFlatIndex_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("empty index", func(t *testing.T) {
		t.Parallel()
		_, err := NewFlatIndex().Search(ctx, Vector{1}, 1)
		assert.ErrorIs(t, err, ErrEmptyIndex)
	})

	t.Run("non-positive k", func(t *testing.T) {
		t.Parallel()
		idx := NewFlatIndex()
		require.NoError(t, idx.Insert(ctx, []IndexEntry{entry("a", 0, 1, 2)}))
		_, err := idx.Search(ctx, Vector{1, 2}, 0)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("query dimension mismatch", func(t *testing.T) {
		t.Parallel()
		idx := NewFlatIndex()
		require.NoError(t, idx.Insert(ctx, []IndexEntry{entry("a", 0, 1, 2)}))
		_, err := idx.Search(ctx, Vector{1, 2, 3}, 1)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("batch rejected atomically", func(t *testing.T) {
		t.Parallel()
		idx := NewFlatIndex()
		require.NoError(t, idx.Insert(ctx, []IndexEntry{entry("a", 0, 1, 2)}))
		err := idx.Insert(ctx, []IndexEntry{entry("b", 0, 1, 2), entry("c", 0, 1, 2, 3)})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
		assert.Equal(t, 1, idx.Len())
	})

	t.Run("mixed first batch", func(t *testing.T) {
		t.Parallel()
		idx := NewFlatIndex()
		err := idx.Insert(ctx, []IndexEntry{entry("a", 0, 1, 2), entry("b", 0, 1)})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
		assert.Zero(t, idx.Len())
		assert.Zero(t, idx.Dimension())
	})
}

func TestFlatIndex_ZeroNormScoresZero(t *testing.T) {
	t.Parallel()

	idx := NewFlatIndex()
	require.NoError(t, idx.Insert(context.Background(), []IndexEntry{entry("zero", 0, 0, 0)}))

	hits, err := idx.Search(context.Background(), Vector{1, 1}, 1)
	require.NoError(t, err)
	assert.Zero(t, hits[0].Score)
}

func TestFlatIndex_ConcurrentSearch(t *testing.T) {
	t.Parallel()

	idx := NewFlatIndex()
	require.NoError(t, idx.Insert(context.Background(), []IndexEntry{
		entry("a", 0, 1, 0), entry("b", 0, 0, 1),
	}))

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hits, err := idx.Search(context.Background(), Vector{1, 0.1}, 1)
			if err != nil {
				errs <- err
				return
			}
			if hits[0].Chunk.DocumentID != "a" {
				errs <- errors.New("unexpected top hit " + hits[0].Chunk.DocumentID)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestRetrievalResult_Sources(t *testing.T) {
	t.Parallel()

	r := RetrievalResult{
		{Chunk: Chunk{DocumentID: "handbook/vacation.md"}},
		{Chunk: Chunk{DocumentID: "handbook/benefits.md"}},
		{Chunk: Chunk{DocumentID: "handbook/vacation.md"}},
	}
	assert.Equal(t, []string{"handbook/vacation.md", "handbook/benefits.md"}, r.Sources())
}
