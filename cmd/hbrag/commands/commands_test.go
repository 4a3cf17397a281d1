package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/handbook-rag/internal/embedder"
	"github.com/54b3r/handbook-rag/internal/logging"
	"github.com/54b3r/handbook-rag/internal/pipeline"
	"github.com/54b3r/handbook-rag/internal/rag"
	"github.com/54b3r/handbook-rag/internal/store"
)

// flakyEmbedder fails with errs in order, then succeeds.
type flakyEmbedder struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *flakyEmbedder) Embed(_ context.Context, texts []string) ([]rag.Vector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	out := make([]rag.Vector, len(texts))
	for i := range texts {
		out[i] = rag.Vector{1, 0}
	}
	return out, nil
}

func zeroRetry(n uint64) func() backoff.BackOff {
	return func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, n) }
}

func TestRetryingEmbedder_RetriesTransient(t *testing.T) {
	t.Parallel()

	inner := &flakyEmbedder{errs: []error{rag.ErrRateLimited, rag.ErrProviderUnavailable}}
	r := &retryingEmbedder{inner: inner, newBackOff: zeroRetry(4)}

	vecs, err := r.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingEmbedder_PermanentErrorNotRetried(t *testing.T) {
	t.Parallel()

	inner := &flakyEmbedder{errs: []error{rag.ErrInvalidInput}}
	r := &retryingEmbedder{inner: inner, newBackOff: zeroRetry(4)}

	_, err := r.Embed(context.Background(), []string{"a"})
	require.ErrorIs(t, err, rag.ErrInvalidInput)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryingEmbedder_GivesUp(t *testing.T) {
	t.Parallel()

	inner := &flakyEmbedder{errs: []error{
		rag.ErrProviderUnavailable, rag.ErrProviderUnavailable, rag.ErrProviderUnavailable, rag.ErrProviderUnavailable,
	}}
	r := &retryingEmbedder{inner: inner, newBackOff: zeroRetry(2)}

	_, err := r.Embed(context.Background(), []string{"a"})
	require.ErrorIs(t, err, rag.ErrProviderUnavailable)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingEmbedder_ForwardsModel(t *testing.T) {
	t.Parallel()

	r := withRetry(embedder.NewHashEmbedder(8))
	assert.Equal(t, "hash/8", r.Model())
	assert.Equal(t, "hash/8", embedder.ModelOf(r))
}

func TestBuildEmbedder_HashWithCache(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	t.Setenv("EMBEDDING_PROVIDER", "hash")
	t.Setenv("EMBEDDING_DIMENSIONS", "16")
	t.Setenv("HBRAG_CACHE_DB", dbPath)

	emb, closeFn, err := buildEmbedder(logging.Discard())
	require.NoError(t, err)
	defer closeFn()

	_, ok := emb.(*store.CachedEmbedder)
	require.True(t, ok, "want cached embedder, got %T", emb)

	vecs, err := emb.Embed(context.Background(), []string{"vacation policy"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Len(t, vecs[0], 16)

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "cache database should be created")
}

func TestBuildEmbedder_CacheDisabled(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "hash")
	t.Setenv("HBRAG_CACHE_DB", "disabled")

	emb, closeFn, err := buildEmbedder(logging.Discard())
	require.NoError(t, err)
	defer closeFn()

	_, ok := emb.(*retryingEmbedder)
	assert.True(t, ok, "want retrying embedder only, got %T", emb)
}

func TestBuildEmbedder_UnknownBackend(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "nope")

	_, closeFn, err := buildEmbedder(logging.Discard())
	require.ErrorIs(t, err, rag.ErrConfiguration)
	assert.NotNil(t, closeFn)
}

func TestOpenQdrantIndex(t *testing.T) {
	t.Setenv("INDEX_BACKEND", "")
	idx, err := openQdrantIndex(logging.Discard())
	require.NoError(t, err)
	assert.Nil(t, idx)

	t.Setenv("INDEX_BACKEND", "elastic")
	_, err = openQdrantIndex(logging.Discard())
	require.ErrorIs(t, err, rag.ErrConfiguration)
}

func TestQdrantConfigFromEnv(t *testing.T) {
	t.Setenv("QDRANT_HOST", "qdrant.internal")
	t.Setenv("QDRANT_PORT", "7000")
	t.Setenv("QDRANT_COLLECTION", "")
	t.Setenv("QDRANT_API_KEY", "k")
	t.Setenv("QDRANT_TLS", "true")

	cfg := qdrantConfigFromEnv()
	assert.Equal(t, "qdrant.internal", cfg.Host)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "handbook-chunks", cfg.Collection)
	assert.Equal(t, "k", cfg.APIKey)
	assert.True(t, cfg.UseTLS)
}

func TestResolveDocsDir(t *testing.T) {
	t.Setenv("HBRAG_DOCS_DIR", "")
	assert.Equal(t, defaultDocsDir, resolveDocsDir(""))

	t.Setenv("HBRAG_DOCS_DIR", "/srv/handbook")
	assert.Equal(t, "/srv/handbook", resolveDocsDir(""))
	assert.Equal(t, "./local", resolveDocsDir("./local"))
}

func TestPrintAnswer(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printAnswer(&buf, &rag.AnswerResult{
		Answer:  "Employees receive 20 days of paid vacation.",
		Sources: []string{"handbook/vacation.md", "handbook/time-off.md"},
	})

	out := buf.String()
	assert.Contains(t, out, "Answer:")
	assert.Contains(t, out, "Employees receive 20 days of paid vacation.")
	assert.Contains(t, out, "1. vacation.md")
	assert.Contains(t, out, "2. time-off.md")
}

func TestPrintAnswer_NoSources(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printAnswer(&buf, &rag.AnswerResult{Answer: "I don't know."})
	assert.Contains(t, buf.String(), "none")
}

func TestIngestCmd_DryRun(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vacation.md"), []byte("Employees receive 20 days of paid vacation."), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "benefits.txt"), []byte("We offer health, dental and vision insurance."), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.csv"), []byte("ignored"), 0o600))
	for _, k := range []string{"CHUNK_SIZE", "CHUNK_OVERLAP", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}

	cmd := NewIngestCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--dir", dir, "--dry-run"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "2 documents, 2 chunks (dry run")
	assert.Contains(t, out.String(), filepath.Join(dir, "vacation.md"))
	assert.NotContains(t, out.String(), "notes.csv")
}

func TestIngestCmd_MissingDir(t *testing.T) {
	cmd := NewIngestCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--dir", filepath.Join(t.TempDir(), "missing"), "--dry-run"})

	assert.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestVersionCmd(t *testing.T) {
	t.Parallel()

	cmd := NewVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "hbrag dev")
}

// staticGenerator returns a fixed answer.
type staticGenerator struct{}

func (staticGenerator) Generate(context.Context, string, []string) (string, error) {
	return "see the handbook", nil
}

func newServePipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(embedder.NewHashEmbedder(32), staticGenerator{}, pipeline.DefaultConfig(),
		pipeline.WithLogger(logging.Discard()))
	require.NoError(t, err)
	return p
}

func TestIngestInBackground_LoadFailureMarksPipelineFailed(t *testing.T) {
	t.Parallel()
	a := &app{pipeline: newServePipeline(t)}

	ingestInBackground(context.Background(), a, filepath.Join(t.TempDir(), "missing"), nil, logging.Discard())

	stats := a.pipeline.Stats()
	assert.Equal(t, pipeline.StateFailed, stats.State)
	assert.NotEmpty(t, stats.LastError)
	assert.False(t, a.pipeline.Ready())
}

func TestIngestInBackground_Success(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vacation.md"), []byte("# Vacation\nEmployees receive 25 days."), 0o600))
	a := &app{pipeline: newServePipeline(t)}

	ingestInBackground(context.Background(), a, dir, nil, logging.Discard())

	assert.True(t, a.pipeline.Ready())
	assert.Equal(t, 1, a.pipeline.Stats().Chunks)
}

func TestBuildPingers_NoExternalServices(t *testing.T) {
	t.Parallel()
	assert.Empty(t, buildPingers(&app{pipeline: newServePipeline(t)}))
}
