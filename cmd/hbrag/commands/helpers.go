package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/handbook-rag/internal/embedder"
	"github.com/54b3r/handbook-rag/internal/generator"
	"github.com/54b3r/handbook-rag/internal/loader"
	"github.com/54b3r/handbook-rag/internal/pipeline"
	"github.com/54b3r/handbook-rag/internal/provider"
	"github.com/54b3r/handbook-rag/internal/rag"
	"github.com/54b3r/handbook-rag/internal/store"
)

// defaultDocsDir is the handbook directory used when neither --dir nor
// HBRAG_DOCS_DIR is set.
const defaultDocsDir = "handbook"

// app bundles the collaborators a command builds around one Pipeline.
type app struct {
	// pipeline is the question-answering core.
	pipeline *pipeline.Pipeline
	// provider is the resolved chat provider configuration.
	provider *provider.Config
	// qdrant is the Qdrant-backed index, nil for the in-memory backend.
	qdrant *rag.QdrantIndex
	// closers release resources in reverse order.
	closers []func()
}

// Close releases everything the app opened.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// resolveDocsDir returns the --dir flag value, HBRAG_DOCS_DIR, or the default.
func resolveDocsDir(flag string) string {
	if flag != "" {
		return flag
	}
	return getEnvOrDefault("HBRAG_DOCS_DIR", defaultDocsDir)
}

// buildApp wires embedder, generator, index backend and pipeline from the
// environment. reg receives the pipeline metrics; nil leaves them
// unregistered.
func buildApp(ctx context.Context, log *slog.Logger, reg prometheus.Registerer) (*app, error) {
	cfg, err := pipeline.ConfigFromEnv()
	if err != nil {
		return nil, err //nolint:wrapcheck // already prefixed by the pipeline package
	}

	a := &app{}
	fail := func(err error) (*app, error) {
		a.Close()
		return nil, err
	}

	emb, closeEmb, err := buildEmbedder(log)
	if err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, closeEmb)

	gen, pcfg, err := buildGenerator(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	a.provider = pcfg

	opts := []pipeline.Option{pipeline.WithLogger(log)}
	if reg != nil {
		opts = append(opts, pipeline.WithRegisterer(reg))
	}

	idx, err := openQdrantIndex(log)
	if err != nil {
		return fail(err)
	}
	if idx != nil {
		a.qdrant = idx
		a.closers = append(a.closers, func() { _ = idx.Close() })
		opts = append(opts, pipeline.WithIndexFactory(func(context.Context) (rag.VectorIndex, error) {
			return idx, nil
		}))
	}

	p, err := pipeline.New(emb, gen, cfg, opts...)
	if err != nil {
		return fail(err)
	}
	a.pipeline = p

	log.Info("pipeline configured",
		slog.String("provider", string(pcfg.Backend)),
		slog.String("model", pcfg.ModelName()),
		slog.String("embedder", embedder.Backend()),
		slog.Int("chunk_size", cfg.ChunkSize),
		slog.Int("chunk_overlap", cfg.ChunkOverlap),
		slog.Int("top_k", cfg.TopK),
	)
	return a, nil
}

// buildEmbedder constructs the embedder from the environment, wrapped with
// transient-failure retries and, unless HBRAG_CACHE_DB=disabled, the SQLite
// embedding cache. The returned close function is never nil.
func buildEmbedder(log *slog.Logger) (rag.Embedder, func(), error) {
	noop := func() {}

	if err := embedder.ValidateConfig(log); err != nil {
		return nil, noop, err //nolint:wrapcheck // already prefixed by the embedder package
	}
	raw, err := embedder.NewFromEnv()
	if err != nil {
		return nil, noop, err //nolint:wrapcheck // already prefixed by the embedder package
	}
	model := embedder.ModelOf(raw)
	var emb rag.Embedder = withRetry(raw)

	dbPath := os.Getenv("HBRAG_CACHE_DB")
	if dbPath == "disabled" {
		log.Info("cache: disabled via HBRAG_CACHE_DB=disabled")
		return emb, noop, nil
	}
	if model == "" {
		log.Warn("cache: embedder has no model identity, caching disabled")
		return emb, noop, nil
	}
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			log.Warn("cache: could not resolve default DB path, disabling", slog.Any("error", err))
			return emb, noop, nil
		}
	}

	cache, err := store.Open(dbPath)
	if err != nil {
		log.Warn("cache: failed to open, disabling", slog.String("path", dbPath), slog.Any("error", err))
		return emb, noop, nil
	}
	cached, err := store.NewCachedEmbedder(emb, cache, model)
	if err != nil {
		_ = cache.Close()
		return nil, noop, err //nolint:wrapcheck // already prefixed by the store package
	}
	log.Info("cache: embedding cache opened", slog.String("path", dbPath), slog.String("model", model))
	return cached, func() { _ = cache.Close() }, nil
}

// buildGenerator constructs the chat model and wraps it in a ChatGenerator
// using the pipeline's temperature.
func buildGenerator(ctx context.Context, cfg pipeline.Config) (*generator.ChatGenerator, *provider.Config, error) {
	chatModel, pcfg, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // already prefixed by the provider package
	}

	opt := generator.WithTemperature(cfg.Temperature)
	if !pcfg.SupportsTemperature() {
		opt = generator.WithoutTemperature()
	}
	gen, err := generator.New(chatModel, opt)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // already prefixed by the generator package
	}
	return gen, pcfg, nil
}

// openQdrantIndex connects to Qdrant when INDEX_BACKEND=qdrant. It returns
// nil for the default in-memory backend.
func openQdrantIndex(log *slog.Logger) (*rag.QdrantIndex, error) {
	switch backend := strings.ToLower(os.Getenv("INDEX_BACKEND")); backend {
	case "", "flat", "memory":
		return nil, nil
	case "qdrant":
		cfg := qdrantConfigFromEnv()
		idx, err := rag.NewQdrantIndex(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
		}
		log.Info("index: qdrant",
			slog.String("host", cfg.Host),
			slog.Int("port", cfg.Port),
			slog.String("collection", cfg.Collection),
		)
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown INDEX_BACKEND %q, valid values: flat, qdrant: %w", backend, rag.ErrConfiguration)
	}
}

// qdrantConfigFromEnv reads the QDRANT_* variables.
func qdrantConfigFromEnv() *rag.QdrantConfig {
	return &rag.QdrantConfig{
		Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
		Port:       getEnvInt("QDRANT_PORT", 6334),
		Collection: getEnvOrDefault("QDRANT_COLLECTION", "handbook-chunks"),
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	}
}

// loadDocuments reads the handbook directory and any extra URLs.
func loadDocuments(ctx context.Context, dir string, urls []string) ([]rag.Document, error) {
	docs, err := loader.LoadDir(ctx, dir)
	if err != nil {
		return nil, err //nolint:wrapcheck // already prefixed by the loader package
	}
	if len(urls) > 0 {
		fetched, err := loader.FetchURLs(ctx, nil, urls)
		if err != nil {
			return nil, err //nolint:wrapcheck // already prefixed by the loader package
		}
		docs = append(docs, fetched...)
	}
	return docs, nil
}

// printAnswer renders an answer and its numbered source names.
func printAnswer(w io.Writer, res *rag.AnswerResult) {
	heading := color.New(color.FgCyan, color.Bold)

	heading.Fprintln(w, "Answer:")
	fmt.Fprintln(w, res.Answer)
	fmt.Fprintln(w)
	heading.Fprintln(w, "Sources:")
	names := res.SourceNames()
	if len(names) == 0 {
		color.New(color.Faint).Fprintln(w, "  none")
		return
	}
	for i, name := range names {
		fmt.Fprintf(w, "  %d. %s\n", i+1, name)
	}
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
