// Package pipeline orchestrates the retrieval core: it chunks and embeds a
// document corpus into a fresh vector index, then answers questions by
// retrieving the most similar chunks and handing them to an answer generator.
//
// A Pipeline is single-use. Ingest may succeed at most once; after any
// failure the instance stays unready and a new Pipeline must be built. Once
// Ready the index is never mutated, so Answer is safe for concurrent use.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/handbook-rag/internal/chunker"
	"github.com/54b3r/handbook-rag/internal/logging"
	"github.com/54b3r/handbook-rag/internal/rag"
)

// State is the lifecycle state of a Pipeline.
//
// A Pipeline whose ingest failed or produced no chunks is not ready and can
// never be ingested again. It reports StateFailed with Stats.LastError set,
// which distinguishes it from a Pipeline that has not been ingested yet.
type State string

const (
	// StateUninitialized is the state of a new Pipeline.
	StateUninitialized State = "uninitialized"
	// StateIngesting is held while Ingest runs.
	StateIngesting State = "ingesting"
	// StateReady means the index is built and Answer may be called.
	StateReady State = "ready"
	// StateFailed means Ingest failed or was abandoned through Fail; the
	// Pipeline can never become ready.
	StateFailed State = "failed"
)

// IndexFactory creates the empty vector index an Ingest call fills.
type IndexFactory func(ctx context.Context) (rag.VectorIndex, error)

// flatIndexFactory is the default IndexFactory.
func flatIndexFactory(context.Context) (rag.VectorIndex, error) {
	return rag.NewFlatIndex(), nil
}

// Option configures optional Pipeline collaborators.
type Option func(*Pipeline)

// WithIndexFactory selects the vector index backend. The default is an
// exact in-memory rag.FlatIndex.
func WithIndexFactory(f IndexFactory) Option {
	return func(p *Pipeline) { p.newIndex = f }
}

// WithRegisterer registers the pipeline's Prometheus metrics against reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Pipeline) { p.reg = reg }
}

// WithLogger sets the logger used when the caller's context carries none.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// DocumentReport describes how one document was chunked.
type DocumentReport struct {
	// ID is the document identifier.
	ID string
	// Chunks is the number of chunks the document produced.
	Chunks int
}

// IngestReport summarises a successful Ingest call.
type IngestReport struct {
	// Documents is the number of documents supplied.
	Documents int
	// Chunks is the number of chunks embedded and indexed.
	Chunks int
	// Dimension is the embedding dimensionality established by the corpus.
	Dimension int
	// PerDocument lists chunk counts in document order.
	PerDocument []DocumentReport
	// Duration is the wall-clock ingestion time.
	Duration time.Duration
}

// Stats is a point-in-time snapshot of a Pipeline.
type Stats struct {
	// State is the current lifecycle state.
	State State
	// Documents is the number of documents ingested.
	Documents int
	// Chunks is the number of chunks in the index.
	Chunks int
	// ReadySince is when the pipeline became ready; zero if never.
	ReadySince time.Time
	// LastError is the ingest failure message when State is StateFailed.
	LastError string
}

// Pipeline is the top-level retrieval-augmented answering orchestrator.
type Pipeline struct {
	// embedder turns chunk texts and questions into vectors.
	embedder rag.Embedder
	// generator produces answers from retrieved passages.
	generator rag.AnswerGenerator
	// cfg is the validated configuration.
	cfg Config
	// splitter chunks documents.
	splitter *chunker.Splitter
	// newIndex creates the index filled by Ingest.
	newIndex IndexFactory
	// reg receives the pipeline metrics; nil leaves them unregistered.
	reg prometheus.Registerer
	// metrics holds the Prometheus collectors.
	metrics *pipelineMetrics
	// log is the fallback logger.
	log *slog.Logger

	// mu guards every field below.
	mu sync.RWMutex
	// state is the lifecycle state.
	state State
	// index is the populated index; non-nil only when Ready.
	index rag.VectorIndex
	// retriever searches index; non-nil only when Ready.
	retriever rag.Retriever
	// documents is the number of documents ingested.
	documents int
	// readySince records the Ready transition time.
	readySince time.Time
	// lastErr is the ingest failure, if any.
	lastErr error
}

// New validates cfg and returns an uninitialized Pipeline. No collaborator
// is called before Ingest.
func New(embedder rag.Embedder, generator rag.AnswerGenerator, cfg Config, opts ...Option) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("pipeline: embedder must not be nil: %w", rag.ErrConfiguration)
	}
	if generator == nil {
		return nil, fmt.Errorf("pipeline: answer generator must not be nil: %w", rag.ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	splitter, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p := &Pipeline{
		embedder:  embedder,
		generator: generator,
		cfg:       cfg,
		splitter:  splitter,
		newIndex:  flatIndexFactory,
		state:     StateUninitialized,
	}
	for _, o := range opts {
		o(p)
	}
	if p.newIndex == nil {
		return nil, fmt.Errorf("pipeline: index factory must not be nil: %w", rag.ErrConfiguration)
	}
	if p.log == nil {
		p.log = logging.New()
	}
	p.metrics = newPipelineMetrics(p.reg)
	return p, nil
}

// Config returns the validated configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// logger prefers the request-scoped logger carried by ctx.
func (p *Pipeline) logger(ctx context.Context) *slog.Logger {
	if l, ok := logging.LoggerFromContext(ctx); ok {
		return l
	}
	return p.log
}

// Ingest chunks every document, embeds the chunks in parallel batches and
// builds a fresh index. It may only be called once per Pipeline. On any
// failure the Pipeline is left permanently unready and nothing is published.
func (p *Pipeline) Ingest(ctx context.Context, docs []rag.Document) (*IngestReport, error) {
	p.mu.Lock()
	if p.state != StateUninitialized {
		state := p.state
		p.mu.Unlock()
		return nil, fmt.Errorf("pipeline: ingest called in state %s: %w", state, rag.ErrAlreadyIngested)
	}
	p.state = StateIngesting
	p.mu.Unlock()

	report, index, err := p.build(ctx, docs)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.state = StateFailed
		p.lastErr = err
		p.metrics.ready.Set(0)
		return nil, err
	}
	retriever, err := rag.NewRetriever(p.embedder, index)
	if err != nil {
		p.state = StateFailed
		p.lastErr = err
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	p.index = index
	p.retriever = retriever
	p.documents = len(docs)
	p.readySince = time.Now()
	p.state = StateReady

	p.metrics.documentsIngested.Add(float64(report.Documents))
	p.metrics.chunksIngested.Add(float64(report.Chunks))
	p.metrics.ready.Set(1)
	return report, nil
}

// build does the work of Ingest without touching pipeline state.
func (p *Pipeline) build(ctx context.Context, docs []rag.Document) (*IngestReport, rag.VectorIndex, error) {
	log := p.logger(ctx)
	start := time.Now()

	report := &IngestReport{Documents: len(docs), PerDocument: make([]DocumentReport, 0, len(docs))}
	var chunks []rag.Chunk
	blank := 0
	for _, d := range docs {
		n := 0
		for _, c := range p.splitter.Split(d) {
			// A long whitespace run can yield a chunk with nothing to embed.
			// Dropping it leaves sequence indices increasing, with a gap.
			if strings.TrimSpace(c.Text) == "" {
				blank++
				continue
			}
			chunks = append(chunks, c)
			n++
		}
		report.PerDocument = append(report.PerDocument, DocumentReport{ID: d.ID, Chunks: n})
	}
	if blank > 0 {
		log.Debug("pipeline: skipped whitespace-only chunks", slog.Int("skipped", blank))
	}
	if len(chunks) == 0 {
		return nil, nil, fmt.Errorf("pipeline: %d documents produced no chunks: %w", len(docs), rag.ErrEmptyCorpus)
	}
	log.Info("pipeline: documents chunked",
		slog.Int("documents", len(docs)),
		slog.Int("chunks", len(chunks)),
		slog.Int("chunk_size", p.cfg.ChunkSize),
		slog.Int("chunk_overlap", p.cfg.ChunkOverlap),
	)

	vectors, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return nil, nil, err
	}

	index, err := p.newIndex(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: creating index: %w", err)
	}
	entries := make([]rag.IndexEntry, len(chunks))
	for i := range chunks {
		entries[i] = rag.IndexEntry{Chunk: chunks[i], Vector: vectors[i]}
	}
	// An abandoned ingest must not publish an index.
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("pipeline: ingest abandoned: %w", err)
	}
	if err := index.Insert(ctx, entries); err != nil {
		return nil, nil, fmt.Errorf("pipeline: inserting into index: %w", err)
	}

	report.Chunks = len(chunks)
	report.Dimension = len(vectors[0])
	report.Duration = time.Since(start)
	log.Info("pipeline: index built",
		slog.Int("chunks", report.Chunks),
		slog.Int("dimension", report.Dimension),
		slog.Duration("duration", report.Duration),
	)
	return report, index, nil
}

// embedChunks embeds chunk texts in batches of cfg.BatchSize with at most
// cfg.Concurrency calls in flight. The result is parallel to chunks
// regardless of the order in which batches complete.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []rag.Chunk) ([]rag.Vector, error) {
	log := p.logger(ctx)
	size := p.cfg.BatchSize
	nBatches := (len(chunks) + size - 1) / size
	results := make([][]rag.Vector, nBatches)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for b := 0; b < nBatches; b++ {
		lo := b * size
		hi := min(lo+size, len(chunks))
		texts := make([]string, 0, hi-lo)
		for _, c := range chunks[lo:hi] {
			texts = append(texts, c.Text)
		}

		g.Go(func() error {
			callCtx := gctx
			if p.cfg.EmbedTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(gctx, p.cfg.EmbedTimeout)
				defer cancel()
			}
			vecs, err := p.embedder.Embed(callCtx, texts)
			if err == nil && len(vecs) != len(texts) {
				err = fmt.Errorf("embedder returned %d vectors for %d texts: %w", len(vecs), len(texts), rag.ErrProviderUnavailable)
			}
			if err != nil {
				p.metrics.embedBatchesTotal.WithLabelValues("error").Inc()
				if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, rag.ErrProviderUnavailable) {
					err = fmt.Errorf("%w: %w", err, rag.ErrProviderUnavailable)
				}
				return fmt.Errorf("pipeline: embedding batch %d/%d: %w", b+1, nBatches, err)
			}
			p.metrics.embedBatchesTotal.WithLabelValues("ok").Inc()
			results[b] = vecs
			log.Debug("pipeline: batch embedded", slog.Int("batch", b+1), slog.Int("of", nBatches), slog.Int("size", len(texts)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]rag.Vector, 0, len(chunks))
	for _, vecs := range results {
		out = append(out, vecs...)
	}
	return out, nil
}

// Answer retrieves the k chunks most similar to question (cfg.TopK when
// k <= 0) and asks the generator for an answer grounded in them. Sources are
// the distinct document IDs of the retrieved chunks in rank order. A failed
// Answer never changes the pipeline.
func (p *Pipeline) Answer(ctx context.Context, question string, k int) (*rag.AnswerResult, error) {
	log := p.logger(ctx)

	p.mu.RLock()
	state, retriever := p.state, p.retriever
	p.mu.RUnlock()

	if state != StateReady {
		p.metrics.answersTotal.WithLabelValues("not_ready").Inc()
		return nil, fmt.Errorf("pipeline: answer called in state %s: %w", state, rag.ErrNotReady)
	}
	if strings.TrimSpace(question) == "" {
		p.metrics.answersTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("pipeline: question is empty: %w", rag.ErrInvalidInput)
	}
	if k <= 0 {
		k = p.cfg.TopK
	}

	retrieveStart := time.Now()
	result, err := retriever.Retrieve(ctx, question, k)
	p.metrics.retrievalSeconds.Observe(time.Since(retrieveStart).Seconds())
	if err != nil {
		p.metrics.answersTotal.WithLabelValues(outcome(err)).Inc()
		return nil, fmt.Errorf("pipeline: retrieval: %w", err)
	}

	genCtx := ctx
	if p.cfg.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, p.cfg.GenerateTimeout)
		defer cancel()
	}
	genStart := time.Now()
	answer, err := p.generator.Generate(genCtx, question, result.Passages())
	p.metrics.generationSeconds.Observe(time.Since(genStart).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !rag.IsRetryable(err) {
			err = fmt.Errorf("%w: %w", err, rag.ErrProviderUnavailable)
		}
		p.metrics.answersTotal.WithLabelValues(outcome(err)).Inc()
		return nil, fmt.Errorf("pipeline: generation: %w", err)
	}

	p.metrics.answersTotal.WithLabelValues("ok").Inc()
	sources := result.Sources()
	log.Info("pipeline: question answered",
		slog.Int("k", k),
		slog.Int("retrieved", len(result)),
		slog.Int("sources", len(sources)),
		slog.Duration("duration", time.Since(retrieveStart)),
	)
	return &rag.AnswerResult{Answer: answer, Sources: sources}, nil
}

// Retrieve runs only the retrieval half of Answer. It is used by callers
// that want to inspect ranked chunks without calling the generator.
func (p *Pipeline) Retrieve(ctx context.Context, question string, k int) (rag.RetrievalResult, error) {
	p.mu.RLock()
	state, retriever := p.state, p.retriever
	p.mu.RUnlock()

	if state != StateReady {
		return nil, fmt.Errorf("pipeline: retrieve called in state %s: %w", state, rag.ErrNotReady)
	}
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("pipeline: question is empty: %w", rag.ErrInvalidInput)
	}
	if k <= 0 {
		k = p.cfg.TopK
	}
	result, err := retriever.Retrieve(ctx, question, k)
	if err != nil {
		return nil, fmt.Errorf("pipeline: retrieval: %w", err)
	}
	return result, nil
}

// Ready reports whether Answer can be called.
func (p *Pipeline) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state == StateReady
}

// Stats returns a snapshot of the pipeline state.
func (p *Pipeline) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := Stats{State: p.state, Documents: p.documents, ReadySince: p.readySince}
	if p.index != nil {
		s.Chunks = p.index.Len()
	}
	if p.lastErr != nil {
		s.LastError = p.lastErr.Error()
	}
	return s
}

// Fail records that ingestion could not start, for example because the
// documents could not be loaded. An uninitialized Pipeline moves to
// StateFailed with err as its LastError. Fail returns ErrAlreadyIngested in
// any other state and leaves the Pipeline unchanged.
func (p *Pipeline) Fail(err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateUninitialized {
		return fmt.Errorf("pipeline: fail called in state %s: %w", p.state, rag.ErrAlreadyIngested)
	}
	if err == nil {
		err = errors.New("pipeline: ingestion abandoned")
	}
	p.state = StateFailed
	p.lastErr = err
	p.metrics.ready.Set(0)
	return nil
}

// outcome maps an Answer error onto a metrics label.
func outcome(err error) string {
	switch {
	case errors.Is(err, rag.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, rag.ErrProviderUnavailable):
		return "unavailable"
	case errors.Is(err, rag.ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}
