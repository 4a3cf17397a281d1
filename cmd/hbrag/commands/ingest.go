package commands

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/handbook-rag/internal/chunker"
	"github.com/54b3r/handbook-rag/internal/logging"
	"github.com/54b3r/handbook-rag/internal/pipeline"
)

// NewIngestCmd constructs the `hbrag ingest` command, which chunks and
// embeds the handbook and reports per-document chunk counts. With the
// embedding cache enabled this warms the cache for later ask, chat and serve
// runs; with INDEX_BACKEND=qdrant it fills the Qdrant collection.
func NewIngestCmd() *cobra.Command {
	var dir string
	var urls []string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Chunk and embed the handbook, reporting chunk counts",
		Long: `Load the handbook, split it into chunks and embed every chunk.

Transient provider failures (rate limits, timeouts) are retried with
exponential backoff. Embeddings are written to the cache (HBRAG_CACHE_DB,
default ~/.hbrag/embeddings.db) so later runs only embed changed chunks.

--dry-run stops after chunking: no provider is contacted.

Examples:
  hbrag ingest
  hbrag ingest --dir ./policies --dry-run
  hbrag ingest --url https://example.com/remote-work-policy`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)
			out := cmd.OutOrStdout()
			root := resolveDocsDir(dir)

			docs, err := loadDocuments(ctx, root, urls)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			if dryRun {
				cfg, err := pipeline.ConfigFromEnv()
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				splitter, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				report := &pipeline.IngestReport{Documents: len(docs)}
				for _, d := range docs {
					n := len(splitter.Split(d))
					report.PerDocument = append(report.PerDocument, pipeline.DocumentReport{ID: d.ID, Chunks: n})
					report.Chunks += n
				}
				printReport(out, report, true)
				return nil
			}

			a, err := buildApp(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer a.Close()

			report, err := a.pipeline.Ingest(ctx, docs)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			log.Info("ingestion complete",
				slog.Int("documents", report.Documents),
				slog.Int("chunks", report.Chunks),
				slog.Duration("duration", report.Duration),
			)
			printReport(out, report, false)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Handbook directory (default: $HBRAG_DOCS_DIR or ./handbook)")
	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "Extra document URL to ingest (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Stop after chunking; do not embed")

	return cmd
}

// printReport writes the per-document chunk counts and a summary line.
func printReport(w io.Writer, r *pipeline.IngestReport, dryRun bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHUNKS\tDOCUMENT")
	for _, d := range r.PerDocument {
		fmt.Fprintf(tw, "%d\t%s\n", d.Chunks, d.ID)
	}
	_ = tw.Flush()

	if dryRun {
		fmt.Fprintf(w, "\n%d documents, %d chunks (dry run, nothing embedded)\n", r.Documents, r.Chunks)
		return
	}
	fmt.Fprintf(w, "\n%d documents, %d chunks, dimension %d, in %s\n",
		r.Documents, r.Chunks, r.Dimension, r.Duration.Round(time.Millisecond))
}
