package commands

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/handbook-rag/internal/logging"
)

// NewAskCmd constructs the `hbrag ask` command, which ingests the handbook
// and answers a single question.
func NewAskCmd() *cobra.Command {
	var dir string
	var k int
	var urls []string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question about the handbook",
		Long: `Load and index the handbook, answer one question, and print the answer
followed by the numbered source documents it was drawn from.

Examples:
  hbrag ask "What is our vacation policy?"
  hbrag ask --dir ./policies --k 5 "How do I request time off?"
  EMBEDDING_PROVIDER=hash hbrag ask "What benefits do we offer?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			a, err := buildApp(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer a.Close()

			docs, err := loadDocuments(ctx, resolveDocsDir(dir), urls)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			report, err := a.pipeline.Ingest(ctx, docs)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			log.Debug("handbook indexed",
				slog.Int("documents", report.Documents),
				slog.Int("chunks", report.Chunks),
			)

			res, err := a.pipeline.Answer(ctx, strings.Join(args, " "), k)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			printAnswer(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Handbook directory (default: $HBRAG_DOCS_DIR or ./handbook)")
	cmd.Flags().IntVarP(&k, "k", "k", 0, "Number of chunks to retrieve (default: $TOP_K or 3)")
	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "Extra document URL to ingest (repeatable)")

	return cmd
}
