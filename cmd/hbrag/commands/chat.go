package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/handbook-rag/internal/logging"
	"github.com/54b3r/handbook-rag/internal/tui"
)

// NewChatCmd constructs the `hbrag chat` command, an interactive terminal
// chat over the handbook.
func NewChatCmd() *cobra.Command {
	var dir string
	var k int
	var urls []string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the handbook in an interactive terminal UI",
		Long: `Start an interactive terminal chat. The handbook is indexed in the
background; questions are accepted once the status line reports ready.

Keys:
  Enter       ask the typed question
  F1-F5       load an example question
  Ctrl+L      clear the answer and input
  quit/exit/q or Ctrl+C  leave

Examples:
  hbrag chat
  hbrag chat --dir ./policies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Log lines would corrupt the alternate screen.
			log := logging.Discard()
			ctx := logging.WithLogger(cmd.Context(), log)

			a, err := buildApp(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer a.Close()

			root := resolveDocsDir(dir)
			ingest := func(ctx context.Context) (string, error) {
				docs, err := loadDocuments(ctx, root, urls)
				if err != nil {
					return "", err
				}
				report, err := a.pipeline.Ingest(ctx, docs)
				if err != nil {
					return "", err //nolint:wrapcheck // shown verbatim in the status line
				}
				return fmt.Sprintf("%d documents, %d chunks from %s", report.Documents, report.Chunks, root), nil
			}

			return tui.Run(ctx, a.pipeline, ingest, k) //nolint:wrapcheck // already prefixed by the tui package
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Handbook directory (default: $HBRAG_DOCS_DIR or ./handbook)")
	cmd.Flags().IntVarP(&k, "k", "k", 0, "Number of chunks to retrieve (default: $TOP_K or 3)")
	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "Extra document URL to ingest (repeatable)")

	return cmd
}
