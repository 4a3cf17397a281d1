// Package commands defines all Cobra CLI commands for the hbrag binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/handbook-rag/internal/audit"
	"github.com/54b3r/handbook-rag/internal/config"
	"github.com/54b3r/handbook-rag/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hbrag",
		Short: "hbrag answers questions about your employee handbook",
		Long: `hbrag loads an employee handbook (Markdown, text and PDF files), splits it
into overlapping chunks, embeds them, and answers questions with an LLM using
the most relevant passages as context. Every answer cites its sources.

Model and embedding providers are selected via MODEL_PROVIDER and
EMBEDDING_PROVIDER, a .env file, or a YAML config file (~/.hbrag/config.yaml).
See 'hbrag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// .env first, then YAML; variables already set always win.
			if _, err := config.LoadDotEnv(log); err != nil {
				return err
			}
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.hbrag/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewChatCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewVersionCmd(),
	)

	return root
}
