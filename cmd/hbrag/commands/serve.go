package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/handbook-rag/internal/logging"
	"github.com/54b3r/handbook-rag/internal/provider"
	"github.com/54b3r/handbook-rag/internal/server"
	"github.com/54b3r/handbook-rag/internal/tracing"
)

// NewServeCmd constructs the `hbrag serve` command, which starts the HTTP
// API and indexes the handbook in the background.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var dir string
	var urls []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the hbrag HTTP server",
		Long: `Start the hbrag HTTP server.

The handbook is indexed in the background while the server is already
listening; POST /api/ask returns 503 until indexing has finished.

Endpoints:
  POST /api/ask     {"question": "...", "k": 3} -> {"answer": "...", "sources": [...]}
  GET  /api/health  liveness
  GET  /api/ready   readiness of the pipeline and its dependencies
  GET  /metrics     Prometheus metrics

Examples:
  hbrag serve
  hbrag serve --port 9090 --dir ./policies
  HBRAG_API_KEY=secret INDEX_BACKEND=qdrant hbrag serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			flush := tracing.Setup(tracing.ConfigFromEnv(), log)
			defer flush()

			a, err := buildApp(ctx, log, prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer a.Close()

			// Flag defaults are resolved here so values from .env and YAML apply.
			if host == "" {
				host = getEnvOrDefault("HBRAG_HOST", "127.0.0.1")
			}
			if port == 0 {
				port = getEnvInt("HBRAG_PORT", 8080)
			}

			srv, err := server.New(a.pipeline, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: buildPingers(a),
				Status:  a.pipeline,
				APIKey:  os.Getenv("HBRAG_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			go ingestInBackground(ctx, a, resolveDocsDir(dir), urls, log)

			return srv.Start(ctx) //nolint:wrapcheck // already prefixed by the server package
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (default: $HBRAG_HOST or 127.0.0.1)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default: $HBRAG_PORT or 8080)")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Handbook directory (default: $HBRAG_DOCS_DIR or ./handbook)")
	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "Extra document URL to ingest (repeatable)")

	return cmd
}

// ingestInBackground loads and indexes the handbook. Every failure leaves
// the pipeline in the failed state, so /api/ready reports the error instead
// of an indexing run that never finishes.
func ingestInBackground(ctx context.Context, a *app, dir string, urls []string, log *slog.Logger) {
	log.Info("ingestion started", slog.String("dir", dir), slog.Int("urls", len(urls)))

	docs, err := loadDocuments(ctx, dir, urls)
	if err != nil {
		log.Error("ingestion failed: could not load documents", slog.Any("error", err))
		if ferr := a.pipeline.Fail(err); ferr != nil {
			log.Warn("ingestion: could not record load failure", slog.Any("error", ferr))
		}
		return
	}
	report, err := a.pipeline.Ingest(ctx, docs)
	if err != nil {
		log.Error("ingestion failed", slog.Any("error", err))
		return
	}
	log.Info("ingestion complete, serving questions",
		slog.Int("documents", report.Documents),
		slog.Int("chunks", report.Chunks),
		slog.Int("dimension", report.Dimension),
		slog.Duration("duration", report.Duration),
	)
}

// buildPingers returns the readiness probes for the external services the
// pipeline depends on. The pipeline itself is reported through its Stats.
func buildPingers(a *app) []server.Pinger {
	var pingers []server.Pinger

	if a.qdrant != nil {
		pingers = append(pingers, server.NewQdrantPinger(a.qdrant.Client()))
	}
	if a.provider != nil && a.provider.Backend == provider.BackendOllama {
		url := strings.TrimRight(a.provider.Ollama.Host, "/") + "/api/tags"
		pingers = append(pingers, server.NewHTTPPinger("ollama", url, nil))
	}
	return pingers
}
