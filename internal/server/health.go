package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/handbook-rag/internal/logging"
	"github.com/54b3r/handbook-rag/internal/pipeline"
)

// dependencyTimeout bounds each dependency probe run by GET /api/ready.
const dependencyTimeout = 3 * time.Second

// indexingRetryAfter is the Retry-After sent while the handbook is still
// being indexed.
const indexingRetryAfter = 5 * time.Second

// StatusReporter exposes the ingestion status of the pipeline behind
// /api/ask. *pipeline.Pipeline satisfies it.
type StatusReporter interface {
	// Stats returns a snapshot of the pipeline lifecycle.
	Stats() pipeline.Stats
}

// Pinger probes an external service the answer path depends on, such as
// Qdrant or the Ollama server. Implementations must be safe for concurrent
// use.
type Pinger interface {
	// Ping returns nil when the service is reachable.
	Ping(ctx context.Context) error
	// Name labels the service in the readiness body.
	Name() string
}

// pipelineStatus is the pipeline section of the readiness body.
type pipelineStatus struct {
	// State is the pipeline lifecycle state.
	State string `json:"state"`
	// Documents is the number of ingested documents.
	Documents int `json:"documents"`
	// Chunks is the number of indexed chunks.
	Chunks int `json:"chunks"`
	// ReadySince is when indexing finished; absent until then.
	ReadySince *time.Time `json:"ready_since,omitempty"`
	// LastError explains a failed ingestion.
	LastError string `json:"last_error,omitempty"`
}

// dependencyCheck is the probe result of one external service.
type dependencyCheck struct {
	// Name is the service label.
	Name string `json:"name"`
	// OK is true when the probe succeeded.
	OK bool `json:"ok"`
	// Error is the probe failure, if any.
	Error string `json:"error,omitempty"`
}

// readyResponse is the JSON body of GET /api/ready.
type readyResponse struct {
	// Ready is true when questions can be answered right now.
	Ready bool `json:"ready"`
	// Pipeline reports indexing progress; absent when no reporter is wired.
	Pipeline *pipelineStatus `json:"pipeline,omitempty"`
	// Dependencies lists the external service probes in order.
	Dependencies []dependencyCheck `json:"dependencies"`
}

// statusOf converts a pipeline snapshot into its readiness section.
func statusOf(st pipeline.Stats) *pipelineStatus {
	ps := &pipelineStatus{
		State:     string(st.State),
		Documents: st.Documents,
		Chunks:    st.Chunks,
		LastError: st.LastError,
	}
	if !st.ReadySince.IsZero() {
		t := st.ReadySince.UTC()
		ps.ReadySince = &t
	}
	return ps
}

// handleReady handles GET /api/ready. It answers 200 only when the pipeline
// has indexed the handbook and every dependency probe succeeds, and 503
// otherwise. While indexing is still pending or running the 503 carries a
// Retry-After; a failed ingestion does not, since it will never recover.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	resp := readyResponse{Ready: true, Dependencies: []dependencyCheck{}}
	indexing := false
	if s.status != nil {
		st := s.status.Stats()
		resp.Pipeline = statusOf(st)
		resp.Ready = st.State == pipeline.StateReady
		indexing = st.State == pipeline.StateUninitialized || st.State == pipeline.StateIngesting
	}

	for _, p := range s.pingers {
		ctx, cancel := context.WithTimeout(r.Context(), dependencyTimeout)
		err := p.Ping(ctx)
		cancel()

		check := dependencyCheck{Name: p.Name(), OK: err == nil}
		if err != nil {
			check.Error = err.Error()
			resp.Ready = false
			log.Warn("readiness: dependency unreachable",
				slog.String("dependency", p.Name()),
				slog.Any("error", err),
			)
		}
		resp.Dependencies = append(resp.Dependencies, check)
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
		if indexing {
			w.Header().Set("Retry-After", retryAfter(indexingRetryAfter))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("ready encode error", slog.Any("error", err))
	}
}

// handleHealth handles GET /api/health. It reports liveness only and never
// touches the pipeline or its dependencies.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		logging.FromContext(r.Context()).Error("health encode error", slog.Any("error", err))
	}
}

// HTTPPinger probes an HTTP dependency, such as Ollama's /api/tags, with a
// GET and treats any 2xx as reachable. It costs no tokens.
type HTTPPinger struct {
	// name labels the dependency.
	name string
	// url is the probed endpoint.
	url string
	// client performs the probe.
	client *http.Client
}

// NewHTTPPinger constructs an HTTPPinger. A nil client uses
// http.DefaultClient; the readiness context bounds the probe either way.
func NewHTTPPinger(name, url string, client *http.Client) *HTTPPinger {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPPinger{name: name, url: url, client: client}
}

// Name returns the dependency label.
func (p *HTTPPinger) Name() string { return p.name }

// Ping issues GET url and checks for a 2xx status.
func (p *HTTPPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}

// QdrantPinger probes the Qdrant server holding the approximate index.
type QdrantPinger struct {
	// client is the index's gRPC client.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns "qdrant".
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
