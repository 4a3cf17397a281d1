package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/handbook-rag/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// AskTimeout bounds a single /api/ask request end to end (default: 2m).
	AskTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers probes the external services of the answer path for
	// GET /api/ready, in order.
	Pingers []Pinger
	// Status reports pipeline indexing progress for GET /api/ready. When nil
	// readiness depends on Pingers alone.
	Status StatusReporter
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on /api/ask.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer is served on GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Answerer is the capability handleAsk needs. *pipeline.Pipeline satisfies
// it; tests inject a fake.
type Answerer interface {
	// Answer returns the answer and cited sources for question using the k
	// most relevant chunks (the configured default when k <= 0).
	Answer(ctx context.Context, question string, k int) (*rag.AnswerResult, error)
}

// Server is the HTTP server that exposes the handbook question-answering API.
type Server struct {
	// answerer answers questions; usually the RAG pipeline.
	answerer Answerer
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// status reports pipeline progress for GET /api/ready; may be nil.
	status StatusReporter
	// metrics holds the Prometheus collectors owned by the server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// askRequest is the JSON body for POST /api/ask.
type askRequest struct {
	// Question is the natural language question about the handbook.
	Question string `json:"question"`
	// K is the number of chunks to retrieve; zero selects the default.
	K int `json:"k,omitempty"`
}

// askResponse is the JSON response for a successful POST /api/ask.
type askResponse struct {
	// Answer is the generated answer text.
	Answer string `json:"answer"`
	// Sources lists the cited document IDs in relevance order.
	Sources []string `json:"sources"`
}

// errorResponse is the JSON body returned for every non-2xx API response.
type errorResponse struct {
	// Error is a human-readable description of the failure.
	Error string `json:"error"`
}
