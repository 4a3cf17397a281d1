// Package server implements the HTTP server that exposes the handbook RAG
// pipeline via a small JSON API. The server is started by the `hbrag serve`
// CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/handbook-rag/internal/logging"
	"github.com/54b3r/handbook-rag/internal/rag"
)

// maxAskBodyBytes bounds the size of a POST /api/ask body.
const maxAskBodyBytes = 64 << 10

// maxK caps the number of chunks a client may request.
const maxK = 50

// providerRetryAfter is the Retry-After sent when the pipeline is not ready
// or the model provider is rate limiting.
const providerRetryAfter = 5 * time.Second

// outcomeUnauthorized is the ask outcome of a request refused by the API key
// check.
const outcomeUnauthorized = "unauthorized"

// New constructs a Server from the provided answerer and config.
func New(answerer Answerer, cfg *Config) (*Server, error) {
	if answerer == nil {
		return nil, fmt.Errorf("server: answerer must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.AskTimeout == 0 {
		cfg.AskTimeout = 2 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must outlast the slowest answer.
		cfg.WriteTimeout = cfg.AskTimeout + 10*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		answerer: answerer,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		status:   cfg.Status,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: HBRAG_API_KEY is not set, /api/ask is unauthenticated")
	}

	rl, stop := newAskLimiter(cfg.RateLimit, cfg.RateBurst)
	s.stopRL = stop

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(rl),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// routes builds the request multiplexer with its middleware chain.
func (s *Server) routes(rl *askLimiter) http.Handler {
	mux := http.NewServeMux()

	ask := http.Handler(http.HandlerFunc(s.handleAsk))
	ask = s.limitAsk(rl, ask)
	ask = s.requireAPIKey(s.cfg.APIKey, ask)
	mux.Handle("POST /api/ask", s.instrument("ask", ask))

	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	return requestLogger(s.log, mux)
}

// Handler returns the fully wired HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		s.log.Info("server: stopped")
		return nil
	}
}

// handleAsk handles POST /api/ask. It answers one question and returns the
// answer with its cited sources as JSON.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAskBodyBytes)).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		writeJSONError(w, "question is required", http.StatusBadRequest)
		return
	}
	if req.K < 0 || req.K > maxK {
		writeJSONError(w, fmt.Sprintf("k must be between 0 and %d", maxK), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AskTimeout)
	defer cancel()

	s.metrics.askInFlight.Inc()
	defer s.metrics.askInFlight.Dec()

	start := time.Now()
	res, err := s.answerer.Answer(ctx, req.Question, req.K)
	outcome := askOutcome(err)
	s.metrics.askRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.askDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		status := statusFor(err)
		log.Warn("ask failed",
			slog.Int("status", status),
			slog.String("outcome", outcome),
			slog.Any("error", err),
		)
		if status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", retryAfter(providerRetryAfter))
		}
		writeJSONError(w, err.Error(), status)
		return
	}

	sources := res.Sources
	if sources == nil {
		sources = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(askResponse{Answer: res.Answer, Sources: sources}); err != nil {
		log.Error("ask encode error", slog.Any("error", err))
	}
}

// statusFor maps an Answer error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rag.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, rag.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, rag.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, rag.ErrProviderUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// askOutcome maps an Answer error onto the metrics outcome label.
func askOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, rag.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, rag.ErrNotReady):
		return "not_ready"
	case errors.Is(err, rag.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, rag.ErrProviderUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

// writeJSONError writes a JSON error body with the given status code.
func writeJSONError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
