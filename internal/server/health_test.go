package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/54b3r/handbook-rag/internal/embedder"
	"github.com/54b3r/handbook-rag/internal/logging"
	"github.com/54b3r/handbook-rag/internal/pipeline"
)

// fakePinger is a dependency check with a fixed result.
type fakePinger struct {
	name string
	err  error
}

func (f *fakePinger) Name() string                 { return f.name }
func (f *fakePinger) Ping(_ context.Context) error { return f.err }

// fixedStatus reports a fixed pipeline snapshot.
type fixedStatus pipeline.Stats

func (f fixedStatus) Stats() pipeline.Stats { return pipeline.Stats(f) }

// echoGenerator answers every question with the question itself.
type echoGenerator struct{}

func (echoGenerator) Generate(_ context.Context, question string, _ []string) (string, error) {
	return question, nil
}

// newLivePipeline builds an unregistered, uningested pipeline.
func newLivePipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(embedder.NewHashEmbedder(32), echoGenerator{}, pipeline.DefaultConfig(),
		pipeline.WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

// getReady runs GET /api/ready through the full handler chain.
func getReady(t *testing.T, s *Server) (*httptest.ResponseRecorder, readyResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	var body readyResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode ready body: %v", err)
	}
	return w, body
}

func TestHandleHealth_OK(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body["status"] != "ok" {
		t.Errorf("want {\"status\":\"ok\"}, got %q (%v)", w.Body.String(), err)
	}
}

func TestReady_ReportsPipelineStates(t *testing.T) {
	t.Parallel()
	readyAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		stats      pipeline.Stats
		wantStatus int
		wantRetry  bool
	}{
		{"not yet ingested", pipeline.Stats{State: pipeline.StateUninitialized}, http.StatusServiceUnavailable, true},
		{"indexing", pipeline.Stats{State: pipeline.StateIngesting}, http.StatusServiceUnavailable, true},
		{"failed", pipeline.Stats{State: pipeline.StateFailed, LastError: "corpus produced no chunks"}, http.StatusServiceUnavailable, false},
		{"ready", pipeline.Stats{State: pipeline.StateReady, Documents: 3, Chunks: 7, ReadySince: readyAt}, http.StatusOK, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newAskTestServer(t, &fakeAnswerer{}, &Config{Status: fixedStatus(tc.stats)})

			w, body := getReady(t, s)
			if w.Code != tc.wantStatus {
				t.Errorf("want %d, got %d", tc.wantStatus, w.Code)
			}
			if got := w.Header().Get("Retry-After") != ""; got != tc.wantRetry {
				t.Errorf("Retry-After present=%v, want %v", got, tc.wantRetry)
			}
			if body.Ready != (tc.wantStatus == http.StatusOK) {
				t.Errorf("ready flag: got %v", body.Ready)
			}
			if body.Pipeline == nil {
				t.Fatal("missing pipeline section")
			}
			if body.Pipeline.State != string(tc.stats.State) {
				t.Errorf("state: want %q, got %q", tc.stats.State, body.Pipeline.State)
			}
			if body.Pipeline.LastError != tc.stats.LastError {
				t.Errorf("last_error: want %q, got %q", tc.stats.LastError, body.Pipeline.LastError)
			}
			if body.Pipeline.Chunks != tc.stats.Chunks || body.Pipeline.Documents != tc.stats.Documents {
				t.Errorf("counts: got %d documents, %d chunks", body.Pipeline.Documents, body.Pipeline.Chunks)
			}
			if tc.stats.ReadySince.IsZero() != (body.Pipeline.ReadySince == nil) {
				t.Errorf("ready_since: got %v", body.Pipeline.ReadySince)
			}
		})
	}
}

func TestReady_DependencyDownBlocksReadyPipeline(t *testing.T) {
	t.Parallel()
	s := newAskTestServer(t, &fakeAnswerer{}, &Config{
		Status: fixedStatus(pipeline.Stats{State: pipeline.StateReady, Chunks: 3}),
		Pingers: []Pinger{
			&fakePinger{name: "qdrant", err: errors.New("connection refused")},
			&fakePinger{name: "ollama"},
		},
	})

	w, body := getReady(t, s)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "" {
		t.Error("an unreachable dependency is not indexing progress; no Retry-After expected")
	}
	if len(body.Dependencies) != 2 {
		t.Fatalf("want 2 dependency checks, got %d", len(body.Dependencies))
	}
	if d := body.Dependencies[0]; d.Name != "qdrant" || d.OK || d.Error != "connection refused" {
		t.Errorf("qdrant check: got %+v", d)
	}
	if d := body.Dependencies[1]; d.Name != "ollama" || !d.OK || d.Error != "" {
		t.Errorf("ollama check: got %+v", d)
	}
}

func TestReady_WithoutStatusReporter(t *testing.T) {
	t.Parallel()
	s := newAskTestServer(t, &fakeAnswerer{}, nil)

	w, body := getReady(t, s)
	if w.Code != http.StatusOK || !body.Ready {
		t.Errorf("want 200 ready, got %d %+v", w.Code, body)
	}
	if body.Pipeline != nil {
		t.Errorf("want no pipeline section, got %+v", body.Pipeline)
	}
	if body.Dependencies == nil {
		t.Error("dependencies must encode as an empty array")
	}
}

func TestReady_FollowsLivePipeline(t *testing.T) {
	t.Parallel()
	p := newLivePipeline(t)
	s := newAskTestServer(t, &fakeAnswerer{}, &Config{Status: p})

	if w, body := getReady(t, s); w.Code != http.StatusServiceUnavailable || body.Pipeline.State != "uninitialized" {
		t.Fatalf("before ingest: got %d %+v", w.Code, body.Pipeline)
	}
	if err := p.Fail(errors.New("loader: open handbook: no such file or directory")); err != nil {
		t.Fatalf("fail: %v", err)
	}
	w, body := getReady(t, s)
	if w.Code != http.StatusServiceUnavailable || body.Pipeline.State != "failed" {
		t.Fatalf("after failure: got %d %+v", w.Code, body.Pipeline)
	}
	if body.Pipeline.LastError != "loader: open handbook: no such file or directory" {
		t.Errorf("last_error: got %q", body.Pipeline.LastError)
	}
}

func TestHTTPPinger(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	p := NewHTTPPinger("ollama", srv.URL+"/api/tags", nil)
	if p.Name() != "ollama" {
		t.Errorf("name: got %q", p.Name())
	}
	if err := p.Ping(context.Background()); err != nil {
		t.Errorf("healthy endpoint: %v", err)
	}
	if err := NewHTTPPinger("ollama", srv.URL+"/broken", srv.Client()).Ping(context.Background()); err == nil {
		t.Error("expected error for 500 response")
	}
}
