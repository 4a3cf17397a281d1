package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// askFrom sends a valid question to POST /api/ask from remoteAddr.
func askFrom(s *Server, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{"question":"How many vacation days?"}`))
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestAsk_RateLimitRefusesWithRetryAfter(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	a := &fakeAnswerer{}
	// One question per 100s with a burst of 2.
	s := newAskTestServer(t, a, &Config{RateLimit: 0.01, RateBurst: 2, MetricsRegistry: reg, MetricsGatherer: reg})

	for i := range 2 {
		if w := askFrom(s, "10.0.0.1:5000"); w.Code != http.StatusOK {
			t.Fatalf("question %d: want 200, got %d", i+1, w.Code)
		}
	}

	w := askFrom(s, "10.0.0.1:5001")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third question: want 429, got %d", w.Code)
	}
	secs, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After %q is not whole seconds: %v", w.Header().Get("Retry-After"), err)
	}
	if secs < 90 || secs > 100 {
		t.Errorf("Retry-After: want about 100s for a 0.01/s refill, got %d", secs)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("refusal content type: got %q", ct)
	}
	var body errorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body.Error == "" {
		t.Errorf("want JSON error body, got %q (%v)", w.Body.String(), err)
	}

	if got := testutil.ToFloat64(s.metrics.askRequestsTotal.WithLabelValues("rate_limited")); got != 1 {
		t.Errorf("rate_limited outcome: want 1, got %v", got)
	}
	if got := testutil.ToFloat64(s.metrics.askRequestsTotal.WithLabelValues("ok")); got != 2 {
		t.Errorf("ok outcome: want 2, got %v", got)
	}
}

func TestAsk_RateLimitIsPerClient(t *testing.T) {
	t.Parallel()
	s := newAskTestServer(t, &fakeAnswerer{}, &Config{RateLimit: 0.01, RateBurst: 1})

	if w := askFrom(s, "10.0.0.1:1"); w.Code != http.StatusOK {
		t.Fatalf("client A first question: want 200, got %d", w.Code)
	}
	if w := askFrom(s, "10.0.0.1:2"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("client A second question: want 429, got %d", w.Code)
	}
	if w := askFrom(s, "[::1]:3"); w.Code != http.StatusOK {
		t.Errorf("client B must have its own budget, got %d", w.Code)
	}
}

func TestAsk_RefusedQuestionDoesNotReachPipeline(t *testing.T) {
	t.Parallel()
	a := &fakeAnswerer{}
	s := newAskTestServer(t, a, &Config{RateLimit: 0.01, RateBurst: 1})

	askFrom(s, "10.0.0.9:1")
	a.gotQuestion = ""
	if w := askFrom(s, "10.0.0.9:1"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("want 429, got %d", w.Code)
	}
	if a.gotQuestion != "" {
		t.Error("refused question reached the answerer")
	}
}

func TestAskLimiter_TakeAndSweep(t *testing.T) {
	t.Parallel()
	l, stop := newAskLimiter(1, 1)
	t.Cleanup(stop)

	now := time.Now()
	if ok, _ := l.take("a", now); !ok {
		t.Fatal("first token must be granted")
	}
	ok, wait := l.take("a", now)
	if ok {
		t.Fatal("second token at the same instant must be refused")
	}
	if wait <= 0 || wait > time.Second {
		t.Errorf("wait: want (0, 1s], got %v", wait)
	}
	// A refused take is cancelled, so the token arrives on schedule.
	if ok, _ := l.take("a", now.Add(time.Second)); !ok {
		t.Error("token must be available after one refill interval")
	}

	l.take("b", now.Add(-time.Hour))
	l.sweep(now.Add(-bucketIdleTTL))
	if l.size() != 1 {
		t.Errorf("want only the active client left, got %d", l.size())
	}
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "1"},
		{200 * time.Millisecond, "1"},
		{time.Second, "1"},
		{1500 * time.Millisecond, "2"},
		{5 * time.Second, "5"},
	}
	for _, tc := range tests {
		if got := retryAfter(tc.d); got != tc.want {
			t.Errorf("retryAfter(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"192.168.1.5:54321", "192.168.1.5"},
		{"[::1]:8080", "::1"},
		{"no-port", "no-port"},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/ask", nil)
		req.RemoteAddr = tc.remoteAddr
		if got := clientIP(req); got != tc.want {
			t.Errorf("clientIP(%q) = %q, want %q", tc.remoteAddr, got, tc.want)
		}
	}
}
