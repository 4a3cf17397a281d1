package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// newMetricsTestServer builds a Server backed by a fresh isolated registry so
// tests do not pollute prometheus.DefaultRegisterer.
func newMetricsTestServer(t *testing.T) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s := newAskTestServer(t, &fakeAnswerer{}, &Config{
		MetricsRegistry: reg,
		MetricsGatherer: reg,
	})
	return s, reg
}

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	_, reg := newMetricsTestServer(t)

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/metrics", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("want 200, got %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

func Test_Metrics_AskCounterIncremented(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)

	w := doAsk(t, s, `{"question":"how many vacation days?"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", w.Code, w.Body.String())
	}

	if got := testutil.ToFloat64(s.metrics.askRequestsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("want ask ok counter=1, got %v", got)
	}
	if got := testutil.ToFloat64(s.metrics.httpRequestsTotal.WithLabelValues(http.MethodPost, "ask", "200")); got != 1 {
		t.Errorf("want http counter=1, got %v", got)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "hbrag_ask_duration_seconds" {
			found = mf.GetMetric()[0].GetHistogram().GetSampleCount() == 1
		}
	}
	if !found {
		t.Error("hbrag_ask_duration_seconds with one sample not found in gathered metrics")
	}
}

func Test_Metrics_InFlightGauge(t *testing.T) {
	t.Parallel()
	s, _ := newMetricsTestServer(t)

	s.metrics.askInFlight.Inc()
	s.metrics.askInFlight.Inc()

	if got := testutil.ToFloat64(s.metrics.askInFlight); got != 2 {
		t.Errorf("want in_flight=2, got %v", got)
	}
}

func Test_Metrics_RouteServesRegistry(t *testing.T) {
	t.Parallel()
	s, _ := newMetricsTestServer(t)

	_ = doAsk(t, s, `{"question":"q"}`, "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `hbrag_ask_requests_total{outcome="ok"} 1`) {
		t.Errorf("metrics body missing ask counter:\n%s", w.Body.String())
	}
}
