package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAsk_APIKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		token         string
		wantStatus    int
		wantChallenge string
	}{
		{"missing token", "", http.StatusUnauthorized, challengeMissing},
		{"wrong token", "guess", http.StatusUnauthorized, challengeInvalid},
		{"prefix of the key", "secr", http.StatusUnauthorized, challengeInvalid},
		{"valid token", "secret", http.StatusOK, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a := &fakeAnswerer{}
			s := newAskTestServer(t, a, &Config{APIKey: "secret"})

			w := doAsk(t, s, `{"question":"How many vacation days?"}`, tc.token)
			if w.Code != tc.wantStatus {
				t.Fatalf("want %d, got %d: %s", tc.wantStatus, w.Code, w.Body.String())
			}
			if got := w.Header().Get("WWW-Authenticate"); got != tc.wantChallenge {
				t.Errorf("challenge: want %q, got %q", tc.wantChallenge, got)
			}
			if tc.wantStatus == http.StatusOK {
				return
			}

			var body errorResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body.Error == "" {
				t.Errorf("want JSON error body, got %q (%v)", w.Body.String(), err)
			}
			if strings.Contains(w.Body.String(), "secret") {
				t.Error("response leaks the configured key")
			}
			if a.gotQuestion != "" {
				t.Error("unauthorised question reached the answerer")
			}
			if got := testutil.ToFloat64(s.metrics.askRequestsTotal.WithLabelValues(outcomeUnauthorized)); got != 1 {
				t.Errorf("unauthorized outcome: want 1, got %v", got)
			}
		})
	}
}

func TestAsk_NoAPIKeyConfigured(t *testing.T) {
	t.Parallel()
	s := newAskTestServer(t, &fakeAnswerer{}, nil)

	if w := doAsk(t, s, `{"question":"q"}`, ""); w.Code != http.StatusOK {
		t.Errorf("auth disabled: want 200, got %d", w.Code)
	}
}

func TestAsk_AuthRunsBeforeRateLimit(t *testing.T) {
	t.Parallel()
	s := newAskTestServer(t, &fakeAnswerer{}, &Config{APIKey: "secret", RateLimit: 0.01, RateBurst: 1})

	// Unauthenticated requests must not spend the client's budget.
	for range 3 {
		if w := doAsk(t, s, `{"question":"q"}`, ""); w.Code != http.StatusUnauthorized {
			t.Fatalf("want 401, got %d", w.Code)
		}
	}
	if w := doAsk(t, s, `{"question":"q"}`, "secret"); w.Code != http.StatusOK {
		t.Errorf("first authenticated question: want 200, got %d", w.Code)
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		want   string
		wantOK bool
	}{
		{"Bearer abc123", "abc123", true},
		{"bearer abc123", "abc123", true},
		{"BEARER  abc123 ", "abc123", true},
		{"Basic dXNlcjpwYXNz", "", false},
		{"Bearer", "", false},
		{"Bearer    ", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		got, ok := bearerToken(tc.header)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("bearerToken(%q) = %q, %v; want %q, %v", tc.header, got, ok, tc.want, tc.wantOK)
		}
	}
}
