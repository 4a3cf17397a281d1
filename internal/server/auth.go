package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/handbook-rag/internal/logging"
)

// Bearer challenges sent with 401 responses.
const (
	challengeMissing = `Bearer realm="hbrag"`
	challengeInvalid = `Bearer realm="hbrag", error="invalid_token"`
)

// requireAPIKey guards next with the static HBRAG_API_KEY bearer token.
// An empty key leaves next unguarded; New logs that once at startup.
//
// Refused requests get a JSON error body like every other /api/ask failure
// and count as the "unauthorized" ask outcome. The presented token is never
// logged.
func (s *Server) requireAPIKey(key string, next http.Handler) http.Handler {
	if key == "" {
		return next
	}
	want := []byte(key)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		switch {
		case !ok:
			s.refuse(w, r, challengeMissing, "missing bearer token")
		case subtle.ConstantTimeCompare([]byte(token), want) != 1:
			s.refuse(w, r, challengeInvalid, "invalid bearer token")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// refuse writes a 401 with challenge and records the refusal.
func (s *Server) refuse(w http.ResponseWriter, r *http.Request, challenge, reason string) {
	s.metrics.askRequestsTotal.WithLabelValues(outcomeUnauthorized).Inc()
	logging.FromContext(r.Context()).Warn("ask refused",
		slog.String("outcome", outcomeUnauthorized),
		slog.String("reason", reason),
	)
	w.Header().Set("WWW-Authenticate", challenge)
	writeJSONError(w, reason, http.StatusUnauthorized)
}

// bearerToken parses an "Authorization: Bearer <token>" header value. The
// scheme is case-insensitive; a blank token is treated as absent.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
