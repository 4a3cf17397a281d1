package rag

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors shared by every component of the retrieval core. Callers
// classify failures with errors.Is; components wrap these with context.
var (
	// ErrConfiguration reports invalid parameters detected at construction.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrEmptyCorpus reports that ingestion produced no chunks.
	ErrEmptyCorpus = errors.New("corpus produced no chunks")

	// ErrNotReady reports a question asked before ingestion succeeded.
	ErrNotReady = errors.New("pipeline not ready")

	// ErrAlreadyIngested reports a second ingestion attempt on one pipeline.
	ErrAlreadyIngested = errors.New("pipeline already ingested")

	// ErrProviderUnavailable reports a transient external failure
	// (transport error, timeout, 5xx). Retryable.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrRateLimited reports a provider quota rejection. Retryable.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrInvalidInput reports a request the provider or index can never
	// accept as-is. Not retryable.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDimensionMismatch reports a vector whose length differs from the
	// index dimensionality.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrEmptyIndex reports a search against an index with no entries.
	ErrEmptyIndex = errors.New("index is empty")
)

// IsRetryable reports whether err belongs to the transient provider class.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrRateLimited)
}

// ClassifyStatus maps an HTTP status code returned by an embedding or model
// provider to the matching sentinel error.
func ClassifyStatus(code int) error {
	switch code {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return ErrInvalidInput
	default:
		return ErrProviderUnavailable
	}
}

// ClassifyMessage maps a free-form provider error message to a sentinel
// error. It is used for SDKs that do not surface a status code.
func ClassifyMessage(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "429"),
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "ratelimit"),
		strings.Contains(lower, "quota"),
		strings.Contains(lower, "too many requests"):
		return ErrRateLimited
	default:
		return ErrProviderUnavailable
	}
}

// ValidateTexts rejects empty inputs before they reach a provider.
func ValidateTexts(texts []string) error {
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("text %d is empty: %w", i, ErrInvalidInput)
		}
	}
	return nil
}
