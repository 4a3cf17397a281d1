package commands

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/54b3r/handbook-rag/internal/embedder"
	"github.com/54b3r/handbook-rag/internal/logging"
	"github.com/54b3r/handbook-rag/internal/rag"
)

// maxEmbedRetries bounds the retries of one embed call.
const maxEmbedRetries = 4

// retryingEmbedder retries embed calls that fail with a transient provider
// error (rag.IsRetryable) using exponential backoff. Other errors are
// returned after the first attempt.
type retryingEmbedder struct {
	// inner is the provider-backed embedder.
	inner rag.Embedder
	// newBackOff returns a fresh policy for each call.
	newBackOff func() backoff.BackOff
}

// withRetry wraps inner with the default exponential policy.
func withRetry(inner rag.Embedder) *retryingEmbedder {
	return &retryingEmbedder{
		inner: inner,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = time.Minute
			return backoff.WithMaxRetries(b, maxEmbedRetries)
		},
	}
}

// Model forwards the wrapped embedder's model identity.
func (r *retryingEmbedder) Model() string { return embedder.ModelOf(r.inner) }

// Embed calls the inner embedder, retrying transient failures.
func (r *retryingEmbedder) Embed(ctx context.Context, texts []string) ([]rag.Vector, error) {
	log := logging.FromContext(ctx)

	var out []rag.Vector
	op := func() error {
		vecs, err := r.inner.Embed(ctx, texts)
		if err != nil {
			if !rag.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = vecs
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("embed failed, retrying",
			slog.Any("error", err),
			slog.Duration("backoff", wait),
			slog.Int("texts", len(texts)),
		)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(r.newBackOff(), ctx), notify); err != nil {
		return nil, err //nolint:wrapcheck // classification must pass through unchanged
	}
	return out, nil
}
