package server

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/handbook-rag/internal/logging"
	"github.com/54b3r/handbook-rag/internal/rag"
)

const (
	// defaultRateLimit is the sustained number of questions per second a
	// single client may ask when Config.RateLimit is zero.
	defaultRateLimit = 10
	// defaultRateBurst is the number of questions a client may ask back to
	// back when Config.RateBurst is zero.
	defaultRateBurst = 20
	// bucketIdleTTL is how long an unused client bucket is kept.
	bucketIdleTTL = 5 * time.Minute
	// sweepInterval is how often idle buckets are dropped.
	sweepInterval = time.Minute
)

// clientBucket is the token bucket of one client address.
type clientBucket struct {
	// limiter holds the client's tokens.
	limiter *rate.Limiter
	// seen is the time of the client's last question.
	seen time.Time
}

// askLimiter meters POST /api/ask per client address. Every question costs
// one token; a question that would have to wait for a token is refused
// instead, together with the wait.
type askLimiter struct {
	// mu guards buckets.
	mu sync.Mutex
	// buckets maps a client address to its bucket.
	buckets map[string]*clientBucket
	// rps is the sustained token refill rate per client.
	rps rate.Limit
	// burst is the bucket size per client.
	burst int
}

// newAskLimiter starts an askLimiter and its idle-bucket sweeper. The
// returned function stops the sweeper.
func newAskLimiter(rps float64, burst int) (*askLimiter, func()) {
	l := &askLimiter{
		buckets: make(map[string]*clientBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				l.sweep(now.Add(-bucketIdleTTL))
			}
		}
	}()
	return l, func() { close(done) }
}

// take spends one token of client. When the bucket is empty it returns
// false and the time until a token would be available.
func (l *askLimiter) take(client string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	b, ok := l.buckets[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[client] = b
	}
	b.seen = now
	l.mu.Unlock()

	res := b.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// sweep drops buckets not used since cutoff.
func (l *askLimiter) sweep(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for client, b := range l.buckets {
		if b.seen.Before(cutoff) {
			delete(l.buckets, client)
		}
	}
}

// size reports the number of tracked clients.
func (l *askLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// limitAsk refuses questions beyond the client's budget. A refusal looks
// exactly like a provider-side rate limit: status 429, the rate_limited
// outcome in the ask metrics and a Retry-After header with the real wait.
func (s *Server) limitAsk(l *askLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		ok, wait := l.take(client, time.Now())
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		err := fmt.Errorf("server: client %s is over %g questions/s: %w", client, float64(l.rps), rag.ErrRateLimited)
		outcome := askOutcome(err)
		s.metrics.askRequestsTotal.WithLabelValues(outcome).Inc()
		logging.FromContext(r.Context()).Warn("ask refused",
			slog.String("client", client),
			slog.String("outcome", outcome),
			slog.Duration("retry_after", wait),
		)
		w.Header().Set("Retry-After", retryAfter(wait))
		writeJSONError(w, "too many questions, retry later", statusFor(err))
	})
}

// retryAfter renders d as a Retry-After value in whole seconds, at least 1.
func retryAfter(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// clientIP returns the host part of the request's remote address.
// X-Forwarded-For is ignored: the server binds to localhost by default and
// is not meant to sit behind a proxy that rewrites it.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
