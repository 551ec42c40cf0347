// Package ratelimit provides the process-wide request quota middleware for
// the order relay. All callers share one quota; rejected requests get 429
// with a Retry-After hint.
package ratelimit

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dskow/order-relay/internal/apierror"
	"github.com/dskow/order-relay/internal/config"
	"github.com/dskow/order-relay/internal/metrics"
)

// GlobalKey is the store key shared by every caller.
const GlobalKey = "global"

// Limiter enforces a quota held in a Store.
type Limiter struct {
	store     Store
	algorithm string
	message   string
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithStore replaces the store chosen from the config algorithm.
func WithStore(s Store) Option {
	return func(l *Limiter) { l.store = s }
}

// WithClock sets the time source. Tests use it to step across windows.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter for cfg. The store is a fixed-window counter unless
// cfg.Algorithm selects the token bucket.
func New(cfg config.RateLimitConfig, logger *slog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		algorithm: cfg.Algorithm,
		message:   cfg.Message,
		logger:    logger,
		now:       time.Now,
	}
	if l.algorithm == "" {
		l.algorithm = config.AlgorithmFixedWindow
	}
	if l.message == "" {
		l.message = apierror.MsgTooManyRequests
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.store == nil {
		if l.algorithm == config.AlgorithmTokenBucket {
			l.store = NewTokenBucket(cfg.Max, cfg.Window)
		} else {
			l.store = NewFixedWindow(cfg.Max, cfg.Window)
		}
	}
	return l
}

// Allow takes one slot from the global quota.
func (l *Limiter) Allow() Decision {
	return l.store.Take(GlobalKey, l.now())
}

// Reset clears all quota state.
func (l *Limiter) Reset() {
	l.store.Reset()
}

// Snapshot reports current quota state.
func (l *Limiter) Snapshot() []Entry {
	return l.store.Snapshot(l.now())
}

// Algorithm returns the configured algorithm name.
func (l *Limiter) Algorithm() string {
	return l.algorithm
}

// Middleware returns an HTTP middleware that enforces the quota.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := l.now()
			d := l.store.Take(GlobalKey, now)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				l.logger.Warn("rate limit exceeded",
					"client_ip", extractIP(r.RemoteAddr),
					"path", r.URL.Path,
					"algorithm", l.algorithm,
				)
				metrics.RateLimitHits.WithLabelValues(l.algorithm).Inc()
				h.Set("Retry-After", strconv.Itoa(retryAfter(d.ResetAt, now)))
				apierror.Write(w, http.StatusTooManyRequests, l.message)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// retryAfter returns whole seconds until reset, at least 1.
func retryAfter(reset, now time.Time) int {
	secs := int(math.Ceil(reset.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
