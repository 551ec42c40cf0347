package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dskow/order-relay/internal/apierror"
	"github.com/dskow/order-relay/internal/config"
	"github.com/dskow/order-relay/internal/metrics"
)

var (
	corsMethods       = strings.Join([]string{http.MethodGet, http.MethodOptions}, ", ")
	corsHeaders       = strings.Join([]string{"x-api-key", "Authorization", "Content-Type", "X-Request-ID"}, ", ")
	corsExposeHeaders = strings.Join([]string{
		"X-Request-ID",
		"X-RateLimit-Limit",
		"X-RateLimit-Remaining",
		"X-RateLimit-Reset",
		"Retry-After",
	}, ", ")
)

// CORSPolicy applies the configured origin policy. It is split in two
// middlewares: Headers runs outermost so that preflights are answered and
// every response, including auth and quota rejections, carries the
// cross-origin headers; Enforce runs next to the handler and rejects
// unlisted origins in strict mode.
type CORSPolicy struct {
	permissive bool
	origins    map[string]bool
	maxAge     string
	logger     *slog.Logger
}

// NewCORSPolicy builds a policy from cfg.
func NewCORSPolicy(cfg config.CORSConfig, logger *slog.Logger) *CORSPolicy {
	p := &CORSPolicy{
		permissive: cfg.Mode == config.CORSPermissive,
		origins:    make(map[string]bool, len(cfg.AllowedOrigins)),
		logger:     logger,
	}
	for _, o := range cfg.AllowedOrigins {
		p.origins[strings.TrimRight(o, "/")] = true
	}
	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	}
	return p
}

// Allowed reports whether origin may use the relay. Requests without an
// Origin header come from non-browser callers and are always allowed.
func (p *CORSPolicy) Allowed(origin string) bool {
	if origin == "" || p.permissive {
		return true
	}
	return p.origins[origin]
}

// Headers sets cross-origin response headers and answers preflight
// requests with 204. Preflights from unlisted origins get 403.
func (p *CORSPolicy) Headers() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := p.Allowed(origin)

			if origin != "" {
				h := w.Header()
				if p.permissive {
					h.Set("Access-Control-Allow-Origin", "*")
				} else {
					h.Add("Vary", "Origin")
					if allowed {
						h.Set("Access-Control-Allow-Origin", origin)
					}
				}
				if allowed {
					h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
				}
			}

			if r.Method == http.MethodOptions {
				if !allowed {
					p.deny(w, r, origin)
					return
				}
				if origin != "" {
					h := w.Header()
					h.Set("Access-Control-Allow-Methods", corsMethods)
					h.Set("Access-Control-Allow-Headers", corsHeaders)
					if p.maxAge != "" {
						h.Set("Access-Control-Max-Age", p.maxAge)
					}
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Enforce rejects requests from origins the policy does not allow.
func (p *CORSPolicy) Enforce() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); !p.Allowed(origin) {
				p.deny(w, r, origin)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (p *CORSPolicy) deny(w http.ResponseWriter, r *http.Request, origin string) {
	metrics.OriginDenials.Inc()
	p.logger.Warn("origin denied",
		"origin", origin,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", GetRequestID(r.Context()),
	)
	apierror.Write(w, http.StatusForbidden, apierror.MsgOriginDenied)
}
