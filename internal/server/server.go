// Package server assembles the relay's HTTP surface: the order lookup route
// behind its access control chain, plus the operational endpoints.
//
// Middleware order for GET /order/{orderId}:
//
//	Recovery → RequestID → SecurityHeaders → Logging → Instrument →
//	CORS headers (preflight) → Auth → RateLimit → Origin check → lookup
package server

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dskow/order-relay/internal/admin"
	"github.com/dskow/order-relay/internal/apierror"
	"github.com/dskow/order-relay/internal/auth"
	"github.com/dskow/order-relay/internal/config"
	"github.com/dskow/order-relay/internal/health"
	"github.com/dskow/order-relay/internal/metrics"
	"github.com/dskow/order-relay/internal/middleware"
	"github.com/dskow/order-relay/internal/orders"
	"github.com/dskow/order-relay/internal/ratelimit"
)

// OrderRoute is the chi pattern of the lookup endpoint.
const OrderRoute = "/order/{orderId}"

// Upstream is the order source the relay fronts.
type Upstream interface {
	orders.Looker
	// HostPort is dialled by the readiness probe.
	HostPort() string
}

// Option configures a Server.
type Option func(*Server)

// WithDialer replaces the readiness probe's dialer.
func WithDialer(dial health.DialFunc) Option {
	return func(s *Server) { s.dial = dial }
}

// Server owns the relay router.
type Server struct {
	cfg      *config.Config
	upstream Upstream
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	dial     health.DialFunc
	handler  http.Handler
}

// New builds the router for cfg. The limiter is passed in so callers (and
// tests) can reset or inspect the quota.
func New(cfg *config.Config, up Upstream, limiter *ratelimit.Limiter, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{cfg: cfg, upstream: up, limiter: limiter, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	// Spans start as "order-relay"; Instrument renames them to the matched
	// route once routing is done.
	s.handler = otelhttp.NewHandler(s.routes(), "order-relay")
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.SecurityHeaders(),
		middleware.Logging(s.logger),
		middleware.Instrument,
	)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apierror.Write(w, apierror.StatusFor(apierror.RouteNotFound), http.StatusText(http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Allow", "GET, OPTIONS")
		apierror.Write(w, apierror.StatusFor(apierror.BadMethod), http.StatusText(http.StatusMethodNotAllowed))
	})

	cors := middleware.NewCORSPolicy(s.cfg.CORS, s.logger)
	lookup := orders.NewHandler(s.upstream, s.cfg.Server.InternalErrorsExposed(), s.logger)

	r.Group(func(r chi.Router) {
		r.Use(cors.Headers())
		// Preflights are answered by the CORS middleware.
		r.Options(OrderRoute, func(http.ResponseWriter, *http.Request) {})

		r.Group(func(r chi.Router) {
			r.Use(
				auth.Middleware(s.cfg.Auth, s.logger),
				s.limiter.Middleware(),
				cors.Enforce(),
			)
			r.Method(http.MethodGet, OrderRoute, lookup)
		})
	})

	health.New(s.upstream.HostPort(), s.dial, s.logger).RegisterRoutes(r)

	if s.cfg.Metrics.IsEnabled() {
		r.Method(http.MethodGet, s.cfg.Metrics.Path, metrics.Handler())
	}
	if s.cfg.Admin.Enabled {
		admin.New(s.cfg, s.limiter, s.cfg.Admin.IPAllowlist, s.logger).RegisterRoutes(r)
	}
	return r
}

// Handler returns the relay's root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// HTTPServer returns an http.Server for the configured port. tlsConfig may
// be nil for plain HTTP.
func (s *Server) HTTPServer(tlsConfig *tls.Config) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.handler,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: s.cfg.Server.ReadTimeout,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
}
