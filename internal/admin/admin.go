// Package admin provides read-only admin API endpoints for runtime inspection
// of relay state. All endpoints are protected by IP allowlist.
package admin

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dskow/order-relay/internal/apierror"
	"github.com/dskow/order-relay/internal/config"
	"github.com/dskow/order-relay/internal/ratelimit"
)

const redacted = "***"

// LimiterInspector exposes rate-limit state.
type LimiterInspector interface {
	Snapshot() []ratelimit.Entry
	Algorithm() string
}

// Handler provides admin API endpoints.
type Handler struct {
	cfg         *config.Config
	limiter     LimiterInspector
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// New creates a new admin Handler. The allowlist CIDRs must be pre-validated
// (config validation ensures this).
func New(cfg *config.Config, limiter LimiterInspector, allowlist []string, logger *slog.Logger) *Handler {
	nets := make([]*net.IPNet, 0, len(allowlist))
	for _, cidr := range allowlist {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // already validated by config
		}
		nets = append(nets, ipNet)
	}
	return &Handler{
		cfg:         cfg,
		limiter:     limiter,
		allowedNets: nets,
		logger:      logger,
	}
}

// RegisterRoutes mounts the admin endpoints under /admin.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(h.guard)
		r.Get("/config", h.configHandler)
		r.Get("/limiter", h.limiterHandler)
	})
}

// guard rejects callers outside the allowlist.
func (h *Handler) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.Warn("admin access denied", "client_ip", ip, "path", r.URL.Path)
			apierror.Write(w, http.StatusForbidden, http.StatusText(http.StatusForbidden))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func (h *Handler) configHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Redact(h.cfg))
}

// Redact returns a copy of cfg with every secret replaced.
func Redact(cfg *config.Config) config.Config {
	out := *cfg
	if out.Auth.APIKey != "" {
		out.Auth.APIKey = redacted
	}
	if out.Auth.JWT.Secret != "" {
		out.Auth.JWT.Secret = redacted
	}
	if out.Upstream.AccessToken != "" {
		out.Upstream.AccessToken = redacted
	}
	return out
}

func (h *Handler) limiterHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"algorithm": h.limiter.Algorithm(),
		"entries":   h.limiter.Snapshot(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
