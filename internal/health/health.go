// Package health provides health check and readiness probe HTTP handlers.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pre-serialized liveness response avoids json.Encoder allocation.
var livenessBody = []byte(`{"status":"ok"}`)

const (
	readinessCacheTTL = 5 * time.Second
	dialTimeout       = 2 * time.Second
)

// DialFunc opens a connection; net.Dialer.DialContext in production.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Handler provides /health and /ready endpoints. Readiness means the
// upstream host accepts TCP connections.
type Handler struct {
	upstream string
	dial     DialFunc
	logger   *slog.Logger

	// Cached readiness result to avoid dialling the upstream on every
	// /ready poll. Protected by cacheMu.
	cacheMu      sync.RWMutex
	cachedResult []byte
	cachedStatus int
	cachedAt     time.Time
}

// New creates a health Handler probing upstream (host:port). dial may be nil.
func New(upstream string, dial DialFunc, logger *slog.Logger) *Handler {
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	return &Handler{upstream: upstream, dial: dial, logger: logger}
}

// RegisterRoutes adds health check routes to the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.liveness)
	r.Get("/ready", h.readiness)
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(livenessBody)
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	// Serve from cache if fresh.
	h.cacheMu.RLock()
	if h.cachedResult != nil && time.Since(h.cachedAt) < readinessCacheTTL {
		body := h.cachedResult
		status := h.cachedStatus
		h.cacheMu.RUnlock()
		writeBody(w, status, body)
		return
	}
	h.cacheMu.RUnlock()

	upstreamStatus := "ok"
	httpStatus := http.StatusOK
	statusStr := "ready"

	ctx, cancel := context.WithTimeout(r.Context(), dialTimeout)
	conn, err := h.dial(ctx, "tcp", h.upstream)
	cancel()
	if err != nil {
		h.logger.Warn("upstream unreachable", "upstream", h.upstream, "error", err)
		upstreamStatus = "unreachable"
		httpStatus = http.StatusServiceUnavailable
		statusStr = "not ready"
	} else {
		conn.Close()
	}

	body, _ := json.Marshal(map[string]string{
		"status":   statusStr,
		"upstream": upstreamStatus,
	})

	h.cacheMu.Lock()
	h.cachedResult = body
	h.cachedStatus = httpStatus
	h.cachedAt = time.Now()
	h.cacheMu.Unlock()

	writeBody(w, httpStatus, body)
}

func writeBody(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
