// Package orders serves the single-order lookup endpoint. It is the one
// place where lookup failures are translated into HTTP responses.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/dskow/order-relay/internal/apierror"
	"github.com/dskow/order-relay/internal/middleware"
	"github.com/dskow/order-relay/internal/upstream"
)

// Looker fetches one order's JSON object.
type Looker interface {
	Lookup(ctx context.Context, orderID string) (json.RawMessage, error)
}

// Handler serves GET /order/{orderId}.
type Handler struct {
	orders         Looker
	exposeInternal bool
	logger         *slog.Logger
}

// NewHandler creates a Handler. When exposeInternal is false, transport and
// decode error text is replaced by a generic message in 500 responses.
func NewHandler(orders Looker, exposeInternal bool, logger *slog.Logger) *Handler {
	return &Handler{orders: orders, exposeInternal: exposeInternal, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	orderID, err := decodeParam(r, "orderId")
	if err != nil {
		h.logger.Info("order lookup rejected",
			"error_code", apierror.BadRequest,
			"status", http.StatusBadRequest,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		apierror.Write(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	order, err := h.orders.Lookup(r.Context(), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(order) //nolint:errcheck
}

// decodeParam returns the decoded path parameter. chi matches on
// URL.RawPath when the request used a non-canonical escape, in which case
// the parameter is still percent-encoded; otherwise it was decoded already.
func decodeParam(r *http.Request, name string) (string, error) {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return v, nil
	}
	return url.PathUnescape(v)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := h.classify(err)

	attrs := []any{
		"error_code", code,
		"status", status,
		"request_id", middleware.GetRequestID(r.Context()),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("order lookup failed", append(attrs, "error", err)...)
	} else {
		h.logger.Info("order lookup rejected", attrs...)
	}

	apierror.Write(w, status, msg)
}

// classify maps a lookup error to its HTTP status, error class and message.
func (h *Handler) classify(err error) (int, apierror.ErrorCode, string) {
	var se *upstream.StatusError
	switch {
	case errors.Is(err, upstream.ErrNotFound):
		return http.StatusNotFound, apierror.NotFound, apierror.MsgOrderNotFound
	case errors.Is(err, upstream.ErrTimeout):
		return http.StatusGatewayTimeout, apierror.Timeout, apierror.MsgTimedOut
	case errors.As(err, &se):
		return se.Code, apierror.UpstreamError, se.Error()
	default:
		msg := apierror.MsgInternal
		if h.exposeInternal {
			msg = err.Error()
		}
		return http.StatusInternalServerError, apierror.InternalError, msg
	}
}
