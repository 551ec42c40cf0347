package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/dskow/order-relay/internal/apierror"
)

// Recovery returns middleware that recovers from panics, logs the stack trace,
// and returns a 500 JSON error response.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.Error("panic recovered",
						"error", err,
						"stack", string(debug.Stack()),
						"method", r.Method,
						"path", r.URL.Path,
						"error_code", apierror.InternalError,
						"request_id", GetRequestID(r.Context()),
					)
					apierror.Write(w, http.StatusInternalServerError, apierror.MsgInternal)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
