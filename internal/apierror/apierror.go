// Package apierror provides the single error response format of the order
// relay. Every rejection, whether from middleware or the lookup handler, is
// written as {"error": "<message>"} through Write.
package apierror

import (
	"encoding/json"
	"net/http"
)

// ErrorCode is a machine-readable error classification string. Codes are
// used as metrics labels and log attributes; they are not part of the
// response body.
type ErrorCode string

// Relay error classes.
const (
	AuthDenied    ErrorCode = "AUTH_DENIED"
	RateLimited   ErrorCode = "RATE_LIMITED"
	OriginDenied  ErrorCode = "ORIGIN_DENIED"
	NotFound      ErrorCode = "NOT_FOUND"
	UpstreamError ErrorCode = "UPSTREAM_ERROR"
	Timeout       ErrorCode = "TIMEOUT"
	InternalError ErrorCode = "INTERNAL_ERROR"
	RouteNotFound ErrorCode = "ROUTE_NOT_FOUND"
	BadMethod     ErrorCode = "METHOD_NOT_ALLOWED"
	BadRequest    ErrorCode = "BAD_REQUEST"
)

// Fixed caller-facing messages.
const (
	MsgForbidden       = "Forbidden: Invalid API Key"
	MsgOrderNotFound   = "Order not found"
	MsgTimedOut        = "Request timed out. Try again later."
	MsgTooManyRequests = "Too many requests, please try again later."
	MsgOriginDenied    = "Not allowed by CORS"
	MsgInternal        = "Internal Server Error"
)

// ErrorResponse is the relay error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Pre-serialized JSON bodies for the fixed messages. Avoids json.Encoder
// allocation on every rejection in the hot path.
var preSerializedBodies = map[string][]byte{
	MsgForbidden:       mustMarshal(MsgForbidden),
	MsgOrderNotFound:   mustMarshal(MsgOrderNotFound),
	MsgTimedOut:        mustMarshal(MsgTimedOut),
	MsgTooManyRequests: mustMarshal(MsgTooManyRequests),
	MsgOriginDenied:    mustMarshal(MsgOriginDenied),
	MsgInternal:        mustMarshal(MsgInternal),
}

func mustMarshal(message string) []byte {
	b, _ := json.Marshal(ErrorResponse{Error: message})
	return b
}

// Body returns the serialized error body for message.
func Body(message string) []byte {
	if b, ok := preSerializedBodies[message]; ok {
		return b
	}
	return mustMarshal(message)
}

// Write writes a JSON error response with the given status and message.
func Write(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(Body(message)) //nolint:errcheck
}

// StatusFor returns the default HTTP status for an error class. Upstream
// errors carry their own status and map to 502 only when none is known.
func StatusFor(code ErrorCode) int {
	switch code {
	case AuthDenied, OriginDenied:
		return http.StatusForbidden
	case RateLimited:
		return http.StatusTooManyRequests
	case NotFound, RouteNotFound:
		return http.StatusNotFound
	case BadMethod:
		return http.StatusMethodNotAllowed
	case BadRequest:
		return http.StatusBadRequest
	case Timeout:
		return http.StatusGatewayTimeout
	case UpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
