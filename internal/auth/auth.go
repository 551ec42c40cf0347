// Package auth provides caller authentication middleware for the order relay.
// A request is admitted when it carries the shared API key, or, when enabled,
// a valid HS256 bearer token.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dskow/order-relay/internal/apierror"
	"github.com/dskow/order-relay/internal/config"
	"github.com/dskow/order-relay/internal/metrics"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

// ClaimsKey is the context key used to store validated JWT claims.
const ClaimsKey contextKey = "jwt_claims"

// Claims represents the validated JWT claims injected into the request context.
type Claims struct {
	Subject  string   `json:"sub"`
	Issuer   string   `json:"iss"`
	Audience string   `json:"aud"`
	Scopes   []string `json:"scopes"`
}

// Failure reasons used as metrics labels.
const (
	reasonMissingKey   = "missing_key"
	reasonInvalidKey   = "invalid_key"
	reasonInvalidToken = "invalid_token"
	reasonScope        = "insufficient_scope"
)

// Middleware returns an HTTP middleware that rejects callers without valid
// credentials with 403 and the fixed "Forbidden: Invalid API Key" body. The
// presented key is never logged.
func Middleware(cfg config.AuthConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	header := cfg.Header
	if header == "" {
		header = "x-api-key"
	}
	expected := []byte(cfg.APIKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := r.Header.Get(header); key != "" {
				if len(expected) > 0 && subtle.ConstantTimeCompare([]byte(key), expected) == 1 {
					next.ServeHTTP(w, r)
					return
				}
				deny(w, r, logger, reasonInvalidKey)
				return
			}

			if cfg.JWT.Enabled {
				if tokenStr, ok := extractBearerToken(r); ok {
					claims, err := validateToken(tokenStr, cfg.JWT)
					if err != nil {
						logger.Warn("bearer token rejected", "error", err, "path", r.URL.Path)
						reason := reasonInvalidToken
						if isScopeError(err) {
							reason = reasonScope
						}
						deny(w, r, logger, reason)
						return
					}
					ctx := context.WithValue(r.Context(), ClaimsKey, claims)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			deny(w, r, logger, reasonMissingKey)
		})
	}
}

func deny(w http.ResponseWriter, r *http.Request, logger *slog.Logger, reason string) {
	metrics.AuthFailures.WithLabelValues(reason).Inc()
	logger.Info("auth denied", "reason", reason, "path", r.URL.Path)
	apierror.Write(w, http.StatusForbidden, apierror.MsgForbidden)
}

func extractBearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func validateToken(tokenStr string, cfg config.JWTConfig) (*Claims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	claims := &Claims{}
	if sub, ok := mapClaims["sub"].(string); ok {
		claims.Subject = sub
	}
	if iss, ok := mapClaims["iss"].(string); ok {
		claims.Issuer = iss
	}

	// aud may be a string or a list
	switch aud := mapClaims["aud"].(type) {
	case string:
		claims.Audience = aud
	case []interface{}:
		if len(aud) > 0 {
			if s, ok := aud[0].(string); ok {
				claims.Audience = s
			}
		}
	}

	// OAuth2 scopes are space-separated
	if scopeStr, ok := mapClaims["scope"].(string); ok {
		claims.Scopes = strings.Fields(scopeStr)
	}

	if len(cfg.Scopes) > 0 {
		scopeSet := make(map[string]bool, len(claims.Scopes))
		for _, s := range claims.Scopes {
			scopeSet[s] = true
		}
		for _, required := range cfg.Scopes {
			if !scopeSet[required] {
				return nil, &ScopeError{MissingScope: required}
			}
		}
	}

	return claims, nil
}

// ScopeError indicates the token is valid but lacks required scopes.
type ScopeError struct {
	MissingScope string
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("missing required scope: %s", e.MissingScope)
}

func isScopeError(err error) bool {
	var se *ScopeError
	return errors.As(err, &se)
}
