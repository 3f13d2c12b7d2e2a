package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVICE API KEY AUTHENTICATION
// ══════════════════════════════════════════════════════════════════════════════

// ServiceKey is a trusted service and the bcrypt hash of its key.
type ServiceKey struct {
	Service string
	Hash    []byte
}

// ParseServiceKeys parses "name=hash" entries. An entry without a name gets
// "service-<n>". Entries that are not bcrypt hashes are skipped and returned
// in invalid.
func ParseServiceKeys(entries []string) (keys []ServiceKey, invalid []string) {
	for i, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, hash, found := strings.Cut(entry, "=")
		if !found {
			name, hash = "", entry
		}
		name = strings.TrimSpace(name)
		if name == "" {
			name = "service-" + strconv.Itoa(i+1)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			invalid = append(invalid, name)
			continue
		}
		keys = append(keys, ServiceKey{Service: name, Hash: []byte(hash)})
	}
	return keys, invalid
}

// APIKeyAuth authenticates trusted services by comparing the presented key
// against stored bcrypt hashes.
type APIKeyAuth struct {
	headerName string
	keys       []ServiceKey
}

// NewAPIKeyAuth creates an authenticator reading the key from headerName.
func NewAPIKeyAuth(headerName string, keys []ServiceKey) *APIKeyAuth {
	if headerName == "" {
		headerName = "X-API-Key"
	}
	return &APIKeyAuth{headerName: headerName, keys: keys}
}

// Verify returns the service owning key.
func (a *APIKeyAuth) Verify(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	for _, k := range a.keys {
		if bcrypt.CompareHashAndPassword(k.Hash, []byte(key)) == nil {
			return k.Service, true
		}
	}
	return "", false
}

// Middleware rejects requests without a valid key and stores the service
// name in the request context.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(a.headerName))
		if key == "" {
			writeError(w, http.StatusUnauthorized, "missing_api_key", "API key is required")
			return
		}

		service, ok := a.Verify(key)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid_api_key", "Invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithService(r.Context(), service)))
	})
}

type serviceKey struct{}

// WithService stores the authenticated service name.
func WithService(ctx context.Context, service string) context.Context {
	return context.WithValue(ctx, serviceKey{}, service)
}

// ServiceFrom returns the authenticated service name, or "".
func ServiceFrom(ctx context.Context) string {
	s, _ := ctx.Value(serviceKey{}).(string)
	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// SECURITY HEADERS
// ══════════════════════════════════════════════════════════════════════════════

// SecurityHeadersMiddleware adds security-related headers. Responses carry
// student data and must not be cached by intermediaries.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST SIZE LIMIT
// ══════════════════════════════════════════════════════════════════════════════

// RequestSizeLimitMiddleware limits the size of request bodies.
func RequestSizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CHAIN
// ══════════════════════════════════════════════════════════════════════════════

// MiddlewareFunc wraps an http.Handler.
type MiddlewareFunc func(http.Handler) http.Handler

// Chain applies middlewares so the first one listed runs first.
func Chain(middlewares ...MiddlewareFunc) MiddlewareFunc {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// helpers
// ─────────────────────────────────────────────────────────────────────────────

// writeError mirrors the server's error envelope for responses produced
// before a request reaches a route.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   map[string]string{"code": code, "message": message},
	})
}
