package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// APIKeyVerifier checks a presented API key and returns the external
// identity it authenticates as. Implemented by the tenant service.
type APIKeyVerifier interface {
	VerifyAPIKey(ctx context.Context, key string) (string, error)
}

// APIKeyMiddleware authenticates REST API requests with bearer API keys.
type APIKeyMiddleware struct {
	verifier APIKeyVerifier
	logger   *slog.Logger
}

// NewAPIKeyMiddleware creates a new API key middleware.
func NewAPIKeyMiddleware(verifier APIKeyVerifier, logger *slog.Logger) *APIKeyMiddleware {
	return &APIKeyMiddleware{
		verifier: verifier,
		logger:   logger,
	}
}

// Authenticate returns middleware that requires a valid
// "Authorization: Bearer kt_<key_id>_<secret>" header and stores the
// authenticated identity on the context for the admission guard.
func (m *APIKeyMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := bearerToken(r)
		if !ok {
			m.unauthorized(w, "missing API key")
			return
		}

		externalID, err := m.verifier.VerifyAPIKey(r.Context(), key)
		if err != nil {
			m.logger.Info("api key rejected", "ip", getClientIP(r), "path", r.URL.Path)
			m.unauthorized(w, "invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), externalID)))
	})
}

func (m *APIKeyMiddleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
