// Package middleware contains HTTP middleware: admission control, API key
// authentication, request logging, and metrics endpoint protection.
package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/karat-app/karat/internal/admission"
	"github.com/karat-app/karat/internal/domain"
)

type contextKey string

const (
	identityContextKey contextKey = "external_identity"
	tenantContextKey   contextKey = "tenant"
)

// WithIdentity stores the caller's external identity on the context.
func WithIdentity(ctx context.Context, externalID string) context.Context {
	return context.WithValue(ctx, identityContextKey, externalID)
}

// IdentityFromContext returns the external identity set by an upstream
// authentication middleware, or "".
func IdentityFromContext(ctx context.Context) string {
	id, _ := ctx.Value(identityContextKey).(string)
	return id
}

// WithTenant stores a resolved tenant on the context. The admission guard
// does this for every admitted request.
func WithTenant(ctx context.Context, tenant domain.TenantRef) context.Context {
	return context.WithValue(ctx, tenantContextKey, tenant)
}

// TenantFromContext returns the tenant the admission guard resolved.
func TenantFromContext(ctx context.Context) (domain.TenantRef, bool) {
	tenant, ok := ctx.Value(tenantContextKey).(domain.TenantRef)
	return tenant, ok
}

// AdmissionMiddleware runs the admission pipeline in front of handlers.
type AdmissionMiddleware struct {
	pipeline *admission.Pipeline
	logger   *slog.Logger
}

// NewAdmissionMiddleware creates a new admission middleware.
func NewAdmissionMiddleware(pipeline *admission.Pipeline, logger *slog.Logger) *AdmissionMiddleware {
	return &AdmissionMiddleware{
		pipeline: pipeline,
		logger:   logger,
	}
}

// Guard returns middleware that evaluates the given action for every
// request. Denials are written as JSON with a status derived from the
// verdict code; allowed requests proceed with the resolved tenant on the
// context.
func (m *AdmissionMiddleware) Guard(action admission.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			externalID := IdentityFromContext(r.Context())

			result := m.pipeline.Evaluate(r.Context(), externalID, action)
			if !result.Verdict.Allow {
				m.logger.Info("request denied",
					"external_id", externalID,
					"action", action.Kind,
					"code", result.Verdict.Code,
					"reason", result.Verdict.Reason,
				)
				writeVerdict(w, result.Verdict)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), result.Tenant)))
		})
	}
}

// writeVerdict maps a deny verdict onto an HTTP response.
func writeVerdict(w http.ResponseWriter, verdict domain.Verdict) {
	status := http.StatusForbidden
	switch verdict.Code {
	case domain.ERATELIMIT:
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", strconv.Itoa(secondsToNextMinute(time.Now())))
	case domain.EPAYMENT:
		status = http.StatusPaymentRequired
	case domain.EUNAUTHORIZED:
		status = http.StatusUnauthorized
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   verdict.Code,
		"message": verdict.Reason,
	})
}

// secondsToNextMinute is the Retry-After hint for minute-window denials;
// the finest window is the soonest a denied caller can be admitted again.
func secondsToNextMinute(now time.Time) int {
	seconds := 60 - now.Second()
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
