// Package handler contains HTTP handlers for the Karat API and the chat
// webhook.
//
// This file implements the admin provisioning API: organizations, chat
// identity links, plan changes, and API keys. These routes are for the
// operator, not tenants; they authenticate with a shared admin token and
// bypass the admission pipeline.
package handler

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/karat-app/karat/internal/domain"
	"github.com/karat-app/karat/internal/service"
)

// adminTokenHeader carries the shared operator token.
const adminTokenHeader = "X-Admin-Token"

// AdminHandler serves operator provisioning routes.
type AdminHandler struct {
	tenants service.TenantService
	token   string
	logger  *slog.Logger
}

// NewAdminHandler creates a new AdminHandler. An empty token disables the
// admin API entirely.
func NewAdminHandler(tenants service.TenantService, token string, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		tenants: tenants,
		token:   token,
		logger:  logger,
	}
}

// RegisterRoutes registers admin routes on the mux.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /admin/organizations", h.authorize(h.CreateOrganization))
	mux.Handle("PUT /admin/organizations/{id}/plan", h.authorize(h.ChangePlan))
	mux.Handle("POST /admin/organizations/{id}/identities", h.authorize(h.LinkIdentity))
	mux.Handle("POST /admin/organizations/{id}/keys", h.authorize(h.IssueKey))
	mux.Handle("DELETE /admin/keys/{keyID}", h.authorize(h.RevokeKey))
}

// authorize rejects requests without the admin token. A blank configured
// token refuses everything.
func (h *AdminHandler) authorize(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get(adminTokenHeader)
		if h.token == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) != 1 {
			h.logger.Warn("admin token rejected", "path", r.URL.Path)
			writeJSONError(w, http.StatusUnauthorized, domain.EUNAUTHORIZED, "invalid admin token")
			return
		}
		next(w, r)
	})
}

type createOrganizationRequest struct {
	Name string `json:"name"`
	Plan string `json:"plan"`
}

// CreateOrganization handles POST /admin/organizations.
func (h *AdminHandler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req createOrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("admin.create_organization", "malformed JSON body"))
		return
	}

	ref, err := h.tenants.CreateOrganization(r.Context(), req.Name, req.Plan)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":   ref.TenantID,
		"plan": ref.PlanName,
	})
}

type changePlanRequest struct {
	Plan string `json:"plan"`
}

// ChangePlan handles PUT /admin/organizations/{id}/plan.
func (h *AdminHandler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("admin.change_plan", "invalid organization id"))
		return
	}

	var req changePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("admin.change_plan", "malformed JSON body"))
		return
	}

	if err := h.tenants.ChangePlan(r.Context(), orgID, req.Plan); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": orgID.String(), "plan": req.Plan})
}

type linkIdentityRequest struct {
	ExternalID string `json:"external_id"`
}

// LinkIdentity handles POST /admin/organizations/{id}/identities.
func (h *AdminHandler) LinkIdentity(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("admin.link_identity", "invalid organization id"))
		return
	}

	var req linkIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("admin.link_identity", "malformed JSON body"))
		return
	}

	if err := h.tenants.LinkChatIdentity(r.Context(), req.ExternalID, orgID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"org_id":      orgID.String(),
		"external_id": req.ExternalID,
	})
}

type issueKeyRequest struct {
	Label string `json:"label"`
}

// IssueKey handles POST /admin/organizations/{id}/keys. The response is the
// only time the full key is readable.
func (h *AdminHandler) IssueKey(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("admin.issue_key", "invalid organization id"))
		return
	}

	var req issueKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("admin.issue_key", "malformed JSON body"))
		return
	}

	key, err := h.tenants.IssueAPIKey(r.Context(), orgID, req.Label)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}

// RevokeKey handles DELETE /admin/keys/{keyID}.
func (h *AdminHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	keyID := r.PathValue("keyID")
	if keyID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("admin.revoke_key", "key id is required"))
		return
	}

	if err := h.tenants.RevokeAPIKey(r.Context(), keyID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
