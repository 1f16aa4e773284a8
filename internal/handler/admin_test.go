package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/karat-app/karat/internal/domain"
)

// fakeTenantService records calls for admin handler tests.
type fakeTenantService struct {
	ref *domain.TenantRef
	key string
	err error

	createdName  string
	createdPlan  string
	changedPlan  string
	linkedID     string
	revokedKeyID string
	issuedOrgID  uuid.UUID
	issuedLabel  string
	changedOrgID uuid.UUID
	linkedOrgID  uuid.UUID
}

func (f *fakeTenantService) ResolveTenant(ctx context.Context, externalID string) (domain.TenantRef, error) {
	return domain.TenantRef{}, f.err
}

func (f *fakeTenantService) CreateOrganization(ctx context.Context, name, plan string) (*domain.TenantRef, error) {
	f.createdName, f.createdPlan = name, plan
	if f.err != nil {
		return nil, f.err
	}
	return f.ref, nil
}

func (f *fakeTenantService) LinkChatIdentity(ctx context.Context, externalID string, orgID uuid.UUID) error {
	f.linkedID, f.linkedOrgID = externalID, orgID
	return f.err
}

func (f *fakeTenantService) ChangePlan(ctx context.Context, orgID uuid.UUID, plan string) error {
	f.changedOrgID, f.changedPlan = orgID, plan
	return f.err
}

func (f *fakeTenantService) IssueAPIKey(ctx context.Context, orgID uuid.UUID, label string) (string, error) {
	f.issuedOrgID, f.issuedLabel = orgID, label
	if f.err != nil {
		return "", f.err
	}
	return f.key, nil
}

func (f *fakeTenantService) VerifyAPIKey(ctx context.Context, key string) (string, error) {
	return "", f.err
}

func (f *fakeTenantService) RevokeAPIKey(ctx context.Context, keyID string) error {
	f.revokedKeyID = keyID
	return f.err
}

const testAdminToken = "test-admin-token"

func serveAdmin(t *testing.T, svc *fakeTenantService, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	h := NewAdminHandler(svc, testAdminToken, testLogger())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestAdminHandler_MissingTokenIs401(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/admin/organizations",
		strings.NewReader(`{"name":"Goldsmith & Co","plan":"pro"}`))
	rec := serveAdmin(t, &fakeTenantService{}, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAdminHandler_EmptyConfiguredTokenRefusesEverything(t *testing.T) {
	h := NewAdminHandler(&fakeTenantService{}, "", testLogger())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/admin/organizations",
		strings.NewReader(`{"name":"x","plan":"basic"}`))
	req.Header.Set(adminTokenHeader, "")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAdminHandler_CreateOrganization(t *testing.T) {
	svc := &fakeTenantService{ref: &domain.TenantRef{TenantID: uuid.NewString(), PlanName: "pro"}}

	req := httptest.NewRequest(http.MethodPost, "/admin/organizations",
		strings.NewReader(`{"name":"Goldsmith & Co","plan":"pro"}`))
	req.Header.Set(adminTokenHeader, testAdminToken)
	rec := serveAdmin(t, svc, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if svc.createdName != "Goldsmith & Co" || svc.createdPlan != "pro" {
		t.Errorf("create called with %q/%q", svc.createdName, svc.createdPlan)
	}
}

func TestAdminHandler_ChangePlan(t *testing.T) {
	svc := &fakeTenantService{}
	orgID := uuid.New()

	req := httptest.NewRequest(http.MethodPut, "/admin/organizations/"+orgID.String()+"/plan",
		strings.NewReader(`{"plan":"enterprise"}`))
	req.Header.Set(adminTokenHeader, testAdminToken)
	rec := serveAdmin(t, svc, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if svc.changedOrgID != orgID || svc.changedPlan != "enterprise" {
		t.Errorf("change called with %s/%q", svc.changedOrgID, svc.changedPlan)
	}
}

func TestAdminHandler_IssueKeyReturnsFullKey(t *testing.T) {
	svc := &fakeTenantService{key: "kt_abcd1234_secret"}
	orgID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/admin/organizations/"+orgID.String()+"/keys",
		strings.NewReader(`{"label":"pos-terminal"}`))
	req.Header.Set(adminTokenHeader, testAdminToken)
	rec := serveAdmin(t, svc, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("bad response JSON: %v", err)
	}
	if resp["key"] != "kt_abcd1234_secret" {
		t.Errorf("key = %q", resp["key"])
	}
	if svc.issuedLabel != "pos-terminal" {
		t.Errorf("label = %q", svc.issuedLabel)
	}
}

func TestAdminHandler_RevokeKey(t *testing.T) {
	svc := &fakeTenantService{}

	req := httptest.NewRequest(http.MethodDelete, "/admin/keys/abcd1234", nil)
	req.Header.Set(adminTokenHeader, testAdminToken)
	rec := serveAdmin(t, svc, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204: %s", rec.Code, rec.Body.String())
	}
	if svc.revokedKeyID != "abcd1234" {
		t.Errorf("revoked key = %q", svc.revokedKeyID)
	}
}

func TestAdminHandler_LinkIdentity(t *testing.T) {
	svc := &fakeTenantService{}
	orgID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/admin/organizations/"+orgID.String()+"/identities",
		strings.NewReader(`{"external_id":"chat:42"}`))
	req.Header.Set(adminTokenHeader, testAdminToken)
	rec := serveAdmin(t, svc, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if svc.linkedID != "chat:42" || svc.linkedOrgID != orgID {
		t.Errorf("link called with %q/%s", svc.linkedID, svc.linkedOrgID)
	}
}
