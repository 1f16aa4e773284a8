package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeVerifier struct {
	externalID string
	err        error
	gotKey     string
}

func (v *fakeVerifier) VerifyAPIKey(ctx context.Context, key string) (string, error) {
	v.gotKey = key
	if v.err != nil {
		return "", v.err
	}
	return v.externalID, nil
}

func TestAPIKeyMiddleware_MissingHeaderIs401(t *testing.T) {
	m := NewAPIKeyMiddleware(&fakeVerifier{}, testLogger())
	handler := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run without credentials")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/invoices", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAPIKeyMiddleware_InvalidKeyIs401(t *testing.T) {
	m := NewAPIKeyMiddleware(&fakeVerifier{err: errors.New("invalid API key")}, testLogger())
	handler := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run for an invalid key")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/invoices", nil)
	req.Header.Set("Authorization", "Bearer kt_bogus_bogus")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAPIKeyMiddleware_ValidKeySetsIdentity(t *testing.T) {
	verifier := &fakeVerifier{externalID: "api:key1"}
	m := NewAPIKeyMiddleware(verifier, testLogger())

	var gotIdentity string
	handler := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity = IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/invoices", nil)
	req.Header.Set("Authorization", "Bearer kt_key1_secret")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if verifier.gotKey != "kt_key1_secret" {
		t.Errorf("verifier got key %q", verifier.gotKey)
	}
	if gotIdentity != "api:key1" {
		t.Errorf("identity = %q, want %q", gotIdentity, "api:key1")
	}
}

func TestBearerToken(t *testing.T) {
	testCases := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"normal", "Bearer kt_a_b", "kt_a_b", true},
		{"case-insensitive scheme", "bearer kt_a_b", "kt_a_b", true},
		{"empty", "", "", false},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "", false},
		{"bare scheme", "Bearer", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			got, ok := bearerToken(req)
			if ok != tc.ok || got != tc.want {
				t.Errorf("bearerToken(%q) = (%q, %v), want (%q, %v)", tc.header, got, ok, tc.want, tc.ok)
			}
		})
	}
}
