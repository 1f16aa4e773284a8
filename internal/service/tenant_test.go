package service

import (
	"context"
	"testing"

	"github.com/karat-app/karat/internal/domain"
)

// Malformed keys must be rejected before any database work happens, so
// these cases run against a service with no backing store.
func TestVerifyAPIKey_RejectsMalformedKeys(t *testing.T) {
	svc := &tenantService{logger: testLogger()}

	testCases := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"wrong prefix", "sk_abc123_secret"},
		{"missing secret", "kt_abc123"},
		{"missing key id", "kt__secret"},
		{"empty secret", "kt_abc123_"},
		{"bare prefix", "kt"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.VerifyAPIKey(context.Background(), tc.key)
			if err == nil {
				t.Fatal("expected an error for a malformed key")
			}
			if domain.ErrorCode(err) != domain.EUNAUTHORIZED {
				t.Errorf("code = %q, want %q", domain.ErrorCode(err), domain.EUNAUTHORIZED)
			}
		})
	}
}

func TestRandomToken_LengthAndUniqueness(t *testing.T) {
	a, err := randomToken(8)
	if err != nil {
		t.Fatalf("randomToken failed: %v", err)
	}
	b, err := randomToken(8)
	if err != nil {
		t.Fatalf("randomToken failed: %v", err)
	}

	if len(a) != 16 {
		t.Errorf("expected 16 hex chars for 8 bytes, got %d", len(a))
	}
	if a == b {
		t.Error("two tokens should not collide")
	}
}
