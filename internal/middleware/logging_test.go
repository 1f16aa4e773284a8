package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSanitizePath(t *testing.T) {
	testCases := []struct {
		name     string
		path     string
		rawQuery string
		want     string
	}{
		{"no query", "/api/invoices", "", "/api/invoices"},
		{"plain query", "/api/invoices", "limit=10", "/api/invoices?limit=10"},
		{"redacts api_key", "/api/invoices", "api_key=kt_a_b", "/api/invoices?api_key=[REDACTED]"},
		{"redacts token case-insensitively", "/webhook/chat", "Token=abc", "/webhook/chat?Token=[REDACTED]"},
		{"mixed", "/api/invoices", "limit=10&secret=x", "/api/invoices?limit=10&secret=[REDACTED]"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sanitizePath(tc.path, tc.rawQuery); got != tc.want {
				t.Errorf("sanitizePath(%q, %q) = %q, want %q", tc.path, tc.rawQuery, got, tc.want)
			}
		})
	}
}

func TestGetClientIP(t *testing.T) {
	testCases := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "10.0.0.1:1234", nil, "10.0.0.1"},
		{"x-forwarded-for single", "10.0.0.1:1234", map[string]string{"X-Forwarded-For": "203.0.113.9"}, "203.0.113.9"},
		{"x-forwarded-for chain", "10.0.0.1:1234", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.2"}, "203.0.113.9"},
		{"x-real-ip", "10.0.0.1:1234", map[string]string{"X-Real-IP": "198.51.100.7"}, "198.51.100.7"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := getClientIP(req); got != tc.want {
				t.Errorf("getClientIP() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRequestLogging_PassesThrough(t *testing.T) {
	m := NewRequestLoggingMiddleware(testLogger())
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/invoices", nil))

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
}
