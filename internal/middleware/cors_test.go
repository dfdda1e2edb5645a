package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serveCORS(origins []string, method, origin string) *httptest.ResponseRecorder {
	cfg := DefaultCORSConfig()
	cfg.AllowedOrigins = origins

	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(method, "/api/credit/add", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		origins    []string
		origin     string
		method     string
		wantStatus int
		wantOrigin string
	}{
		{"no origins configured", nil, "https://example.com", http.MethodGet, http.StatusOK, ""},
		{"exact origin", []string{"https://example.com"}, "https://example.com", http.MethodGet, http.StatusOK, "https://example.com"},
		{"case insensitive", []string{"HTTPS://EXAMPLE.COM"}, "https://example.com", http.MethodGet, http.StatusOK, "https://example.com"},
		{"preflight allowed", []string{"https://example.com"}, "https://example.com", http.MethodOptions, http.StatusNoContent, "https://example.com"},
		{"preflight denied", []string{"https://example.com"}, "https://evil.com", http.MethodOptions, http.StatusForbidden, ""},
		{"wildcard subdomain", []string{"*.stayawake.dev"}, "https://app.stayawake.dev", http.MethodGet, http.StatusOK, "https://app.stayawake.dev"},
		{"wildcard with port", []string{"*.stayawake.dev"}, "http://app.stayawake.dev:3000", http.MethodGet, http.StatusOK, "http://app.stayawake.dev:3000"},
		{"wildcard lookalike", []string{"*.stayawake.dev"}, "https://evilstayawake.dev", http.MethodGet, http.StatusOK, ""},
		{"wildcard bare domain", []string{"*.stayawake.dev"}, "https://stayawake.dev", http.MethodGet, http.StatusOK, ""},
		{"no origin header", []string{"https://example.com"}, "", http.MethodGet, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serveCORS(tt.origins, tt.method, tt.origin)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
		})
	}
}

func TestCORS_PreflightHeaders(t *testing.T) {
	rec := serveCORS([]string{"https://example.com"}, http.MethodOptions, "https://example.com")

	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, http.MethodDelete) {
		t.Errorf("Access-Control-Allow-Methods = %q, want DELETE allowed", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "Idempotency-Key") {
		t.Errorf("Access-Control-Allow-Headers = %q, want Idempotency-Key allowed", got)
	}
	if got := rec.Header().Get("Access-Control-Max-Age"); got != "86400" {
		t.Errorf("Access-Control-Max-Age = %q, want 86400", got)
	}
	if got := rec.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(got, "Retry-After") {
		t.Errorf("Access-Control-Expose-Headers = %q, want Retry-After exposed", got)
	}
	if rec.Header().Get("Vary") != "Origin" {
		t.Error("Vary: Origin not set")
	}
}
