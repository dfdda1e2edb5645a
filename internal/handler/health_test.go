package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func pingOK() Pinger { return pingerFunc(func(context.Context) error { return nil }) }

func pingErr(msg string) Pinger {
	return pingerFunc(func(context.Context) error { return errors.New(msg) })
}

func decodeHealth(t *testing.T, rec *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	return resp
}

func TestHealthHandler_Healthz(t *testing.T) {
	// Liveness never touches dependencies.
	h := NewHealthHandler(pingErr("down"), "postgres", pingErr("down"))

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if resp := decodeHealth(t, rec); resp.Status != "ok" || len(resp.Checks) != 0 {
		t.Errorf("unexpected liveness body %+v", resp)
	}
}

func TestHealthHandler_Readyz(t *testing.T) {
	tests := []struct {
		name       string
		store      Pinger
		cache      Pinger
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "all healthy",
			store:      pingOK(),
			cache:      pingOK(),
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"postgres": "ok", "redis": "ok"},
		},
		{
			name:       "store down",
			store:      pingErr("connection refused"),
			cache:      pingOK(),
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantChecks: map[string]string{"postgres": "error: connection refused", "redis": "ok"},
		},
		{
			name:       "redis down degrades",
			store:      pingOK(),
			cache:      pingErr("timeout"),
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantChecks: map[string]string{"postgres": "ok", "redis": "error: timeout"},
		},
		{
			name:       "both down stays unhealthy",
			store:      pingErr("refused"),
			cache:      pingErr("timeout"),
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
		{
			name:       "redis not configured",
			store:      pingOK(),
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"postgres": "ok", "redis": "not configured"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.store, "postgres", tt.cache)

			rec := httptest.NewRecorder()
			h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			resp := decodeHealth(t, rec)
			if resp.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", resp.Status, tt.wantStatus)
			}
			for k, want := range tt.wantChecks {
				if got := resp.Checks[k]; got != want {
					t.Errorf("check %s = %q, want %q", k, got, want)
				}
			}
		})
	}
}
