package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/stayawake/stayawake/internal/auth"
)

// AdminKeyHeader carries the admin key on admin requests.
const AdminKeyHeader = "X-Admin-Key"

// minRejectDuration pads failed admin authentication so response time
// does not reveal how far verification got.
const minRejectDuration = 200 * time.Millisecond

// AdminKeyConfig holds configuration for the admin key middleware.
type AdminKeyConfig struct {
	Logger *slog.Logger
	// Hash is the argon2id hash of the admin key. Empty disables the
	// admin surface.
	Hash string
}

// AdminKey returns middleware that admits requests presenting the admin
// key. Verified keys are remembered by digest so argon2 runs once per key.
func AdminKey(cfg AdminKeyConfig) func(http.Handler) http.Handler {
	var verified sync.Map

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Hash == "" {
				writeError(w, http.StatusForbidden, "Forbidden", "Admin endpoints are disabled")
				return
			}

			start := time.Now()
			reject := func(reason string) {
				cfg.Logger.Warn("admin authentication failed",
					slog.String("reason", reason),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				if elapsed := time.Since(start); elapsed < minRejectDuration {
					time.Sleep(minRejectDuration - elapsed)
				}
				writeError(w, http.StatusUnauthorized, "Unauthorized", "Missing or invalid admin key")
			}

			key := extractAdminKey(r)
			if key == "" {
				reject("missing_key")
				return
			}

			parsed, err := auth.ParseAdminKey(key)
			if err != nil {
				reject("invalid_format")
				return
			}

			digest := auth.QuickHash(key)
			if _, ok := verified.Load(digest); !ok {
				match, err := auth.VerifyKey(key, cfg.Hash)
				if err != nil {
					cfg.Logger.Error("admin key hash is malformed", slog.String("error", err.Error()))
					writeError(w, http.StatusInternalServerError, "Internal error", "Internal server error")
					return
				}
				if !match {
					reject("key_mismatch")
					return
				}
				verified.Store(digest, struct{}{})
			}

			ctx := auth.ContextWithAdmin(r.Context(), parsed.Prefix)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractAdminKey reads the key from X-Admin-Key or a Bearer token.
func extractAdminKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(AdminKeyHeader)); key != "" {
		return key
	}
	const bearer = "Bearer "
	if h := r.Header.Get("Authorization"); len(h) > len(bearer) && strings.EqualFold(h[:len(bearer)], bearer) {
		return strings.TrimSpace(h[len(bearer):])
	}
	return ""
}
