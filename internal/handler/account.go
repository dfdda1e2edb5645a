package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/stayawake/stayawake/internal/cache"
	"github.com/stayawake/stayawake/internal/handler/dto"
	"github.com/stayawake/stayawake/internal/middleware"
	"github.com/stayawake/stayawake/internal/service"
)

// ScopedRateLimiter is a token bucket keyed by scope and identity.
type ScopedRateLimiter interface {
	CheckRateLimit(ctx context.Context, scope, identity string, ratePerSecond float64, burst int) (*cache.RateLimitResult, error)
}

// SignInThrottle bounds sign-in attempts per email and client IP.
type SignInThrottle struct {
	Limiter       ScopedRateLimiter // nil disables throttling
	RatePerSecond float64
	Burst         int
}

// AccountHandler handles sign-in and account lifecycle requests.
type AccountHandler struct {
	accounts *service.AccountService
	throttle SignInThrottle
	logger   *slog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accounts *service.AccountService, throttle SignInThrottle, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		throttle: throttle,
		logger:   logger,
	}
}

// Authenticate handles POST /api/users/auth. The identity provider has
// already verified the email; this provisions the account on first sight.
func (h *AccountHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req dto.EmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(w)
		return
	}

	if !h.allowSignIn(w, r, req.Email) {
		return
	}

	acct, created, err := h.accounts.Authenticate(r.Context(), req.Email)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	status, message := http.StatusOK, "Welcome back"
	if created {
		status, message = http.StatusCreated, "Account created"
	}
	writeSuccess(w, status, message, dto.ToAccountResponse(acct, created))
}

// Disable handles POST /api/users/disable.
func (h *AccountHandler) Disable(w http.ResponseWriter, r *http.Request) {
	var req dto.EmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(w)
		return
	}

	if err := h.accounts.Disable(r.Context(), req.Email); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Account disabled", nil)
}

// allowSignIn consumes a sign-in token. It writes the 429 itself and
// fails open on limiter errors.
func (h *AccountHandler) allowSignIn(w http.ResponseWriter, r *http.Request, email string) bool {
	if h.throttle.Limiter == nil || h.throttle.RatePerSecond <= 0 {
		return true
	}

	identity := email + "|" + middleware.ClientIP(r)
	result, err := h.throttle.Limiter.CheckRateLimit(r.Context(), cache.ScopeSignIn, identity,
		h.throttle.RatePerSecond, h.throttle.Burst)
	if err != nil {
		h.logger.Error("sign-in throttle check failed", "error", err)
		return true
	}
	if !result.Allowed {
		h.logger.Warn("sign_in_throttled", "request_id", middleware.GetRequestID(r.Context()))
		middleware.WriteRateLimited(w, result.RetryAfter)
		return false
	}
	return true
}
