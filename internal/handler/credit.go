package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/stayawake/stayawake/internal/auth"
	"github.com/stayawake/stayawake/internal/cache"
	"github.com/stayawake/stayawake/internal/handler/dto"
	"github.com/stayawake/stayawake/internal/service"
)

// IdempotencyKeyHeader lets clients retry a top-up without double credit.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLen = 128

// IdempotencyStore replays responses of requests already handled.
type IdempotencyStore interface {
	BeginIdempotent(ctx context.Context, key string, ttl time.Duration) (*cache.StoredResponse, error)
	CompleteIdempotent(ctx context.Context, key string, resp cache.StoredResponse, ttl time.Duration) error
	AbortIdempotent(ctx context.Context, key string) error
}

// CreditHandler handles balance and top-up requests.
type CreditHandler struct {
	ledger *service.LedgerService
	idem   IdempotencyStore // nil ignores Idempotency-Key
	logger *slog.Logger
}

// NewCreditHandler creates a new CreditHandler.
func NewCreditHandler(ledger *service.LedgerService, idem IdempotencyStore, logger *slog.Logger) *CreditHandler {
	return &CreditHandler{
		ledger: ledger,
		idem:   idem,
		logger: logger,
	}
}

// Balance handles GET /api/credit/{email}.
func (h *CreditHandler) Balance(w http.ResponseWriter, r *http.Request) {
	credit, err := h.ledger.Balance(r.Context(), emailParam(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", dto.CreditResponse{Credit: credit})
}

// Add handles POST /api/credit/add. It credits the fixed top-up package.
// With an Idempotency-Key header and Redis configured, a retried request
// replays the first response instead of crediting again.
func (h *CreditHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req dto.EmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(w)
		return
	}

	key := r.Header.Get(IdempotencyKeyHeader)
	if key == "" || h.idem == nil {
		h.topUp(w, r, req.Email)
		return
	}
	if len(key) > maxIdempotencyKeyLen {
		writeError(w, http.StatusBadRequest, "Invalid request", "Idempotency-Key is too long", nil)
		return
	}

	// Scope the key to the account so two users cannot collide. Spellings
	// of the same address share one scope.
	owner := req.Email
	if email, err := service.NormalizeEmail(req.Email); err == nil {
		owner = email
	}
	scoped := "credit_add:" + auth.QuickHash(owner+"|"+key)

	stored, err := h.idem.BeginIdempotent(r.Context(), scoped, cache.DefaultIdempotencyTTL)
	switch {
	case errors.Is(err, cache.ErrIdempotencyInProgress):
		writeError(w, http.StatusConflict, "Request in progress",
			"A request with this Idempotency-Key is still being processed", nil)
		return
	case err != nil:
		h.logger.Error("idempotency lookup failed", "error", err)
		h.topUp(w, r, req.Email)
		return
	case stored != nil:
		w.Header().Set("Idempotent-Replayed", "true")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(stored.Status)
		_, _ = w.Write(stored.Body)
		return
	}

	rec := newBufferedResponse()
	h.topUp(rec, r, req.Email)

	// Only outcomes of the ledger itself are replayable.
	if rec.status < http.StatusInternalServerError && rec.status != http.StatusNotFound {
		resp := cache.StoredResponse{Status: rec.status, Body: json.RawMessage(rec.body)}
		if err := h.idem.CompleteIdempotent(r.Context(), scoped, resp, cache.DefaultIdempotencyTTL); err != nil {
			h.logger.Error("idempotency store failed", "error", err)
		}
	} else if err := h.idem.AbortIdempotent(r.Context(), scoped); err != nil {
		h.logger.Error("idempotency release failed", "error", err)
	}

	rec.flush(w)
}

func (h *CreditHandler) topUp(w http.ResponseWriter, r *http.Request, email string) {
	amount := h.ledger.Policy().TopUpAmount

	balance, err := h.ledger.TopUp(r.Context(), email)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Credit added successfully", dto.CreditAddedResponse{
		NewCredit: balance,
		Added:     amount,
	})
}
