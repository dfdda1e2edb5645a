package handler

import (
	"log/slog"
	"net/http"

	"github.com/stayawake/stayawake/internal/auth"
	"github.com/stayawake/stayawake/internal/handler/dto"
	"github.com/stayawake/stayawake/internal/service"
)

// AdminHandler provides operator endpoints behind the admin key.
type AdminHandler struct {
	ledger *service.LedgerService
	logger *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(ledger *service.LedgerService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		ledger: ledger,
		logger: logger,
	}
}

// GrantCredit handles POST /api/admin/credit/grant. Grants obey the same
// maximum balance as top-ups.
func (h *AdminHandler) GrantCredit(w http.ResponseWriter, r *http.Request) {
	var req dto.GrantCreditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(w)
		return
	}

	balance, err := h.ledger.Credit(r.Context(), req.Email, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	prefix, _ := auth.AdminFromContext(r.Context())
	h.logger.Info("credit_granted",
		"email", req.Email,
		"amount", req.Amount,
		"admin_key_prefix", prefix,
	)

	writeSuccess(w, http.StatusOK, "Credit granted", dto.CreditAddedResponse{
		NewCredit: balance,
		Added:     req.Amount,
	})
}
