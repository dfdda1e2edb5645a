package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/stayawake/stayawake/internal/handler/dto"
	"github.com/stayawake/stayawake/internal/service"
)

// SubscriptionHandler handles plan queries and subscription transitions.
type SubscriptionHandler struct {
	subs   *service.SubscriptionService
	logger *slog.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(subs *service.SubscriptionService, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		subs:   subs,
		logger: logger,
	}
}

// Plan handles GET /api/user/{email}/plan.
func (h *SubscriptionHandler) Plan(w http.ResponseWriter, r *http.Request) {
	info, err := h.subs.Plan(r.Context(), emailParam(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", dto.ToPlanResponse(info))
}

// Cancel handles POST /api/subscription/cancel.
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Subscription cancellation scheduled", h.subs.Cancel)
}

// Reactivate handles POST /api/subscription/reactivate.
func (h *SubscriptionHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Subscription reactivated", h.subs.Reactivate)
}

// Pause handles POST /api/subscription/pause.
func (h *SubscriptionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Subscription paused", h.subs.Pause)
}

// Resume handles POST /api/subscription/resume.
func (h *SubscriptionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Subscription resumed", h.subs.Resume)
}

func (h *SubscriptionHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	message string,
	apply func(ctx context.Context, email string) (*service.TransitionResult, error),
) {
	var req dto.EmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(w)
		return
	}

	result, err := apply(r.Context(), req.Email)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, Envelope{
		Success: true,
		Message: message,
		Details: result.Details,
		Data:    dto.ToSubscriptionResponse(result.Account),
	})
}
