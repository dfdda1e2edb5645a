package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/stayawake/stayawake/internal/handler/dto"
	"github.com/stayawake/stayawake/internal/model"
	"github.com/stayawake/stayawake/internal/payment"
	"github.com/stayawake/stayawake/internal/service"
)

// Webhook request headers.
const (
	SignatureHeader = "X-Payment-Signature"
	TimestampHeader = "X-Payment-Timestamp"
)

// PaymentHandler handles checkout creation and provider webhooks.
type PaymentHandler struct {
	provider payment.Provider
	accounts *service.AccountService
	webhooks *payment.WebhookProcessor
	logger   *slog.Logger
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(provider payment.Provider, accounts *service.AccountService, webhooks *payment.WebhookProcessor, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		provider: provider,
		accounts: accounts,
		webhooks: webhooks,
		logger:   logger,
	}
}

// CreateSubscription handles POST /api/payment/create-subscription. It
// returns a checkout descriptor; the plan changes only when the provider
// confirms payment through the webhook.
func (h *PaymentHandler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(w)
		return
	}
	if req.Plan == "" {
		req.Plan = model.PlanPaid
	}
	if !req.Plan.IsValid() {
		writeServiceError(w, r, h.logger, service.ErrInvalidPlan)
		return
	}

	acct, err := h.accounts.Get(r.Context(), req.Email)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	desc, err := h.provider.CreateSubscription(r.Context(), acct.Email, req.Plan)
	if err != nil {
		if errors.Is(err, payment.ErrUnsupportedPlan) {
			writeError(w, http.StatusBadRequest, "Invalid plan", "This plan cannot be purchased", nil)
			return
		}
		writeServiceError(w, r, h.logger, err)
		return
	}

	h.logger.Info("checkout_created", "email", acct.Email, "subscription_id", desc.SubscriptionID)
	writeSuccess(w, http.StatusOK, "Subscription created", desc)
}

// Webhook handles POST /api/payment/webhook. Events that can never apply
// are acknowledged so the provider stops retrying; transient failures
// answer 500 so it retries.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if !h.webhooks.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "Webhooks disabled", "Payment webhooks are not configured", nil)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "Could not read request body", nil)
		return
	}

	timestamp, err := strconv.ParseInt(r.Header.Get(TimestampHeader), 10, 64)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid signature", "Missing or invalid timestamp", nil)
		return
	}
	if err := h.webhooks.Verify(r.Header.Get(SignatureHeader), timestamp, body); err != nil {
		h.logger.Warn("webhook_rejected", "reason", err.Error())
		writeError(w, http.StatusUnauthorized, "Invalid signature", "Signature verification failed", nil)
		return
	}

	result, duplicate, err := h.webhooks.Handle(r.Context(), body)
	switch {
	case errors.Is(err, payment.ErrMalformedEvent), errors.Is(err, payment.ErrUnknownEvent):
		writeError(w, http.StatusBadRequest, "Invalid event", err.Error(), nil)
	case err != nil && payment.IsPermanent(err):
		writeJSON(w, http.StatusOK, Envelope{Success: true, Message: "Event ignored", Details: err.Error()})
	case err != nil:
		writeServiceError(w, r, h.logger, err)
	case duplicate:
		writeSuccess(w, http.StatusOK, "Event already processed", nil)
	default:
		writeJSON(w, http.StatusOK, Envelope{
			Success: true,
			Message: "Event applied",
			Details: result.Details,
			Data:    dto.ToSubscriptionResponse(result.Account),
		})
	}
}
