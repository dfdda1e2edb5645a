// Package handler provides HTTP request handlers.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/stayawake/stayawake/internal/handler/dto"
	"github.com/stayawake/stayawake/internal/middleware"
	"github.com/stayawake/stayawake/internal/service"
)

// Envelope is the shape of every API response body.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Handler serves the routes that belong to no domain.
type Handler struct {
	version string
}

// New creates a new Handler instance.
func New(version string) *Handler {
	return &Handler{version: version}
}

// Index describes the service.
// GET /
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Envelope{
		Success: true,
		Message: "stayawake keep-alive API",
		Data:    map[string]string{"version": h.version},
	})
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Not found", "Resource not found", nil)
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "Method not allowed", nil)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, title, message string, data any) {
	writeJSON(w, status, Envelope{Error: title, Message: message, Data: data})
}

// decodeJSON reads a JSON request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// emailParam returns the {email} path segment, decoding %40 and friends.
func emailParam(r *http.Request) string {
	raw := chi.URLParam(r, "email")
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

func writeInvalidJSON(w http.ResponseWriter) {
	writeError(w, http.StatusBadRequest, "Invalid request", "Request body must be valid JSON", nil)
}

// writeServiceError maps service errors to HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var limitErr *service.CreditLimitError

	switch {
	case errors.As(err, &limitErr):
		writeError(w, http.StatusBadRequest, "Credit limit exceeded",
			"Adding this credit would exceed the maximum balance",
			dto.CreditLimitResponse{
				CurrentCredit:     limitErr.CurrentBalance,
				MaximumAllowed:    limitErr.Maximum,
				RemainingCapacity: limitErr.RemainingCapacity,
			})
	case errors.Is(err, service.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, "Invalid email", "A valid email address is required", nil)
	case errors.Is(err, service.ErrPrivateURL):
		writeError(w, http.StatusBadRequest, "Invalid URL", "Private and local addresses cannot be kept awake", nil)
	case errors.Is(err, service.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, "Invalid URL", "Enter a valid http or https URL", nil)
	case errors.Is(err, service.ErrURLTooLong):
		writeError(w, http.StatusBadRequest, "Invalid URL", "URL exceeds the maximum length", nil)
	case errors.Is(err, service.ErrDuplicateLink):
		writeError(w, http.StatusBadRequest, "Duplicate link", "This URL is already being kept awake", nil)
	case errors.Is(err, service.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "Invalid amount", "Amount must be a positive whole number of minutes", nil)
	case errors.Is(err, service.ErrInvalidLimit):
		writeError(w, http.StatusBadRequest, "Invalid limit", "limit must be a positive integer", nil)
	case errors.Is(err, service.ErrInvalidPlan):
		writeError(w, http.StatusBadRequest, "Invalid plan", "Unknown plan", nil)
	case errors.Is(err, service.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, "Invalid subscription state", err.Error(), nil)
	case errors.Is(err, service.ErrRegistrationClosed):
		writeError(w, http.StatusForbidden, "Registration closed", "We are not accepting new accounts right now", nil)
	case errors.Is(err, service.ErrLinkLimitReached):
		writeError(w, http.StatusForbidden, "Link limit reached", "Your plan does not allow more links. Upgrade to add more.", nil)
	case errors.Is(err, service.ErrInsufficientCredit):
		writeError(w, http.StatusForbidden, "Insufficient credit", "Add credit before registering links", nil)
	case errors.Is(err, service.ErrAccountDisabled):
		writeError(w, http.StatusForbidden, "Account disabled", "This account has been disabled", nil)
	case errors.Is(err, service.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "User not found", "No account exists for this email", nil)
	case errors.Is(err, service.ErrLinkNotFound):
		writeError(w, http.StatusNotFound, "Link not found", "Link not found", nil)
	default:
		logger.Error("internal_error",
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, "Internal error", "An internal error occurred", nil)
	}
}
