package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stayawake/stayawake/internal/handler/dto"
	"github.com/stayawake/stayawake/internal/service"
)

// LinkHandler handles HTTP requests for monitored links and their history.
type LinkHandler struct {
	registry *service.LinkRegistry
	times    *service.ResponseTimeService
	logger   *slog.Logger
}

// NewLinkHandler creates a new LinkHandler.
func NewLinkHandler(registry *service.LinkRegistry, times *service.ResponseTimeService, logger *slog.Logger) *LinkHandler {
	return &LinkHandler{
		registry: registry,
		times:    times,
		logger:   logger,
	}
}

// Create handles POST /api/urls.
func (h *LinkHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(w)
		return
	}

	link, err := h.registry.Register(r.Context(), req.Email, req.Link)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusCreated, "URL added successfully", map[string]any{
		"link": dto.ToLinkResponse(link),
	})
}

// Dashboard handles GET /api/user/{email}/links.
func (h *LinkHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.registry.Dashboard(r.Context(), emailParam(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", dto.ToDashboardResponse(d))
}

// Delete handles DELETE /api/links/{id}. The owner's email comes from the
// JSON body or, for clients that cannot send a DELETE body, ?email=.
func (h *LinkHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req dto.EmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(w)
		return
	}
	if req.Email == "" {
		req.Email = r.URL.Query().Get("email")
	}

	if err := h.registry.Delete(r.Context(), req.Email, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Link deleted successfully", nil)
}

// ResponseTimes handles GET /api/user/{email}/response-times?limit=N.
func (h *LinkHandler) ResponseTimes(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	byURL, err := h.times.ByURL(r.Context(), emailParam(r), limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", dto.ToResponseTimes(byURL))
}

// Pings handles GET /api/links/{id}/pings?email=&limit=N.
func (h *LinkHandler) Pings(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	records, err := h.times.RecentPings(r.Context(), r.URL.Query().Get("email"), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", dto.ToPingResponses(records))
}

// parseLimit reads ?limit=. Absent means the service default.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		writeServiceError(w, r, nil, service.ErrInvalidLimit)
		return 0, false
	}
	return limit, true
}
