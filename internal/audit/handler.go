package audit

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vereinskasse/vereinskasse/internal/platform/httpx"
	"github.com/vereinskasse/vereinskasse/internal/shared"
)

// Handler exposes the audit timeline.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/audit-logs", h.timeline)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), shared.ActorFromContext(r.Context()), filters)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func parseFilters(r *http.Request) (TimelineFilters, error) {
	var f TimelineFilters
	var err error
	if f.From, err = httpx.QueryDate(r, "from"); err != nil {
		return TimelineFilters{}, err
	}
	if f.To, err = httpx.QueryDate(r, "to"); err != nil {
		return TimelineFilters{}, err
	}
	actorID, err := httpx.QueryInt64(r, "actor_id")
	if err != nil {
		return TimelineFilters{}, err
	}
	if actorID != nil {
		f.ActorID = *actorID
	}
	page, err := httpx.QueryInt(r, "page")
	if err != nil {
		return TimelineFilters{}, err
	}
	if page != nil {
		f.Page = *page
	}
	size, err := httpx.QueryInt(r, "page_size")
	if err != nil {
		return TimelineFilters{}, err
	}
	if size != nil {
		f.PageSize = *size
	}
	q := r.URL.Query()
	f.Entity = q.Get("entity")
	f.EntityID = q.Get("entity_id")
	f.Action = q.Get("action")
	return f, nil
}
