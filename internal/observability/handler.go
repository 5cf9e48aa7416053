package observability

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sentra-platform/sentra/internal/authz"
	"github.com/sentra-platform/sentra/internal/platform/httpx"
	"github.com/sentra-platform/sentra/internal/shared"
)

// Handler exposes the metric event log.
type Handler struct {
	logger  *slog.Logger
	service *MetricService
	guard   authz.Middleware
}

// NewHandler builds the observability HTTP handler.
func NewHandler(logger *slog.Logger, service *MetricService, guard authz.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers metric event routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermMetricsRead))
		r.Get("/events", h.listEvents)
		r.Get("/counts", h.counts)
	})
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.service.ListEvents(r.Context(), r.URL.Query().Get("type"), limit)
	if err != nil {
		h.logger.Error("list metric events", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, events)
}

func (h *Handler) counts(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "since must be RFC3339")
			return
		}
		since = parsed
	}
	counts, err := h.service.CountsSince(r.Context(), since)
	if err != nil {
		h.logger.Error("count metric events", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, counts)
}
