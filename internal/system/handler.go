package system

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sentra-platform/sentra/internal/authz"
	"github.com/sentra-platform/sentra/internal/platform/httpx"
	"github.com/sentra-platform/sentra/internal/shared"
)

// Handler exposes the captured error log to operators.
type Handler struct {
	logger *slog.Logger
	store  ErrorStore
	guard  authz.Middleware
}

// NewHandler builds the system HTTP handler.
func NewHandler(logger *slog.Logger, store ErrorStore, guard authz.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, store: store, guard: guard}
}

// MountRoutes registers error log routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermMetricsRead))
		r.Get("/errors", h.recentErrors)
	})
}

func (h *Handler) recentErrors(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	records, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("list system errors", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if records == nil {
		records = []ErrorRecord{}
	}
	httpx.JSON(w, http.StatusOK, records)
}
