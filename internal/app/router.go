package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	abachttp "github.com/sentra-platform/sentra/internal/abac/http"
	"github.com/sentra-platform/sentra/internal/audit"
	"github.com/sentra-platform/sentra/internal/authz"
	"github.com/sentra-platform/sentra/internal/automation"
	"github.com/sentra-platform/sentra/internal/observability"
	"github.com/sentra-platform/sentra/internal/rbac"
	"github.com/sentra-platform/sentra/internal/shared"
	"github.com/sentra-platform/sentra/internal/system"
	"github.com/sentra-platform/sentra/internal/users"
	"github.com/sentra-platform/sentra/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Guard             authz.Middleware
	UsersHandler      *users.Handler
	RBACHandler       *rbac.Handler
	ABACHandler       *abachttp.Handler
	AutomationHandler *automation.Handler
	AuditHandler      *audit.Handler
	MetricsHandler    *observability.Handler
	SystemHandler     *system.Handler
	JobsHandler       *jobs.Handler
	Metrics           *observability.Metrics
	ErrorLog          *system.ErrorLog
}

// NewRouter constructs the chi.Router with platform defaults. Every /api
// route sees the identity middleware; the per-route permission guards live
// in the handlers themselves.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:   params.Logger,
		Config:   params.Config,
		Metrics:  params.Metrics,
		ErrorLog: params.ErrorLog,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(params.Guard.WithIdentity)
		if params.AuditHandler != nil {
			r.Use(params.AuditHandler.Recorder)
		}
		if params.UsersHandler != nil {
			r.Route("/users", params.UsersHandler.MountRoutes)
		}
		if params.RBACHandler != nil {
			r.Route("/roles", params.RBACHandler.MountRoleRoutes)
			r.Route("/permissions", params.RBACHandler.MountPermissionRoutes)
		}
		if params.ABACHandler != nil {
			r.Route("/abac", params.ABACHandler.MountRoutes)
		}
		if params.AutomationHandler != nil {
			r.Route("/automations", params.AutomationHandler.MountRoutes)
		}
		if params.AuditHandler != nil {
			r.Route("/audit", params.AuditHandler.MountRoutes)
		}
		if params.MetricsHandler != nil {
			r.Route("/metrics", params.MetricsHandler.MountRoutes)
		}
		if params.SystemHandler != nil {
			r.Route("/system", params.SystemHandler.MountRoutes)
		}
		if params.JobsHandler != nil {
			r.Route("/jobs", func(r chi.Router) {
				r.Use(params.Guard.RequirePermission(shared.PermMetricsRead))
				params.JobsHandler.MountRoutes(r)
			})
		}
	})

	return r
}
