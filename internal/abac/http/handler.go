// Package abachttp exposes rule management and the evaluation sandbox over
// HTTP. It lives apart from the abac package so the gate can depend on the
// evaluator without pulling in the authorization middleware.
package abachttp

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sentra-platform/sentra/internal/abac"
	"github.com/sentra-platform/sentra/internal/authz"
	"github.com/sentra-platform/sentra/internal/platform/httpx"
	"github.com/sentra-platform/sentra/internal/shared"
)

// Handler manages ABAC rule endpoints.
type Handler struct {
	logger  *slog.Logger
	service *abac.Service
	guard   authz.Middleware

	// sandbox is a bare evaluator with no metric or event sinks so dry
	// runs never pollute the audit trail.
	sandbox *abac.Evaluator
}

// NewHandler builds the abac HTTP handler.
func NewHandler(logger *slog.Logger, service *abac.Service, guard authz.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:  logger,
		service: service,
		guard:   guard,
		sandbox: abac.NewEvaluator(logger),
	}
}

// MountRoutes registers rule management and sandbox routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermAbacManage))
		r.Get("/rules", h.list)
		r.Post("/rules", h.create)
		r.Get("/rules/{id}", h.get)
		r.Put("/rules/{id}", h.update)
		r.Delete("/rules/{id}", h.delete)
	})
	r.With(h.guard.RequirePermission(shared.PermAbacTest)).Post("/evaluate", h.evaluate)
}

type rulePayload struct {
	Name           string        `json:"name"`
	PermissionName string        `json:"permission_name"`
	Attribute      string        `json:"attribute"`
	Operator       abac.Operator `json:"operator"`
	Value          string        `json:"value"`
	Effect         abac.Effect   `json:"effect"`
}

func (p rulePayload) rule() abac.Rule {
	return abac.Rule{
		Name:           p.Name,
		PermissionName: p.PermissionName,
		Attribute:      p.Attribute,
		Operator:       p.Operator,
		Value:          p.Value,
		Effect:         p.Effect,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.ListRules(r.Context())
	if err != nil {
		h.logger.Error("list abac rules", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rules)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rule, err := h.service.GetRule(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rule)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var payload rulePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	created, err := h.service.CreateRule(r.Context(), payload.rule())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var payload rulePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	rule := payload.rule()
	rule.ID = id
	updated, err := h.service.UpdateRule(r.Context(), rule)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteRule(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type evaluateRequest struct {
	PermissionName string         `json:"permission_name"`
	Subject        map[string]any `json:"subject"`
	// Rules overrides the stored set, letting operators try a draft rule
	// before saving it.
	Rules []rulePayload `json:"rules"`
}

// evaluate runs the evaluator against a caller-supplied subject without
// recording metrics or firing automations.
func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}

	var rules []abac.Rule
	if len(req.Rules) > 0 {
		rules = make([]abac.Rule, 0, len(req.Rules))
		for _, p := range req.Rules {
			rules = append(rules, p.rule())
		}
	} else {
		if req.PermissionName == "" {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "permission_name or rules required")
			return
		}
		stored, err := h.service.RulesForPermission(r.Context(), req.PermissionName)
		if err != nil {
			h.logger.Error("load rules for sandbox", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		rules = stored
	}

	result := h.sandbox.Evaluate(r.Context(), req.Subject, rules)
	httpx.JSON(w, http.StatusOK, result)
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, httpx.ErrValidation
	}
	return id, nil
}
