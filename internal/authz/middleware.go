package authz

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sentra-platform/sentra/internal/identity"
	"github.com/sentra-platform/sentra/internal/platform/httpx"
	"github.com/sentra-platform/sentra/internal/shared"
)

// IdentityHeader carries the inbound identity token.
const IdentityHeader = "X-User-Email"

// Middleware wires identity resolution and permission guards for HTTP
// handlers.
type Middleware struct {
	Gate     *Gate
	Resolver *identity.Resolver
	Logger   *slog.Logger
}

// WithIdentity resolves the request's identity token and stores the result
// in context. An unknown token leaves the request unauthenticated; the guard
// rejects it later. Store failures surface as 500 so a broken identity store
// never lets requests through anonymously.
func (m Middleware) WithIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(IdentityHeader)
		ident, err := m.Resolver.Resolve(r.Context(), token)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				next.ServeHTTP(w, r)
				return
			}
			m.logger().Error("resolve identity", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.ContextWith(r.Context(), ident)))
	})
}

// RequirePermission guards a route behind one permission check. The 403 body
// distinguishes an RBAC deny from an ABAC deny and names the failing rule on
// the latter; HTTP callers rely on that distinction.
func (m Middleware) RequirePermission(permissionName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident := identity.FromContext(r.Context())
			decision, err := m.Gate.CheckPermission(r.Context(), ident, permissionName)
			if err != nil {
				if errors.Is(err, shared.ErrUnauthenticated) {
					httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "no identity resolved for request")
					return
				}
				m.logger().Error("permission check",
					slog.String("permission", permissionName),
					slog.Any("error", err),
				)
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			switch decision.Outcome {
			case OutcomeAllow:
				next.ServeHTTP(w, r)
			case OutcomeDenyABAC:
				httpx.ProblemWith(w, http.StatusForbidden, "Forbidden", "Forbidden (ABAC)", map[string]any{
					"failed_rule": decision.FailedRule,
				})
			default:
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "Forbidden (RBAC)")
			}
		})
	}
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
