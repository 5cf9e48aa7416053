package abachttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentra-platform/sentra/internal/abac"
	"github.com/sentra-platform/sentra/internal/authz"
	"github.com/sentra-platform/sentra/internal/identity"
	"github.com/sentra-platform/sentra/internal/platform/cache"
	"github.com/sentra-platform/sentra/internal/shared"
)

type stubStore struct {
	rules []abac.Rule
}

func (s *stubStore) ListByPermission(_ context.Context, permission string) ([]abac.Rule, error) {
	var out []abac.Rule
	for _, r := range s.rules {
		if r.PermissionName == permission {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubStore) List(context.Context) ([]abac.Rule, error) { return s.rules, nil }

func (s *stubStore) Get(_ context.Context, id int64) (abac.Rule, error) {
	for _, r := range s.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return abac.Rule{}, shared.ErrNotFound
}

func (s *stubStore) Create(_ context.Context, rule abac.Rule) (abac.Rule, error) {
	rule.ID = int64(len(s.rules) + 1)
	s.rules = append(s.rules, rule)
	return rule, nil
}

func (s *stubStore) Update(_ context.Context, rule abac.Rule) (abac.Rule, error) { return rule, nil }

func (s *stubStore) Delete(context.Context, int64) error { return nil }

type adminSource struct{}

func (adminSource) GetByEmail(_ context.Context, email string) (*identity.Identity, error) {
	return &identity.Identity{
		ID:    1,
		Email: email,
		Roles: []identity.Role{{ID: 1, Name: "admin", Permissions: []identity.Permission{{Name: shared.Wildcard}}}},
	}, nil
}

func (adminSource) First(context.Context) (*identity.Identity, error) {
	return nil, shared.ErrNotFound
}

func newTestRouter(t *testing.T, store *stubStore) chi.Router {
	t.Helper()
	service := abac.NewService(store, cache.NewMemory[[]abac.Rule](), time.Minute, nil)
	resolver := identity.NewResolver(adminSource{}, cache.NewMemory[*identity.Identity](), time.Minute, nil)
	gate := authz.NewGate(service, abac.NewEvaluator(nil), nil, nil, nil)
	guard := authz.Middleware{Gate: gate, Resolver: resolver}

	r := chi.NewRouter()
	r.Use(guard.WithIdentity)
	r.Route("/api/abac", NewHandler(nil, service, guard).MountRoutes)
	return r
}

func doJSON(t *testing.T, router chi.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(authz.IdentityHeader, "admin@example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndListRules(t *testing.T) {
	router := newTestRouter(t, &stubStore{})

	rec := doJSON(t, router, http.MethodPost, "/api/abac/rules", `{
		"name": "hr-only",
		"permission_name": "report.read",
		"attribute": "department",
		"operator": "equals",
		"value": "\"HR\"",
		"effect": "deny"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/abac/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rules []abac.Rule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
	require.Len(t, rules, 1)
	assert.Equal(t, "hr-only", rules[0].Name)
}

func TestCreateRuleRejectsUnknownOperator(t *testing.T) {
	router := newTestRouter(t, &stubStore{})

	rec := doJSON(t, router, http.MethodPost, "/api/abac/rules", `{
		"name": "bad",
		"permission_name": "report.read",
		"attribute": "department",
		"operator": "matches",
		"value": "\"HR\"",
		"effect": "deny"
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvaluateSandboxWithDraftRules(t *testing.T) {
	router := newTestRouter(t, &stubStore{})

	// An equals deny rule only fires when the subject attribute differs
	// from the rule value.
	rec := doJSON(t, router, http.MethodPost, "/api/abac/evaluate", `{
		"subject": {"department": "Engineering"},
		"rules": [{
			"name": "hr-only",
			"attribute": "department",
			"operator": "equals",
			"value": "\"HR\"",
			"effect": "deny"
		}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result abac.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Allow)
	assert.Equal(t, "hr-only", result.FailedRule)

	// A matching subject satisfies the rule and passes through.
	rec = doJSON(t, router, http.MethodPost, "/api/abac/evaluate", `{
		"subject": {"department": "HR"},
		"rules": [{
			"name": "hr-only",
			"attribute": "department",
			"operator": "equals",
			"value": "\"HR\"",
			"effect": "deny"
		}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	result = abac.Result{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Allow)
	assert.Empty(t, result.FailedRule)
}

func TestEvaluateSandboxAgainstStoredRules(t *testing.T) {
	store := &stubStore{rules: []abac.Rule{{
		ID:             1,
		Name:           "paris-blocked",
		PermissionName: "report.read",
		Attribute:      "location",
		Operator:       abac.OpIn,
		Value:          `["Paris"]`,
		Effect:         abac.EffectDeny,
	}}}
	router := newTestRouter(t, store)

	// Tunis is outside the allowed list, so the deny rule fires.
	rec := doJSON(t, router, http.MethodPost, "/api/abac/evaluate", `{
		"permission_name": "report.read",
		"subject": {"location": "Tunis"}
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result abac.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Allow)
	assert.Equal(t, "paris-blocked", result.FailedRule)

	rec = doJSON(t, router, http.MethodPost, "/api/abac/evaluate", `{
		"permission_name": "report.read",
		"subject": {"location": "Paris"}
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Allow)
}

func TestEvaluateSandboxRequiresTarget(t *testing.T) {
	router := newTestRouter(t, &stubStore{})
	rec := doJSON(t, router, http.MethodPost, "/api/abac/evaluate", `{"subject": {}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
