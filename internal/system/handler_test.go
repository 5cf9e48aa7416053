package system

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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

type stubErrorStore struct {
	records   []ErrorRecord
	lastLimit int
	inserted  []string
}

func (s *stubErrorStore) Insert(_ context.Context, source, message string, _ map[string]any) error {
	s.inserted = append(s.inserted, source+": "+message)
	return nil
}

func (s *stubErrorStore) Recent(_ context.Context, limit int) ([]ErrorRecord, error) {
	s.lastLimit = limit
	if limit < len(s.records) {
		return s.records[:limit], nil
	}
	return s.records, nil
}

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

func newTestRouter(t *testing.T, store *stubErrorStore) chi.Router {
	t.Helper()
	abacService := abac.NewService(emptyRuleStore{}, cache.NewMemory[[]abac.Rule](), time.Minute, nil)
	resolver := identity.NewResolver(adminSource{}, cache.NewMemory[*identity.Identity](), time.Minute, nil)
	gate := authz.NewGate(abacService, abac.NewEvaluator(nil), nil, nil, nil)
	guard := authz.Middleware{Gate: gate, Resolver: resolver}

	r := chi.NewRouter()
	r.Use(guard.WithIdentity)
	r.Route("/api/system", NewHandler(nil, store, guard).MountRoutes)
	return r
}

type emptyRuleStore struct{}

func (emptyRuleStore) ListByPermission(context.Context, string) ([]abac.Rule, error) {
	return nil, nil
}
func (emptyRuleStore) List(context.Context) ([]abac.Rule, error) { return nil, nil }
func (emptyRuleStore) Get(context.Context, int64) (abac.Rule, error) {
	return abac.Rule{}, shared.ErrNotFound
}
func (emptyRuleStore) Create(_ context.Context, r abac.Rule) (abac.Rule, error) { return r, nil }
func (emptyRuleStore) Update(_ context.Context, r abac.Rule) (abac.Rule, error) { return r, nil }
func (emptyRuleStore) Delete(context.Context, int64) error                      { return nil }

func TestRecentErrorsEndpoint(t *testing.T) {
	store := &stubErrorStore{records: []ErrorRecord{
		{ID: 2, Source: "jobs", Message: "report build failed", CreatedAt: time.Now()},
		{ID: 1, Source: "panic", Message: "nil dereference", CreatedAt: time.Now().Add(-time.Hour)},
	}}
	router := newTestRouter(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/system/errors", nil)
	req.Header.Set(authz.IdentityHeader, "admin@example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var records []ErrorRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "jobs", records[0].Source)
	assert.Equal(t, 100, store.lastLimit)
}

func TestRecentErrorsClampsLimit(t *testing.T) {
	store := &stubErrorStore{}
	router := newTestRouter(t, store)

	for _, raw := range []string{"-5", "9999", "notanumber"} {
		req := httptest.NewRequest(http.MethodGet, "/api/system/errors?limit="+raw, nil)
		req.Header.Set(authz.IdentityHeader, "admin@example.com")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 100, store.lastLimit, "limit %q must clamp", raw)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/system/errors?limit=5", nil)
	req.Header.Set(authz.IdentityHeader, "admin@example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, store.lastLimit)
}

func TestRecentErrorsEmptyIsJSONArray(t *testing.T) {
	router := newTestRouter(t, &stubErrorStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/system/errors", nil)
	req.Header.Set(authz.IdentityHeader, "admin@example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}
