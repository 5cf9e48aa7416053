package abac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sentra-platform/sentra/internal/platform/cache"
	"github.com/sentra-platform/sentra/internal/platform/httpx"
)

// Store is the persistence surface the service needs.
type Store interface {
	ListByPermission(ctx context.Context, permissionName string) ([]Rule, error)
	List(ctx context.Context) ([]Rule, error)
	Get(ctx context.Context, id int64) (Rule, error)
	Create(ctx context.Context, rule Rule) (Rule, error)
	Update(ctx context.Context, rule Rule) (Rule, error)
	Delete(ctx context.Context, id int64) error
}

// Service manages ABAC rules and serves the cache-fronted per-permission
// rule sets consumed by the authorization gate.
//
// Mutations do not touch the rule-set cache: a changed policy keeps serving
// the prior rule set for up to the cache TTL. Invalidate is the explicit
// hook for callers that cannot tolerate the window.
type Service struct {
	store  Store
	cache  *cache.Memory[[]Rule]
	ttl    time.Duration
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(store Store, c *cache.Memory[[]Rule], ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: c, ttl: ttl, logger: logger}
}

// RulesForPermission returns the ordered rule set for a permission,
// cache-then-store. Concurrent misses may populate the key redundantly;
// last write wins and the results are equivalent.
func (s *Service) RulesForPermission(ctx context.Context, permissionName string) ([]Rule, error) {
	if cached, ok := s.cache.Get(permissionName); ok {
		return cached, nil
	}
	rules, err := s.store.ListByPermission(ctx, permissionName)
	if err != nil {
		return nil, err
	}
	s.cache.Set(permissionName, rules, s.ttl)
	return rules, nil
}

// Invalidate drops the cached rule set for a permission.
func (s *Service) Invalidate(permissionName string) {
	s.cache.Delete(permissionName)
}

// ListRules returns all rules for the management API.
func (s *Service) ListRules(ctx context.Context) ([]Rule, error) {
	return s.store.List(ctx)
}

// GetRule fetches one rule.
func (s *Service) GetRule(ctx context.Context, id int64) (Rule, error) {
	return s.store.Get(ctx, id)
}

// CreateRule validates and inserts a rule.
func (s *Service) CreateRule(ctx context.Context, rule Rule) (Rule, error) {
	if err := normalize(&rule); err != nil {
		return Rule{}, err
	}
	created, err := s.store.Create(ctx, rule)
	if err != nil {
		return Rule{}, err
	}
	s.logger.Info("abac rule created",
		slog.String("rule", created.Name),
		slog.String("permission", created.PermissionName),
	)
	return created, nil
}

// UpdateRule validates and rewrites a rule.
func (s *Service) UpdateRule(ctx context.Context, rule Rule) (Rule, error) {
	if err := normalize(&rule); err != nil {
		return Rule{}, err
	}
	return s.store.Update(ctx, rule)
}

// DeleteRule removes a rule.
func (s *Service) DeleteRule(ctx context.Context, id int64) error {
	return s.store.Delete(ctx, id)
}

func normalize(rule *Rule) error {
	rule.Name = strings.TrimSpace(rule.Name)
	rule.PermissionName = strings.TrimSpace(rule.PermissionName)
	rule.Attribute = strings.TrimSpace(rule.Attribute)
	if rule.Name == "" {
		return fmt.Errorf("%w: rule name required", httpx.ErrValidation)
	}
	if rule.PermissionName == "" {
		return fmt.Errorf("%w: permission name required", httpx.ErrValidation)
	}
	if rule.Attribute == "" {
		return fmt.Errorf("%w: attribute required", httpx.ErrValidation)
	}
	if !ValidOperator(rule.Operator) {
		return fmt.Errorf("%w: unknown operator %q", httpx.ErrValidation, rule.Operator)
	}
	if !ValidEffect(rule.Effect) {
		return fmt.Errorf("%w: unknown effect %q", httpx.ErrValidation, rule.Effect)
	}
	return nil
}
