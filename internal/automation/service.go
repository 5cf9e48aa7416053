package automation

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/sentra-platform/sentra/internal/platform/httpx"
)

// Store abstracts rule persistence.
type Store interface {
	List(ctx context.Context) ([]Rule, error)
	Get(ctx context.Context, id int64) (Rule, error)
	Create(ctx context.Context, rule Rule) (Rule, error)
	Update(ctx context.Context, rule Rule) (Rule, error)
	Delete(ctx context.Context, id int64) error
}

// Service manages webhook subscription rules.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService builds an automation rule service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// ListRules returns all subscription rules, enabled or not.
func (s *Service) ListRules(ctx context.Context) ([]Rule, error) {
	return s.store.List(ctx)
}

// GetRule returns a single rule by id.
func (s *Service) GetRule(ctx context.Context, id int64) (Rule, error) {
	return s.store.Get(ctx, id)
}

// CreateRule validates and stores a new subscription.
func (s *Service) CreateRule(ctx context.Context, rule Rule) (Rule, error) {
	normalized, err := normalize(rule)
	if err != nil {
		return Rule{}, err
	}
	created, err := s.store.Create(ctx, normalized)
	if err != nil {
		return Rule{}, err
	}
	s.logger.Info("automation rule created",
		slog.Int64("id", created.ID),
		slog.String("event", created.Event),
		slog.String("target", created.TargetURL),
	)
	return created, nil
}

// UpdateRule validates and replaces an existing subscription.
func (s *Service) UpdateRule(ctx context.Context, rule Rule) (Rule, error) {
	normalized, err := normalize(rule)
	if err != nil {
		return Rule{}, err
	}
	normalized.ID = rule.ID
	return s.store.Update(ctx, normalized)
}

// DeleteRule removes a subscription.
func (s *Service) DeleteRule(ctx context.Context, id int64) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("automation rule deleted", slog.Int64("id", id))
	return nil
}

func normalize(rule Rule) (Rule, error) {
	rule.Name = strings.TrimSpace(rule.Name)
	rule.Event = strings.TrimSpace(rule.Event)
	rule.TargetURL = strings.TrimSpace(rule.TargetURL)
	if rule.Name == "" {
		return Rule{}, fmt.Errorf("%w: name is required", httpx.ErrValidation)
	}
	if rule.Event == "" {
		return Rule{}, fmt.Errorf("%w: event is required", httpx.ErrValidation)
	}
	parsed, err := url.Parse(rule.TargetURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Rule{}, fmt.Errorf("%w: target_url must be an absolute http(s) URL", httpx.ErrValidation)
	}
	return rule, nil
}
