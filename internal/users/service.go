package users

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/sentra-platform/sentra/internal/automation"
	"github.com/sentra-platform/sentra/internal/platform/httpx"
)

// Store defines data access methods for accounts.
type Store interface {
	List(ctx context.Context) ([]User, error)
	Get(ctx context.Context, id int64) (User, error)
	Create(ctx context.Context, user User, passwordHash string) (User, error)
	Update(ctx context.Context, user User, passwordHash string) (User, error)
	Delete(ctx context.Context, id int64) error
}

// Invalidator drops cached identities after mutations.
type Invalidator interface {
	Invalidate(token string)
}

// EventTrigger publishes lifecycle events to the automation dispatcher.
type EventTrigger interface {
	Trigger(event string, payload map[string]any)
}

const minPasswordLength = 8

// Service handles account business logic. Every mutation invalidates the
// affected identity in the resolver cache and emits a lifecycle event;
// neither can fail the mutation itself.
type Service struct {
	store    Store
	resolver Invalidator
	events   EventTrigger
	logger   *slog.Logger
}

// NewService builds a Service. resolver and events may be nil.
func NewService(store Store, resolver Invalidator, events EventTrigger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, resolver: resolver, events: events, logger: logger}
}

// ListUsers returns all accounts.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.store.List(ctx)
}

// GetUser returns one account by id.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.store.Get(ctx, id)
}

// CreateUser hashes the password, stores the account and announces it.
func (s *Service) CreateUser(ctx context.Context, input CreateInput) (User, error) {
	email := normalizeEmail(input.Email)
	if email == "" {
		return User{}, fmt.Errorf("%w: email is required", httpx.ErrValidation)
	}
	if len(input.Password) < minPasswordLength {
		return User{}, fmt.Errorf("%w: password must be at least %d characters", httpx.ErrValidation, minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}
	created, err := s.store.Create(ctx, User{
		Email:      email,
		FirstName:  strings.TrimSpace(input.FirstName),
		LastName:   strings.TrimSpace(input.LastName),
		Department: strings.TrimSpace(input.Department),
		Location:   strings.TrimSpace(input.Location),
		Active:     true,
		Attributes: input.Attributes,
		RoleIDs:    input.RoleIDs,
	}, string(hash))
	if err != nil {
		return User{}, err
	}
	s.logger.Info("user created", slog.Int64("id", created.ID), slog.String("email", created.Email))
	s.invalidate(created.Email)
	s.announce(automation.EventUserCreated, map[string]any{
		"id":    created.ID,
		"email": created.Email,
	})
	return created, nil
}

// UpdateUser replaces the mutable fields. Role or attribute changes must not
// be masked by a stale cached identity, so the cache entry is dropped for
// both the old and new email.
func (s *Service) UpdateUser(ctx context.Context, id int64, input UpdateInput) (User, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	email := normalizeEmail(input.Email)
	if email == "" {
		return User{}, fmt.Errorf("%w: email is required", httpx.ErrValidation)
	}
	var hash string
	if input.Password != "" {
		if len(input.Password) < minPasswordLength {
			return User{}, fmt.Errorf("%w: password must be at least %d characters", httpx.ErrValidation, minPasswordLength)
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			return User{}, fmt.Errorf("users: hash password: %w", err)
		}
		hash = string(hashed)
	}
	active := current.Active
	if input.Active != nil {
		active = *input.Active
	}
	updated, err := s.store.Update(ctx, User{
		ID:         id,
		Email:      email,
		FirstName:  strings.TrimSpace(input.FirstName),
		LastName:   strings.TrimSpace(input.LastName),
		Department: strings.TrimSpace(input.Department),
		Location:   strings.TrimSpace(input.Location),
		Active:     active,
		Attributes: input.Attributes,
		RoleIDs:    input.RoleIDs,
	}, hash)
	if err != nil {
		return User{}, err
	}
	s.invalidate(current.Email)
	s.invalidate(updated.Email)
	return updated, nil
}

// DeleteUser removes the account and announces it.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("user deleted", slog.Int64("id", id), slog.String("email", current.Email))
	s.invalidate(current.Email)
	s.announce(automation.EventUserDeleted, map[string]any{
		"id":    id,
		"email": current.Email,
	})
	return nil
}

func (s *Service) invalidate(email string) {
	if s.resolver != nil {
		s.resolver.Invalidate(email)
	}
}

func (s *Service) announce(event string, payload map[string]any) {
	if s.events != nil {
		s.events.Trigger(event, payload)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
