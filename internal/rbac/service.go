package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sentra-platform/sentra/internal/platform/httpx"
)

// Store defines catalog persistence.
type Store interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, name, description string) (Role, error)
	UpdateRole(ctx context.Context, id int64, name, description string) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	ListPermissions(ctx context.Context) ([]Permission, error)
	CreatePermission(ctx context.Context, name, description string) (Permission, error)
}

// Service orchestrates catalog operations.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// GetRole fetches a role by id.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.store.GetRole(ctx, id)
}

// CreateRole inserts a new role.
func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", httpx.ErrValidation)
	}
	role, err := s.store.CreateRole(ctx, name, strings.TrimSpace(description))
	if err != nil {
		return Role{}, err
	}
	s.logger.Info("role created", slog.Int64("id", role.ID), slog.String("name", role.Name))
	return role, nil
}

// UpdateRole renames an existing role. System roles can be renamed, only
// deletion is blocked.
func (s *Service) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", httpx.ErrValidation)
	}
	return s.store.UpdateRole(ctx, id, name, strings.TrimSpace(description))
}

// DeleteRole removes a role. Seeded system roles are refused so a tenant
// cannot lock every administrator out.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	role, err := s.store.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: system role %q cannot be deleted", httpx.ErrProtected, role.Name)
	}
	if err := s.store.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.logger.Info("role deleted", slog.Int64("id", id), slog.String("name", role.Name))
	return nil
}

// SetRolePermissions replaces a role's permission set. Identities resolved
// before the change keep their old grants until their cache entry lapses.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if err := s.store.SetRolePermissions(ctx, roleID, permissionIDs); err != nil {
		return err
	}
	s.logger.Info("role permissions replaced",
		slog.Int64("role_id", roleID),
		slog.Int("count", len(permissionIDs)),
	)
	return nil
}

// ListPermissions returns the permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// CreatePermission inserts a new permission.
func (s *Service) CreatePermission(ctx context.Context, name, description string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, fmt.Errorf("%w: permission name is required", httpx.ErrValidation)
	}
	perm, err := s.store.CreatePermission(ctx, name, strings.TrimSpace(description))
	if err != nil {
		return Permission{}, err
	}
	s.logger.Info("permission created", slog.Int64("id", perm.ID), slog.String("name", perm.Name))
	return perm, nil
}
