package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentra-platform/sentra/internal/shared"
)

// Repository loads resolved identities from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByEmail fetches the user row and its full roles-to-permissions graph.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	ident, err := r.scanUser(ctx, `
		SELECT id, email, first_name, last_name, department, location, active, attributes
		FROM users WHERE email = $1`, email)
	if err != nil {
		return nil, err
	}
	if err := r.loadRoles(ctx, ident); err != nil {
		return nil, err
	}
	return ident, nil
}

// First returns the earliest created active user, used as the default
// identity when no token accompanies a request.
func (r *Repository) First(ctx context.Context) (*Identity, error) {
	ident, err := r.scanUser(ctx, `
		SELECT id, email, first_name, last_name, department, location, active, attributes
		FROM users WHERE active ORDER BY id LIMIT 1`)
	if err != nil {
		return nil, err
	}
	if err := r.loadRoles(ctx, ident); err != nil {
		return nil, err
	}
	return ident, nil
}

func (r *Repository) scanUser(ctx context.Context, query string, args ...any) (*Identity, error) {
	var (
		ident Identity
		raw   []byte
	)
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&ident.ID, &ident.Email, &ident.FirstName, &ident.LastName,
		&ident.Department, &ident.Location, &ident.Active, &raw,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("identity: load user: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &ident.Attributes); err != nil {
			return nil, fmt.Errorf("identity: decode attributes: %w", err)
		}
	}
	return &ident, nil
}

func (r *Repository) loadRoles(ctx context.Context, ident *Identity) error {
	rows, err := r.pool.Query(ctx, `
		SELECT r.id, r.name, r.is_system, p.id, p.name, p.description
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
		ORDER BY r.id, p.id`, ident.ID)
	if err != nil {
		return fmt.Errorf("identity: load roles: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]*Role)
	var order []int64
	for rows.Next() {
		var (
			roleID   int64
			roleName string
			isSystem bool
			permID   *int64
			permName *string
			permDesc *string
		)
		if err := rows.Scan(&roleID, &roleName, &isSystem, &permID, &permName, &permDesc); err != nil {
			return fmt.Errorf("identity: scan role: %w", err)
		}
		role, ok := byID[roleID]
		if !ok {
			role = &Role{ID: roleID, Name: roleName, IsSystem: isSystem}
			byID[roleID] = role
			order = append(order, roleID)
		}
		if permID != nil && permName != nil {
			perm := Permission{ID: *permID, Name: *permName}
			if permDesc != nil {
				perm.Description = *permDesc
			}
			role.Permissions = append(role.Permissions, perm)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("identity: iterate roles: %w", err)
	}

	ident.Roles = make([]Role, 0, len(order))
	for _, id := range order {
		ident.Roles = append(ident.Roles, *byID[id])
	}
	return nil
}
