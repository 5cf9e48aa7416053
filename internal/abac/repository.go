package abac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentra-platform/sentra/internal/platform/httpx"
	"github.com/sentra-platform/sentra/internal/shared"
)

// Repository provides PostgreSQL backed persistence for ABAC rules.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const ruleColumns = `id, name, permission_name, attribute, operator, value, effect, created_at, updated_at`

// ListByPermission returns the rules for a permission in evaluation order.
// Creation order is the evaluation order.
func (r *Repository) ListByPermission(ctx context.Context, permissionName string) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ruleColumns+` FROM abac_rules
		WHERE permission_name = $1 ORDER BY created_at, id`, permissionName)
	if err != nil {
		return nil, fmt.Errorf("abac: list rules for %s: %w", permissionName, err)
	}
	return scanRules(rows)
}

// List returns all rules, newest first, for the management API.
func (r *Repository) List(ctx context.Context) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ruleColumns+` FROM abac_rules ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("abac: list rules: %w", err)
	}
	return scanRules(rows)
}

// Get fetches a rule by ID.
func (r *Repository) Get(ctx context.Context, id int64) (Rule, error) {
	var rule Rule
	err := r.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM abac_rules WHERE id = $1`, id).Scan(
		&rule.ID, &rule.Name, &rule.PermissionName, &rule.Attribute,
		&rule.Operator, &rule.Value, &rule.Effect, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rule{}, shared.ErrNotFound
		}
		return Rule{}, fmt.Errorf("abac: get rule: %w", err)
	}
	return rule, nil
}

// Create inserts a rule.
func (r *Repository) Create(ctx context.Context, rule Rule) (Rule, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO abac_rules (name, permission_name, attribute, operator, value, effect)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+ruleColumns,
		rule.Name, rule.PermissionName, rule.Attribute, rule.Operator, rule.Value, rule.Effect,
	).Scan(
		&rule.ID, &rule.Name, &rule.PermissionName, &rule.Attribute,
		&rule.Operator, &rule.Value, &rule.Effect, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Rule{}, httpx.ErrDuplicate
		}
		return Rule{}, fmt.Errorf("abac: create rule: %w", err)
	}
	return rule, nil
}

// Update rewrites a rule in place.
func (r *Repository) Update(ctx context.Context, rule Rule) (Rule, error) {
	err := r.pool.QueryRow(ctx, `UPDATE abac_rules
		SET name = $2, permission_name = $3, attribute = $4, operator = $5, value = $6, effect = $7, updated_at = now()
		WHERE id = $1
		RETURNING `+ruleColumns,
		rule.ID, rule.Name, rule.PermissionName, rule.Attribute, rule.Operator, rule.Value, rule.Effect,
	).Scan(
		&rule.ID, &rule.Name, &rule.PermissionName, &rule.Attribute,
		&rule.Operator, &rule.Value, &rule.Effect, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rule{}, shared.ErrNotFound
		}
		return Rule{}, fmt.Errorf("abac: update rule: %w", err)
	}
	return rule, nil
}

// Delete removes a rule by ID.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM abac_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("abac: delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanRules(rows pgx.Rows) ([]Rule, error) {
	defer rows.Close()
	var rules []Rule
	for rows.Next() {
		var rule Rule
		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.PermissionName, &rule.Attribute,
			&rule.Operator, &rule.Value, &rule.Effect, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("abac: scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("abac: iterate rules: %w", err)
	}
	return rules, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
