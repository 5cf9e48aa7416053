package automation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentra-platform/sentra/internal/shared"
)

// Repository provides PostgreSQL backed persistence for automation rules.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

const ruleColumns = `id, name, event, target_url, enabled, created_at, updated_at`

// ListEnabledByEvent returns the enabled rules subscribed to an event.
func (r *Repository) ListEnabledByEvent(ctx context.Context, event string) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ruleColumns+` FROM automation_rules
		WHERE event = $1 AND enabled ORDER BY id`, event)
	if err != nil {
		return nil, fmt.Errorf("automation: list rules for %s: %w", event, err)
	}
	return scanRules(rows)
}

// List returns all rules for the management API.
func (r *Repository) List(ctx context.Context) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ruleColumns+` FROM automation_rules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("automation: list rules: %w", err)
	}
	return scanRules(rows)
}

// Get returns a single rule by ID.
func (r *Repository) Get(ctx context.Context, id int64) (Rule, error) {
	var rule Rule
	err := r.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM automation_rules WHERE id = $1`, id).
		Scan(&rule.ID, &rule.Name, &rule.Event, &rule.TargetURL, &rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rule{}, shared.ErrNotFound
		}
		return Rule{}, fmt.Errorf("automation: get rule: %w", err)
	}
	return rule, nil
}

// Create inserts a rule.
func (r *Repository) Create(ctx context.Context, rule Rule) (Rule, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO automation_rules (name, event, target_url, enabled)
		VALUES ($1, $2, $3, $4) RETURNING `+ruleColumns,
		rule.Name, rule.Event, rule.TargetURL, rule.Enabled,
	).Scan(&rule.ID, &rule.Name, &rule.Event, &rule.TargetURL, &rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return Rule{}, fmt.Errorf("automation: create rule: %w", err)
	}
	return rule, nil
}

// Update rewrites a rule in place.
func (r *Repository) Update(ctx context.Context, rule Rule) (Rule, error) {
	err := r.pool.QueryRow(ctx, `UPDATE automation_rules
		SET name = $2, event = $3, target_url = $4, enabled = $5, updated_at = now()
		WHERE id = $1 RETURNING `+ruleColumns,
		rule.ID, rule.Name, rule.Event, rule.TargetURL, rule.Enabled,
	).Scan(&rule.ID, &rule.Name, &rule.Event, &rule.TargetURL, &rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rule{}, shared.ErrNotFound
		}
		return Rule{}, fmt.Errorf("automation: update rule: %w", err)
	}
	return rule, nil
}

// Delete removes a rule by ID.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM automation_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("automation: delete rule: %w", err)
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
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Event, &rule.TargetURL, &rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("automation: scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("automation: iterate rules: %w", err)
	}
	return rules, nil
}
