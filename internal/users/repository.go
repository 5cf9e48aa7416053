package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentra-platform/sentra/internal/platform/db"
	"github.com/sentra-platform/sentra/internal/platform/httpx"
	"github.com/sentra-platform/sentra/internal/shared"
)

const userColumns = `id, email, first_name, last_name, department, location, active, attributes, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for accounts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns all users ordered by id, with their role assignments.
func (r *Repository) List(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	for i := range out {
		if out[i].RoleIDs, err = r.roleIDs(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Get returns one user by id.
func (r *Repository) Get(ctx context.Context, id int64) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		return User{}, err
	}
	if user.RoleIDs, err = r.roleIDs(ctx, user.ID); err != nil {
		return User{}, err
	}
	return user, nil
}

// Create inserts the user and its role assignments in one transaction.
func (r *Repository) Create(ctx context.Context, user User, passwordHash string) (User, error) {
	attrs, err := encodeAttributes(user.Attributes)
	if err != nil {
		return User{}, err
	}
	var created User
	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO users (email, password_hash, first_name, last_name, department, location, active, attributes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+userColumns,
			user.Email, passwordHash, user.FirstName, user.LastName,
			user.Department, user.Location, user.Active, attrs,
		)
		created, err = scanUser(row)
		if err != nil {
			return err
		}
		return replaceRoles(ctx, tx, created.ID, user.RoleIDs)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, fmt.Errorf("%w: email already registered", httpx.ErrDuplicate)
		}
		return User{}, err
	}
	created.RoleIDs = append([]int64(nil), user.RoleIDs...)
	return created, nil
}

// Update replaces the user row and its role assignments. An empty
// passwordHash keeps the stored one.
func (r *Repository) Update(ctx context.Context, user User, passwordHash string) (User, error) {
	attrs, err := encodeAttributes(user.Attributes)
	if err != nil {
		return User{}, err
	}
	var updated User
	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE users SET
				email = $2, first_name = $3, last_name = $4, department = $5,
				location = $6, active = $7, attributes = $8,
				password_hash = CASE WHEN $9 = '' THEN password_hash ELSE $9 END,
				updated_at = now()
			WHERE id = $1
			RETURNING `+userColumns,
			user.ID, user.Email, user.FirstName, user.LastName, user.Department,
			user.Location, user.Active, attrs, passwordHash,
		)
		updated, err = scanUser(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return shared.ErrNotFound
			}
			return err
		}
		return replaceRoles(ctx, tx, updated.ID, user.RoleIDs)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, fmt.Errorf("%w: email already registered", httpx.ErrDuplicate)
		}
		return User{}, err
	}
	updated.RoleIDs = append([]int64(nil), user.RoleIDs...)
	return updated, nil
}

// Delete removes the user. Role assignments go with it via ON DELETE CASCADE.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("users: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *Repository) roleIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT role_id FROM user_roles WHERE user_id = $1 ORDER BY role_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("users: load roles: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("users: scan role: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func replaceRoles(ctx context.Context, tx pgx.Tx, userID int64, roleIDs []int64) error {
	if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("users: clear roles: %w", err)
	}
	for _, roleID := range roleIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`, userID, roleID); err != nil {
			return fmt.Errorf("users: assign role %d: %w", roleID, err)
		}
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		user User
		raw  []byte
	)
	err := row.Scan(
		&user.ID, &user.Email, &user.FirstName, &user.LastName,
		&user.Department, &user.Location, &user.Active, &raw,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &user.Attributes); err != nil {
			return User{}, fmt.Errorf("users: decode attributes: %w", err)
		}
	}
	return user, nil
}

func encodeAttributes(attrs map[string]any) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("users: encode attributes: %w", err)
	}
	return raw, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
