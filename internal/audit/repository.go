package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores audit entries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores one entry.
func (r *Repository) Insert(ctx context.Context, entry Entry) error {
	raw, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("audit: encode metadata: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_entries (actor, action, entity, entity_id, metadata, at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.Actor, entry.Action, entry.Entity, entry.EntityID, raw, entry.At)
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

// Window returns limit rows starting at offset, newest first, within the
// filter bounds. Callers request one extra row to detect a next page.
func (r *Repository) Window(ctx context.Context, filters Filters, offset, limit int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, actor, action, entity, entity_id, metadata, at
		FROM audit_entries
		WHERE at >= $1 AND at < $2
		  AND ($3 = '' OR actor = $3)
		  AND ($4 = '' OR entity = $4)
		  AND ($5 = '' OR action = $5)
		ORDER BY at DESC, id DESC
		OFFSET $6 LIMIT $7`,
		filters.From, filters.To.Add(24*time.Hour), filters.Actor, filters.Entity, filters.Action,
		offset, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline window: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry Entry
			raw   []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Actor, &entry.Action, &entry.Entity, &entry.EntityID, &raw, &entry.At); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("audit: decode metadata: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
