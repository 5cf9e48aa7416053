package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores metric events in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores one metric event.
func (r *Repository) Insert(ctx context.Context, metricType string, metadata map[string]any) error {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("observability: encode metadata: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO metric_events (metric_type, metadata) VALUES ($1, $2)`, metricType, raw)
	if err != nil {
		return fmt.Errorf("observability: insert metric event: %w", err)
	}
	return nil
}

// List returns recent events, newest first. metricType filters when set.
func (r *Repository) List(ctx context.Context, metricType string, limit int) ([]MetricEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, metric_type, metadata, created_at
		FROM metric_events
		WHERE ($1 = '' OR metric_type = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, metricType, limit)
	if err != nil {
		return nil, fmt.Errorf("observability: list metric events: %w", err)
	}
	defer rows.Close()

	var events []MetricEvent
	for rows.Next() {
		var (
			event MetricEvent
			raw   []byte
		)
		if err := rows.Scan(&event.ID, &event.MetricType, &raw, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("observability: scan metric event: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &event.Metadata); err != nil {
				return nil, fmt.Errorf("observability: decode metadata: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Counts aggregates events per type since a point in time.
func (r *Repository) Counts(ctx context.Context, since time.Time) ([]MetricCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT metric_type, COUNT(*)
		FROM metric_events
		WHERE created_at >= $1
		GROUP BY metric_type
		ORDER BY metric_type`, since)
	if err != nil {
		return nil, fmt.Errorf("observability: count metric events: %w", err)
	}
	defer rows.Close()

	var counts []MetricCount
	for rows.Next() {
		var c MetricCount
		if err := rows.Scan(&c.MetricType, &c.Count); err != nil {
			return nil, fmt.Errorf("observability: scan count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
