// Package system records process-level failures (panics, background job
// errors) so operators can inspect them without log archaeology.
package system

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrorRecord is one captured failure.
type ErrorRecord struct {
	ID        int64          `json:"id"`
	Source    string         `json:"source"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ErrorStore persists error records.
type ErrorStore interface {
	Insert(ctx context.Context, source, message string, metadata map[string]any) error
	Recent(ctx context.Context, limit int) ([]ErrorRecord, error)
}

// Repository stores error records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores one record.
func (r *Repository) Insert(ctx context.Context, source, message string, metadata map[string]any) error {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("system: encode metadata: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO system_errors (source, message, metadata) VALUES ($1, $2, $3)`,
		source, message, raw)
	if err != nil {
		return fmt.Errorf("system: insert error record: %w", err)
	}
	return nil
}

// Recent returns the latest records.
func (r *Repository) Recent(ctx context.Context, limit int) ([]ErrorRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, source, message, metadata, created_at
		FROM system_errors ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("system: list error records: %w", err)
	}
	defer rows.Close()

	var records []ErrorRecord
	for rows.Next() {
		var (
			rec ErrorRecord
			raw []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Source, &rec.Message, &raw, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("system: scan error record: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("system: decode metadata: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ErrorLog records failures, best-effort. A nil ErrorLog is usable and drops
// everything, which keeps test wiring small.
type ErrorLog struct {
	store  ErrorStore
	logger *slog.Logger
}

// NewErrorLog builds an ErrorLog.
func NewErrorLog(store ErrorStore, logger *slog.Logger) *ErrorLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorLog{store: store, logger: logger}
}

// LogError stores one failure. It never returns an error; the store being
// down is itself logged and dropped.
func (l *ErrorLog) LogError(ctx context.Context, source string, cause error, metadata map[string]any) {
	if l == nil {
		return
	}
	l.logger.Error("system error",
		slog.String("source", source),
		slog.Any("error", cause),
	)
	if l.store == nil {
		return
	}
	if err := l.store.Insert(ctx, source, cause.Error(), metadata); err != nil {
		l.logger.Error("persist system error", slog.Any("error", err))
	}
}
