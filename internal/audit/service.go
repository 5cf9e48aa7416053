package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// Store is the persistence surface the service needs.
type Store interface {
	Insert(ctx context.Context, entry Entry) error
	Window(ctx context.Context, filters Filters, offset, limit int) ([]Entry, error)
}

// Service records and queries the audit trail.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds an audit service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// Record stores one entry. Failures are logged and swallowed: losing an
// audit row is preferable to failing the recorded action.
func (s *Service) Record(ctx context.Context, actor, action, entity, entityID string, metadata map[string]any) {
	entry := Entry{
		Actor:    actor,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Metadata: metadata,
		At:       s.now().UTC(),
	}
	if err := s.store.Insert(ctx, entry); err != nil {
		s.logger.Error("record audit entry",
			slog.String("action", action),
			slog.String("entity", entity),
			slog.Any("error", err),
		)
	}
}

// Timeline fetches audit entries with paging. One row beyond the page is
// requested to detect whether a next page exists.
func (s *Service) Timeline(ctx context.Context, filters Filters) (Result, error) {
	if s.store == nil {
		return Result{}, fmt.Errorf("audit: store not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	rows, err := s.store.Window(ctx, filters, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}
