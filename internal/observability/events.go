package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MetricEvent is one recorded occurrence of a named metric.
type MetricEvent struct {
	ID         int64          `json:"id"`
	MetricType string         `json:"metric_type"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// MetricCount aggregates occurrences per metric type.
type MetricCount struct {
	MetricType string `json:"metric_type"`
	Count      int64  `json:"count"`
}

// EventStore persists metric events.
type EventStore interface {
	Insert(ctx context.Context, metricType string, metadata map[string]any) error
	List(ctx context.Context, metricType string, limit int) ([]MetricEvent, error)
	Counts(ctx context.Context, since time.Time) ([]MetricCount, error)
}

// MetricService records metric events. Record is fire-and-forget: the
// insert runs on its own goroutine and storage failures are logged and
// swallowed, so a slow or unavailable metrics store can never delay or
// change an authorization decision.
type MetricService struct {
	store   EventStore
	metrics *Metrics
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewMetricService constructs a MetricService. metrics may be nil.
func NewMetricService(store EventStore, metrics *Metrics, logger *slog.Logger) *MetricService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricService{store: store, metrics: metrics, logger: logger}
}

// Record bumps the matching Prometheus counter and persists one metric
// event in the background. It returns immediately and never surfaces an
// error; the insert uses a fresh context so it outlives the request.
func (s *MetricService) Record(_ context.Context, metricType string, metadata map[string]any) {
	s.metrics.CountDecision(metricType)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("metric event panic", slog.Any("panic", rec))
			}
		}()
		if err := s.store.Insert(context.Background(), metricType, metadata); err != nil {
			s.logger.Error("record metric event",
				slog.String("metric_type", metricType),
				slog.Any("error", err),
			)
		}
	}()
}

// Wait blocks until in-flight event inserts finish. Shutdown and tests only.
func (s *MetricService) Wait() {
	s.wg.Wait()
}

// ListEvents returns recent events, newest first, optionally filtered by
// type. limit is clamped to a sane window.
func (s *MetricService) ListEvents(ctx context.Context, metricType string, limit int) ([]MetricEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.List(ctx, metricType, limit)
}

// CountsSince aggregates event counts per type since the given time.
func (s *MetricService) CountsSince(ctx context.Context, since time.Time) ([]MetricCount, error) {
	return s.store.Counts(ctx, since)
}
