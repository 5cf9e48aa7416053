package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentra-platform/sentra/internal/automation"
	jobmetrics "github.com/sentra-platform/sentra/internal/jobs"
	"github.com/sentra-platform/sentra/internal/observability"
)

// MetricSource aggregates decision metric counts over a time window.
type MetricSource interface {
	DecisionCounts(ctx context.Context, from, to time.Time) ([]observability.MetricCount, error)
}

// EventTrigger fans automation events out to webhook targets.
type EventTrigger interface {
	Trigger(event string, payload map[string]any)
}

// PoolMetricSource reads decision counts straight from the metric event table.
type PoolMetricSource struct {
	Pool *pgxpool.Pool
}

// DecisionCounts groups metric events by type within [from, to).
func (s *PoolMetricSource) DecisionCounts(ctx context.Context, from, to time.Time) ([]observability.MetricCount, error) {
	if s == nil || s.Pool == nil {
		return nil, errors.New("jobs: metric source pool not configured")
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT metric_type, COUNT(*)
		FROM metric_events
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY metric_type
		ORDER BY metric_type`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []observability.MetricCount
	for rows.Next() {
		var c observability.MetricCount
		if err := rows.Scan(&c.MetricType, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// DailyReport is the document produced for one UTC calendar day.
type DailyReport struct {
	Day         string           `json:"day"`
	Totals      map[string]int64 `json:"totals"`
	TotalDenies int64            `json:"total_denies"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// DailyReportJob aggregates decision metrics for a day and caches the result.
type DailyReportJob struct {
	Source  MetricSource
	Cache   *ReportCache
	Events  EventTrigger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewDailyReportJob initialises the daily report handler.
func NewDailyReportJob(source MetricSource, cache *ReportCache, events EventTrigger, logger *slog.Logger, metrics *jobmetrics.Metrics) *DailyReportJob {
	return &DailyReportJob{
		Source:  source,
		Cache:   cache,
		Events:  events,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the daily report aggregation.
func (j *DailyReportJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("daily report: handler not configured")
	}
	var payload DailyReportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskTypeDailyReport)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	day, from, to, err := j.window(payload.Day)
	if err != nil {
		j.logger().Error("invalid report day", slog.String("day", payload.Day), slog.Any("error", err))
		return asynq.SkipRetry
	}

	logger := j.logger().With(slog.String("day", day))
	logger.Info("building daily report")

	report, err := j.build(ctx, day, from, to)
	if err != nil {
		resultErr = err
		logger.Error("daily report failed", slog.Any("error", err))
		return resultErr
	}

	if err := j.Cache.Store(ctx, reportKey(day), report); err != nil {
		// The report still reaches subscribers; a cold cache only costs a rebuild.
		logger.Warn("cache daily report", slog.Any("error", err))
	}

	if j.Events != nil {
		j.Events.Trigger(automation.EventReportDaily, map[string]any{
			"day":          report.Day,
			"totals":       report.Totals,
			"total_denies": report.TotalDenies,
		})
	}

	logger.Info("completed daily report",
		slog.Int("metric_types", len(report.Totals)),
		slog.Int64("total_denies", report.TotalDenies),
	)
	return resultErr
}

func (j *DailyReportJob) build(ctx context.Context, day string, from, to time.Time) (*DailyReport, error) {
	if j.Source == nil {
		return nil, errors.New("daily report: metric source not configured")
	}
	counts, err := j.Source.DecisionCounts(ctx, from, to)
	if err != nil {
		return nil, err
	}
	report := &DailyReport{
		Day:         day,
		Totals:      make(map[string]int64, len(counts)),
		GeneratedAt: j.now(),
	}
	for _, c := range counts {
		report.Totals[c.MetricType] = c.Count
		if c.MetricType == "rbac_deny" || c.MetricType == "abac_deny" {
			report.TotalDenies += c.Count
		}
	}
	return report, nil
}

// window resolves the requested day to its UTC bounds. Empty means yesterday.
func (j *DailyReportJob) window(day string) (string, time.Time, time.Time, error) {
	var from time.Time
	if day == "" {
		from = j.now().Truncate(24 * time.Hour).AddDate(0, 0, -1)
	} else {
		parsed, err := time.ParseInLocation("2006-01-02", day, time.UTC)
		if err != nil {
			return "", time.Time{}, time.Time{}, err
		}
		from = parsed
	}
	return from.Format("2006-01-02"), from, from.AddDate(0, 0, 1), nil
}

func (j *DailyReportJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskTypeDailyReport))
	}
	return slog.Default().With(slog.String("job", TaskTypeDailyReport))
}

func (j *DailyReportJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *DailyReportJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
