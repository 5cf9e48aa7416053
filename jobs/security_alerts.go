package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sentra-platform/sentra/internal/automation"
	jobmetrics "github.com/sentra-platform/sentra/internal/jobs"
)

const (
	defaultScanWindowMinutes = 15
	defaultDenyThreshold     = 25
)

// SecurityScanJob compares recent deny volume against a threshold and raises
// an alert event when the rate looks abusive.
type SecurityScanJob struct {
	Source    MetricSource
	Events    EventTrigger
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	Threshold int64
	clock     func() time.Time
}

// NewSecurityScanJob initialises the deny-rate scan handler.
func NewSecurityScanJob(source MetricSource, events EventTrigger, logger *slog.Logger, metrics *jobmetrics.Metrics, threshold int64) *SecurityScanJob {
	return &SecurityScanJob{
		Source:    source,
		Events:    events,
		Logger:    logger,
		Metrics:   metrics,
		Threshold: threshold,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the deny-rate scan.
func (j *SecurityScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("security scan: handler not configured")
	}
	var payload SecurityScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.WindowMinutes <= 0 {
		payload.WindowMinutes = defaultScanWindowMinutes
	}
	threshold := payload.Threshold
	if threshold <= 0 {
		threshold = j.Threshold
	}
	if threshold <= 0 {
		threshold = defaultDenyThreshold
	}

	tracker := j.metrics().Track(TaskTypeSecurityScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	now := j.now()
	window := time.Duration(payload.WindowMinutes) * time.Minute
	logger := j.logger().With(
		slog.Int("window_minutes", payload.WindowMinutes),
		slog.Int64("threshold", threshold),
	)
	logger.Info("starting deny-rate scan")

	denies, err := j.countDenies(ctx, now.Add(-window), now)
	if err != nil {
		resultErr = err
		logger.Error("deny-rate scan failed", slog.Any("error", err))
		return resultErr
	}

	if denies >= threshold {
		severity := "MEDIUM"
		if denies >= threshold*2 {
			severity = "HIGH"
		}
		logger.Warn("deny-rate threshold exceeded",
			slog.Int64("denies", denies),
			slog.String("severity", severity),
		)
		j.metrics().AddAlerts(severity, 1)
		if j.Events != nil {
			j.Events.Trigger(automation.EventSecurityAlert, map[string]any{
				"denies":         denies,
				"threshold":      threshold,
				"window_minutes": payload.WindowMinutes,
				"severity":       severity,
			})
		}
	}

	logger.Info("completed deny-rate scan", slog.Int64("denies", denies))
	return resultErr
}

func (j *SecurityScanJob) countDenies(ctx context.Context, from, to time.Time) (int64, error) {
	if j.Source == nil {
		return 0, errors.New("security scan: metric source not configured")
	}
	counts, err := j.Source.DecisionCounts(ctx, from, to)
	if err != nil {
		return 0, err
	}
	var denies int64
	for _, c := range counts {
		if c.MetricType == "rbac_deny" || c.MetricType == "abac_deny" {
			denies += c.Count
		}
	}
	return denies, nil
}

func (j *SecurityScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskTypeSecurityScan))
	}
	return slog.Default().With(slog.String("job", TaskTypeSecurityScan))
}

func (j *SecurityScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *SecurityScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
