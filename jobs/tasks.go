package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeDailyReport aggregates decision metrics into a daily report.
	TaskTypeDailyReport = "report:daily"
	// TaskTypeSecurityScan checks recent deny volume against the alert threshold.
	TaskTypeSecurityScan = "security:scan"
)

// DailyReportPayload selects the day to report on. An empty day means the
// previous calendar day in UTC.
type DailyReportPayload struct {
	Day string `json:"day,omitempty"`
}

// SecurityScanPayload tunes the deny-rate scan window and threshold.
type SecurityScanPayload struct {
	WindowMinutes int   `json:"window_minutes,omitempty"`
	Threshold     int64 `json:"threshold,omitempty"`
}

// NewDailyReportTask constructs the daily report task.
func NewDailyReportTask(payload DailyReportPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDailyReport, data), nil
}

// NewSecurityScanTask constructs the deny-rate scan task.
func NewSecurityScanTask(payload SecurityScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSecurityScan, data), nil
}
