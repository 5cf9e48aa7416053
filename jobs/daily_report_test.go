package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/sentra-platform/sentra/internal/automation"
	"github.com/sentra-platform/sentra/internal/observability"
)

type stubMetricSource struct {
	counts []observability.MetricCount
	err    error
	from   time.Time
	to     time.Time
	calls  int
}

func (s *stubMetricSource) DecisionCounts(ctx context.Context, from, to time.Time) ([]observability.MetricCount, error) {
	s.calls++
	s.from = from
	s.to = to
	return s.counts, s.err
}

type recordedEvent struct {
	Event   string
	Payload map[string]any
}

type stubEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (s *stubEvents) Trigger(event string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{Event: event, Payload: payload})
}

func newTestCache(t *testing.T) (*ReportCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewReportCache(client, time.Hour), mr
}

func asynqTask(taskType string, payload []byte) *asynq.Task {
	return asynq.NewTask(taskType, payload)
}

func mustTask(t *testing.T, payload DailyReportPayload) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func TestDailyReportAggregatesAndCaches(t *testing.T) {
	source := &stubMetricSource{counts: []observability.MetricCount{
		{MetricType: "abac_deny", Count: 3},
		{MetricType: "rbac_deny", Count: 7},
		{MetricType: "user.created", Count: 2},
	}}
	events := &stubEvents{}
	cache, mr := newTestCache(t)

	job := &DailyReportJob{
		Source: source,
		Cache:  cache,
		Events: events,
		clock: func() time.Time {
			return time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
		},
	}

	task := asynqTask(TaskTypeDailyReport, mustTask(t, DailyReportPayload{Day: "2026-03-09"}))
	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}

	wantFrom := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	if !source.from.Equal(wantFrom) || !source.to.Equal(wantFrom.AddDate(0, 0, 1)) {
		t.Fatalf("unexpected window %v .. %v", source.from, source.to)
	}

	raw, err := mr.Get("reports:daily:2026-03-09")
	if err != nil {
		t.Fatalf("cached report missing: %v", err)
	}
	var report DailyReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if report.TotalDenies != 10 {
		t.Fatalf("expected 10 denies, got %d", report.TotalDenies)
	}
	if report.Totals["user.created"] != 2 {
		t.Fatalf("unexpected totals %v", report.Totals)
	}

	if len(events.events) != 1 || events.events[0].Event != automation.EventReportDaily {
		t.Fatalf("expected one report.daily event, got %v", events.events)
	}
}

func TestDailyReportDefaultsToYesterday(t *testing.T) {
	source := &stubMetricSource{}
	job := &DailyReportJob{
		Source: source,
		clock: func() time.Time {
			return time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
		},
	}

	task := asynqTask(TaskTypeDailyReport, mustTask(t, DailyReportPayload{}))
	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	wantFrom := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	if !source.from.Equal(wantFrom) {
		t.Fatalf("expected window starting %v, got %v", wantFrom, source.from)
	}
}

func TestDailyReportRejectsBadDay(t *testing.T) {
	source := &stubMetricSource{}
	job := &DailyReportJob{Source: source}

	task := asynqTask(TaskTypeDailyReport, mustTask(t, DailyReportPayload{Day: "not-a-date"}))
	if err := job.Handle(context.Background(), task); err == nil {
		t.Fatal("expected error for invalid day")
	}
	if source.calls != 0 {
		t.Fatalf("source should not be queried, got %d calls", source.calls)
	}
}

func TestReportCacheFetchJSONPopulatesOnce(t *testing.T) {
	cache, _ := newTestCache(t)

	loads := 0
	loader := func(ctx context.Context) (interface{}, error) {
		loads++
		return map[string]int{"value": 42}, nil
	}

	var first, second map[string]int
	if err := cache.FetchJSON(context.Background(), "reports:test", &first, loader); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if err := cache.FetchJSON(context.Background(), "reports:test", &second, loader); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if loads != 1 {
		t.Fatalf("expected one loader call, got %d", loads)
	}
	if second["value"] != 42 {
		t.Fatalf("unexpected cached value %v", second)
	}
}
