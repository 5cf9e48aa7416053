package automation

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRules struct {
	rules []Rule
	calls atomic.Int64
}

func (s *staticRules) ListEnabledByEvent(_ context.Context, _ string) ([]Rule, error) {
	s.calls.Add(1)
	return s.rules, nil
}

func testConfig() DispatcherConfig {
	return DispatcherConfig{
		HTTPTimeout:      time.Second,
		Retries:          0,
		RetryDelay:       time.Millisecond,
		FailureThreshold: 3,
		Cooldown:         60 * time.Millisecond,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcherDeliversEnvelope(t *testing.T) {
	var got Envelope
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	source := &staticRules{rules: []Rule{{ID: 1, Name: "notify", Event: "user.created", TargetURL: srv.URL, Enabled: true}}}
	d := NewDispatcher(source, testConfig(), quietLogger(), nil)

	d.Trigger("user.created", map[string]any{"email": "ada@example.com"})
	d.Wait()

	assert.Equal(t, int64(1), hits.Load())
	assert.Equal(t, "user.created", got.Event)
	assert.Equal(t, "ada@example.com", got.Payload["email"])
	assert.False(t, got.TriggeredAt.IsZero())
}

func TestDispatcherRetriesFailedDelivery(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Retries = 2
	source := &staticRules{rules: []Rule{{ID: 1, Name: "flaky", Event: "report.daily", TargetURL: srv.URL, Enabled: true}}}
	d := NewDispatcher(source, cfg, quietLogger(), nil)

	d.Trigger("report.daily", nil)
	d.Wait()

	// Two failures plus the successful third attempt within one delivery.
	assert.Equal(t, int64(3), hits.Load())
	assert.Equal(t, gobreaker.StateClosed, d.State())
}

func TestDispatcherOpensBreakerAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	source := &staticRules{rules: []Rule{{ID: 1, Name: "down", Event: "abac.denied", TargetURL: srv.URL, Enabled: true}}}
	d := NewDispatcher(source, testConfig(), quietLogger(), nil)

	for i := 0; i < 3; i++ {
		d.Trigger("abac.denied", nil)
		d.Wait()
	}
	require.Equal(t, gobreaker.StateOpen, d.State())
	failedCalls := hits.Load()
	lookups := source.calls.Load()

	// With the breaker open a trigger performs no rule lookup and no network call.
	d.Trigger("abac.denied", nil)
	d.Wait()
	assert.Equal(t, failedCalls, hits.Load())
	assert.Equal(t, lookups, source.calls.Load())
}

func TestDispatcherRecoversAfterCooldown(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	source := &staticRules{rules: []Rule{{ID: 1, Name: "recovering", Event: "rbac.denied", TargetURL: srv.URL, Enabled: true}}}
	d := NewDispatcher(source, testConfig(), quietLogger(), nil)

	for i := 0; i < 3; i++ {
		d.Trigger("rbac.denied", nil)
		d.Wait()
	}
	require.Equal(t, gobreaker.StateOpen, d.State())

	fail.Store(false)
	time.Sleep(80 * time.Millisecond)

	d.Trigger("rbac.denied", nil)
	d.Wait()
	assert.Equal(t, gobreaker.StateClosed, d.State())
	assert.Equal(t, int64(4), hits.Load())
}

func TestDispatcherFansOutIndependently(t *testing.T) {
	var okHits atomic.Int64
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		okHits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer okSrv.Close()

	slowSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer slowSrv.Close()

	source := &staticRules{rules: []Rule{
		{ID: 1, Name: "slow-broken", Event: "user.deleted", TargetURL: slowSrv.URL, Enabled: true},
		{ID: 2, Name: "healthy", Event: "user.deleted", TargetURL: okSrv.URL, Enabled: true},
	}}
	d := NewDispatcher(source, testConfig(), quietLogger(), nil)

	d.Trigger("user.deleted", nil)
	d.Wait()

	assert.Equal(t, int64(1), okHits.Load())
}
