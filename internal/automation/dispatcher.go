package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

// RuleSource looks up the enabled subscriptions for an event.
type RuleSource interface {
	ListEnabledByEvent(ctx context.Context, event string) ([]Rule, error)
}

// DispatcherConfig collects the delivery policy knobs.
type DispatcherConfig struct {
	// HTTPTimeout bounds each webhook attempt so a hung target cannot pin
	// dispatcher goroutines.
	HTTPTimeout time.Duration
	// Retries is the number of additional attempts after a failed POST.
	Retries int
	// RetryDelay is the fixed pause between attempts of one delivery.
	RetryDelay time.Duration
	// FailureThreshold is the consecutive-failure count that opens the breaker.
	FailureThreshold uint32
	// Cooldown is how long the breaker stays open before letting a probe through.
	Cooldown time.Duration
}

// DefaultDispatcherConfig mirrors the production delivery policy.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		HTTPTimeout:      5 * time.Second,
		Retries:          2,
		RetryDelay:       200 * time.Millisecond,
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}
}

// Dispatcher fans named events out to subscriber webhooks. One Dispatcher
// serves the whole process; its breaker state is shared across all rules and
// events. Trigger never blocks the caller and failed deliveries are dropped,
// not queued.
type Dispatcher struct {
	rules      RuleSource
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
	retries    int
	retryDelay time.Duration
	logger     *slog.Logger

	deliveries  *prometheus.CounterVec
	transitions *prometheus.CounterVec

	wg sync.WaitGroup
}

// NewDispatcher constructs a Dispatcher. registerer may be nil to leave the
// prometheus collectors unregistered (tests).
func NewDispatcher(rules RuleSource, cfg DispatcherConfig, logger *slog.Logger, registerer prometheus.Registerer) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		rules:      rules,
		client:     &http.Client{Timeout: cfg.HTTPTimeout},
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentra_automation_deliveries_total",
			Help: "Webhook delivery outcomes partitioned by status.",
		}, []string{"status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentra_automation_breaker_transitions_total",
			Help: "Circuit breaker state transitions.",
		}, []string{"from", "to"}),
	}
	if registerer != nil {
		registerer.MustRegister(d.deliveries, d.transitions)
	}

	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 3
	}
	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "automation-webhooks",
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.transitions.WithLabelValues(from.String(), to.String()).Inc()
			d.logger.Warn("automation breaker state change",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return d
}

// Trigger delivers event to every enabled subscriber. It returns immediately;
// lookup, fan-out, retries and breaker accounting all happen on background
// goroutines with their own error boundary.
func (d *Dispatcher) Trigger(event string, payload map[string]any) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("automation dispatch panic",
					slog.String("event", event),
					slog.Any("panic", r),
				)
			}
		}()
		d.dispatch(context.Background(), event, payload)
	}()
}

// Wait blocks until all in-flight dispatches complete. Used on shutdown and
// in tests; new Triggers may still be issued afterwards.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// State exposes the breaker state for health reporting.
func (d *Dispatcher) State() gobreaker.State {
	return d.breaker.State()
}

func (d *Dispatcher) dispatch(ctx context.Context, event string, payload map[string]any) {
	// While the breaker is open every dispatch is skipped outright: no rule
	// lookup, no network. This is backpressure, not an error.
	if d.breaker.State() == gobreaker.StateOpen {
		d.deliveries.WithLabelValues("skipped").Inc()
		d.logger.Warn("automation dispatch skipped, breaker open", slog.String("event", event))
		return
	}

	rules, err := d.rules.ListEnabledByEvent(ctx, event)
	if err != nil {
		d.logger.Error("automation rule lookup", slog.String("event", event), slog.Any("error", err))
		return
	}
	if len(rules) == 0 {
		return
	}

	body, err := json.Marshal(Envelope{Event: event, Payload: payload, TriggeredAt: time.Now().UTC()})
	if err != nil {
		d.logger.Error("automation payload encode", slog.String("event", event), slog.Any("error", err))
		return
	}

	// One rule's slow or failing target must not hold up the others.
	var fanout sync.WaitGroup
	for _, rule := range rules {
		fanout.Add(1)
		go func(rule Rule) {
			defer fanout.Done()
			d.deliver(ctx, event, rule, body)
		}(rule)
	}
	fanout.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, event string, rule Rule, body []byte) {
	deliveryID := uuid.NewString()
	_, err := d.breaker.Execute(func() (any, error) {
		return nil, d.post(ctx, rule.TargetURL, body)
	})
	switch {
	case err == nil:
		d.deliveries.WithLabelValues("delivered").Inc()
		d.logger.Debug("automation webhook delivered",
			slog.String("event", event),
			slog.String("rule", rule.Name),
			slog.String("delivery_id", deliveryID),
		)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		d.deliveries.WithLabelValues("skipped").Inc()
		d.logger.Warn("automation webhook skipped, breaker open",
			slog.String("event", event),
			slog.String("rule", rule.Name),
		)
	default:
		d.deliveries.WithLabelValues("failed").Inc()
		d.logger.Error("automation webhook failed",
			slog.String("event", event),
			slog.String("rule", rule.Name),
			slog.String("target", rule.TargetURL),
			slog.String("delivery_id", deliveryID),
			slog.Any("error", err),
		)
	}
}

// post performs one delivery with bounded retry. Network errors, timeouts and
// non-2xx responses all count the same: the delivery failed.
func (d *Dispatcher) post(ctx context.Context, url string, body []byte) error {
	var lastErr error
	for attempt := 0; attempt <= d.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(d.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = d.postOnce(ctx, url, body)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (d *Dispatcher) postOnce(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("automation: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("automation: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("automation: target responded %d", resp.StatusCode)
	}
	return nil
}
