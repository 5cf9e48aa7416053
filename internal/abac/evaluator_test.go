package abac

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordedMetric struct {
	metricType string
	metadata   map[string]any
}

type stubMetrics struct {
	mu      sync.Mutex
	records []recordedMetric
}

func (s *stubMetrics) Record(_ context.Context, metricType string, metadata map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, recordedMetric{metricType: metricType, metadata: metadata})
}

type stubEvents struct {
	mu     sync.Mutex
	events []string
}

func (s *stubEvents) Trigger(event string, _ map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func fixedClock(hhmm string) func() time.Time {
	t, _ := time.Parse("15:04", hhmm)
	return func() time.Time { return t }
}

func TestEvaluateDepartmentEqualsDeny(t *testing.T) {
	e := NewEvaluator(nil)
	rules := []Rule{{
		Name: "hr-only", Attribute: "department", Operator: OpEquals,
		Value: `"HR"`, Effect: EffectDeny,
	}}

	res := e.Evaluate(context.Background(), map[string]any{"department": "IT"}, rules)
	if res.Allow {
		t.Fatalf("expected deny for department mismatch")
	}
	if res.FailedRule != "hr-only" {
		t.Fatalf("expected failed rule hr-only, got %q", res.FailedRule)
	}

	res = e.Evaluate(context.Background(), map[string]any{"department": "HR"}, rules)
	if !res.Allow {
		t.Fatalf("matching department must not violate")
	}
}

func TestEvaluateEqualsIsTypeSensitive(t *testing.T) {
	e := NewEvaluator(nil)
	rules := []Rule{{
		Name: "level-5", Attribute: "department", Operator: OpEquals,
		Value: `5`, Effect: EffectDeny,
	}}

	// JSON numbers decode to float64; a string "5" is a different value.
	if res := e.Evaluate(context.Background(), map[string]any{"department": "5"}, rules); res.Allow {
		t.Fatalf("string vs number must not compare equal")
	}
	if res := e.Evaluate(context.Background(), map[string]any{"department": float64(5)}, rules); !res.Allow {
		t.Fatalf("equal numbers must pass")
	}
}

func TestEvaluateLocationIn(t *testing.T) {
	e := NewEvaluator(nil)
	rules := []Rule{{
		Name: "tn-offices", Attribute: "location", Operator: OpIn,
		Value: `["Tunis","Sousse"]`, Effect: EffectDeny,
	}}

	if res := e.Evaluate(context.Background(), map[string]any{"location": "Paris"}, rules); res.Allow {
		t.Fatalf("location outside list must deny")
	}
	if res := e.Evaluate(context.Background(), map[string]any{"location": "Tunis"}, rules); !res.Allow {
		t.Fatalf("listed location must pass")
	}
}

func TestEvaluateInWithNonArrayValueIsNoop(t *testing.T) {
	e := NewEvaluator(nil)
	rules := []Rule{{
		Name: "broken-in", Attribute: "location", Operator: OpIn,
		Value: `"Tunis"`, Effect: EffectDeny,
	}}
	if res := e.Evaluate(context.Background(), map[string]any{"location": "Paris"}, rules); !res.Allow {
		t.Fatalf("non-array value for in must never violate")
	}
}

func TestEvaluateTimeBetween(t *testing.T) {
	rules := []Rule{{
		Name: "office-hours", Attribute: "time", Operator: OpBetween,
		Value: `{"start":"08:00","end":"18:00"}`, Effect: EffectDeny,
	}}

	inside := NewEvaluator(nil, WithClock(fixedClock("09:00")))
	if res := inside.Evaluate(context.Background(), map[string]any{}, rules); !res.Allow {
		t.Fatalf("09:00 is inside the window, must allow")
	}

	outside := NewEvaluator(nil, WithClock(fixedClock("20:00")))
	if res := outside.Evaluate(context.Background(), map[string]any{}, rules); res.Allow {
		t.Fatalf("20:00 is outside the window, must deny")
	}

	// The window is inclusive on both ends.
	for _, hhmm := range []string{"08:00", "18:00"} {
		edge := NewEvaluator(nil, WithClock(fixedClock(hhmm)))
		if res := edge.Evaluate(context.Background(), map[string]any{}, rules); !res.Allow {
			t.Fatalf("%s is on the window boundary, must allow", hhmm)
		}
	}
}

func TestEvaluateTimeBetweenMalformedWindowIsNoop(t *testing.T) {
	e := NewEvaluator(nil, WithClock(fixedClock("03:00")))
	rules := []Rule{{
		Name: "bad-window", Attribute: "time", Operator: OpBetween,
		Value: `{"start":true}`, Effect: EffectDeny,
	}}
	if res := e.Evaluate(context.Background(), map[string]any{}, rules); !res.Allow {
		t.Fatalf("malformed window must never violate")
	}
}

func TestEvaluateUnknownAttributePassesThrough(t *testing.T) {
	e := NewEvaluator(nil)
	rules := []Rule{{
		Name: "shoes", Attribute: "shoeSize", Operator: OpEquals,
		Value: `44`, Effect: EffectDeny,
	}}
	if res := e.Evaluate(context.Background(), map[string]any{"shoeSize": float64(39)}, rules); !res.Allow {
		t.Fatalf("unrecognized attribute must never violate")
	}
}

func TestEvaluateUnknownOperatorPassesThrough(t *testing.T) {
	e := NewEvaluator(nil)
	rules := []Rule{{
		Name: "dept-in", Attribute: "department", Operator: OpIn,
		Value: `["HR"]`, Effect: EffectDeny,
	}}
	// department only carries equals semantics; other operators are no-ops.
	if res := e.Evaluate(context.Background(), map[string]any{"department": "IT"}, rules); !res.Allow {
		t.Fatalf("unmapped attribute/operator pair must never violate")
	}
}

func TestEvaluateAllowEffectNeverBlocks(t *testing.T) {
	e := NewEvaluator(nil)
	rules := []Rule{{
		Name: "hr-only", Attribute: "department", Operator: OpEquals,
		Value: `"HR"`, Effect: EffectAllow,
	}}
	if res := e.Evaluate(context.Background(), map[string]any{"department": "IT"}, rules); !res.Allow {
		t.Fatalf("violated allow rule must not block")
	}
}

func TestEvaluateStopsAtFirstViolatedDeny(t *testing.T) {
	metrics := &stubMetrics{}
	events := &stubEvents{}
	e := NewEvaluator(nil, WithMetrics(metrics), WithEvents(events))
	rules := []Rule{
		{Name: "first", Attribute: "department", Operator: OpEquals, Value: `"HR"`, Effect: EffectDeny},
		{Name: "second", Attribute: "department", Operator: OpEquals, Value: `"Legal"`, Effect: EffectDeny},
	}

	res := e.Evaluate(context.Background(), map[string]any{"department": "IT", "email": "a@example.com"}, rules)
	if res.Allow || res.FailedRule != "first" {
		t.Fatalf("expected first deny to win, got %+v", res)
	}
	// The second rule would have violated too; a single emission proves it
	// was never evaluated.
	if len(metrics.records) != 1 {
		t.Fatalf("expected one metric emission, got %d", len(metrics.records))
	}
	if metrics.records[0].metricType != "abac_deny" {
		t.Fatalf("expected abac_deny metric, got %q", metrics.records[0].metricType)
	}
	if len(events.events) != 1 || events.events[0] != "abac.denied" {
		t.Fatalf("expected single abac.denied event, got %v", events.events)
	}
}

func TestEvaluateEmptyRuleSetAllows(t *testing.T) {
	e := NewEvaluator(nil)
	if res := e.Evaluate(context.Background(), map[string]any{}, nil); !res.Allow {
		t.Fatalf("empty rule set must allow")
	}
}

func TestEvaluateMalformedJSONFallsBackToRawString(t *testing.T) {
	e := NewEvaluator(nil)
	rules := []Rule{{
		Name: "raw", Attribute: "department", Operator: OpEquals,
		Value: `HR`, Effect: EffectDeny, // not valid JSON, treated as the string "HR"
	}}
	if res := e.Evaluate(context.Background(), map[string]any{"department": "HR"}, rules); !res.Allow {
		t.Fatalf("raw string fallback must compare against the literal")
	}
	if res := e.Evaluate(context.Background(), map[string]any{"department": "IT"}, rules); res.Allow {
		t.Fatalf("raw string mismatch must violate")
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	e := NewEvaluator(nil, WithClock(fixedClock("12:00")))
	subject := map[string]any{"department": "IT", "location": "Paris"}
	rules := []Rule{
		{Name: "loc", Attribute: "location", Operator: OpIn, Value: `["Tunis"]`, Effect: EffectDeny},
		{Name: "dept", Attribute: "department", Operator: OpEquals, Value: `"HR"`, Effect: EffectDeny},
	}
	first := e.Evaluate(context.Background(), subject, rules)
	second := e.Evaluate(context.Background(), subject, rules)
	if first != second {
		t.Fatalf("evaluation must be idempotent: %+v vs %+v", first, second)
	}
}
