package abac

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"time"
)

// MetricRecorder receives violation metrics. Implementations must not block
// the caller.
type MetricRecorder interface {
	Record(ctx context.Context, metricType string, metadata map[string]any)
}

// EventTrigger fans violation events out to automation targets.
// Implementations must not block the caller.
type EventTrigger interface {
	Trigger(event string, payload map[string]any)
}

// violation reports whether the rule is violated for the given subject value.
// ruleValue is the JSON-decoded rule value (or the raw string when decoding
// failed); now is the wall clock in zero-padded HH:MM.
type violation func(subjectValue, ruleValue any, now string) bool

// dispatch is the closed table of attribute semantics. Any attribute or
// operator not listed here is a defined pass-through: the rule never
// violates, whatever its effect.
var dispatch = map[string]map[Operator]violation{
	"department": {OpEquals: violatesEquals},
	"location":   {OpIn: violatesIn},
	"time":       {OpBetween: violatesBetween},
}

// Evaluator decides allow/deny for a subject against an ordered rule list.
// Evaluation is deterministic and side-effect free except for the optional
// violation hooks, which are best-effort observability.
type Evaluator struct {
	now     func() time.Time
	metrics MetricRecorder
	events  EventTrigger
	logger  *slog.Logger
}

// EvaluatorOption customizes an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithClock overrides the wall clock used by time-window rules.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) { e.now = now }
}

// WithMetrics wires the violation metric sink.
func WithMetrics(m MetricRecorder) EvaluatorOption {
	return func(e *Evaluator) { e.metrics = m }
}

// WithEvents wires the violation automation trigger.
func WithEvents(t EventTrigger) EvaluatorOption {
	return func(e *Evaluator) { e.events = t }
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(logger *slog.Logger, opts ...EvaluatorOption) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evaluator{now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate walks rules in order and stops at the first violated deny rule.
// Allow-effect rules never block; an empty or fully passing list is an
// allow. Calling twice with the same inputs yields the same result.
func (e *Evaluator) Evaluate(ctx context.Context, subject map[string]any, rules []Rule) Result {
	now := e.now().Format("15:04")

	for _, rule := range rules {
		ops, ok := dispatch[rule.Attribute]
		if !ok {
			continue
		}
		check, ok := ops[rule.Operator]
		if !ok {
			continue
		}
		if !check(subject[rule.Attribute], parseValue(rule.Value), now) {
			continue
		}
		if rule.Effect != EffectDeny {
			continue
		}

		e.onViolation(ctx, subject, rule)
		return Result{Allow: false, FailedRule: rule.Name}
	}
	return Result{Allow: true}
}

// onViolation emits the abac_deny metric and automation event. Both sinks are
// non-blocking and their failures never reach the decision path.
func (e *Evaluator) onViolation(ctx context.Context, subject map[string]any, rule Rule) {
	user, _ := subject["email"].(string)
	if e.metrics != nil {
		e.metrics.Record(ctx, "abac_deny", map[string]any{
			"user":      user,
			"rule":      rule.Name,
			"attribute": rule.Attribute,
		})
	}
	if e.events != nil {
		e.events.Trigger("abac.denied", map[string]any{
			"user": user,
			"rule": rule.Name,
		})
	}
	e.logger.Debug("abac rule violated",
		slog.String("rule", rule.Name),
		slog.String("attribute", rule.Attribute),
		slog.String("user", user),
	)
}

// parseValue decodes the stored rule value as JSON, falling back to the raw
// string. It never fails; structured operators treat a non-matching shape as
// a no-op.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func violatesEquals(subjectValue, ruleValue any, _ string) bool {
	return !reflect.DeepEqual(subjectValue, ruleValue)
}

func violatesIn(subjectValue, ruleValue any, _ string) bool {
	list, ok := ruleValue.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if reflect.DeepEqual(subjectValue, item) {
			return false
		}
	}
	return true
}

// violatesBetween checks an inclusive HH:MM window. Lexical comparison is
// sound because the format is zero-padded and fixed width.
func violatesBetween(_, ruleValue any, now string) bool {
	window, ok := ruleValue.(map[string]any)
	if !ok {
		return false
	}
	start, okStart := window["start"].(string)
	end, okEnd := window["end"].(string)
	if !okStart || !okEnd {
		return false
	}
	return now < start || now > end
}

// String implements fmt.Stringer for log friendliness.
func (r Rule) String() string {
	return fmt.Sprintf("%s[%s %s %s -> %s]", r.Name, r.Attribute, r.Operator, r.Value, r.Effect)
}
