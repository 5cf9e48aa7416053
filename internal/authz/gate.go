package authz

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sentra-platform/sentra/internal/abac"
	"github.com/sentra-platform/sentra/internal/identity"
	"github.com/sentra-platform/sentra/internal/shared"
)

// RuleSource serves the ordered ABAC rule set for a permission.
type RuleSource interface {
	RulesForPermission(ctx context.Context, permissionName string) ([]abac.Rule, error)
}

// Evaluator decides a subject against a rule set.
type Evaluator interface {
	Evaluate(ctx context.Context, subject map[string]any, rules []abac.Rule) abac.Result
}

// MetricRecorder receives deny metrics, fire-and-forget.
type MetricRecorder interface {
	Record(ctx context.Context, metricType string, metadata map[string]any)
}

// EventTrigger fans deny events out to automation targets, fire-and-forget.
type EventTrigger interface {
	Trigger(event string, payload map[string]any)
}

// Gate performs the combined RBAC+ABAC check. All collaborators are injected;
// the Gate holds no mutable state of its own and is safe for concurrent use.
type Gate struct {
	rules     RuleSource
	evaluator Evaluator
	metrics   MetricRecorder
	events    EventTrigger
	logger    *slog.Logger
}

// NewGate constructs a Gate. metrics and events may be nil in tests.
func NewGate(rules RuleSource, evaluator Evaluator, metrics MetricRecorder, events EventTrigger, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{rules: rules, evaluator: evaluator, metrics: metrics, events: events, logger: logger}
}

// CheckPermission runs one authorization check: RBAC first, then ABAC.
//
// A missing identity returns shared.ErrUnauthenticated. A storage failure
// while fetching the rule set returns an error and the check fails closed.
// Deny decisions return with a nil error; the deny metric and automation
// event are emitted without blocking and cannot change the outcome.
func (g *Gate) CheckPermission(ctx context.Context, ident *identity.Identity, permissionName string) (Decision, error) {
	if ident == nil {
		return Decision{}, shared.ErrUnauthenticated
	}

	if !ident.HasPermission(permissionName) {
		meta := map[string]any{"permission": permissionName, "user": ident.Email}
		if g.metrics != nil {
			g.metrics.Record(ctx, "rbac_deny", meta)
		}
		if g.events != nil {
			g.events.Trigger("rbac.denied", meta)
		}
		g.logger.Info("rbac deny",
			slog.String("user", ident.Email),
			slog.String("permission", permissionName),
		)
		return Decision{Outcome: OutcomeDenyRBAC, Permission: permissionName}, nil
	}

	rules, err := g.rules.RulesForPermission(ctx, permissionName)
	if err != nil {
		// Fail closed: an unreachable rule store never defaults to allow.
		return Decision{}, fmt.Errorf("authz: rule lookup for %s: %w", permissionName, err)
	}
	if len(rules) == 0 {
		return Decision{Outcome: OutcomeAllow, Permission: permissionName}, nil
	}

	result := g.evaluator.Evaluate(ctx, ident.AttributeBag(), rules)
	if !result.Allow {
		meta := map[string]any{
			"rule":       result.FailedRule,
			"permission": permissionName,
			"user":       ident.Email,
		}
		if g.metrics != nil {
			g.metrics.Record(ctx, "abac_deny", meta)
		}
		if g.events != nil {
			g.events.Trigger("abac.denied", meta)
		}
		g.logger.Info("abac deny",
			slog.String("user", ident.Email),
			slog.String("permission", permissionName),
			slog.String("rule", result.FailedRule),
		)
		return Decision{Outcome: OutcomeDenyABAC, Permission: permissionName, FailedRule: result.FailedRule}, nil
	}

	return Decision{Outcome: OutcomeAllow, Permission: permissionName}, nil
}
