// Package authz is the single entry point for permission checks. It composes
// the RBAC membership check with ABAC rule evaluation and owns the
// observability side effects of a denial.
package authz

// Outcome classifies a decision.
type Outcome string

const (
	OutcomeAllow    Outcome = "allow"
	OutcomeDenyRBAC Outcome = "deny_rbac"
	OutcomeDenyABAC Outcome = "deny_abac"
)

// Decision is the result of one authorization check. Decisions are never
// cached; only the identity and rule-set lookups behind them are.
type Decision struct {
	Outcome    Outcome
	Permission string
	// FailedRule names the ABAC rule that fired; set only for OutcomeDenyABAC.
	FailedRule string
}

// Allowed reports whether the guarded operation may proceed.
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllow
}
