// Package abac implements the attribute-based rule layer of the
// authorization pipeline. Rules are a flat ordered list per permission;
// there is no composition and no default-deny. The evaluator only ever
// blocks on an explicitly violated deny rule.
package abac

import "time"

// Effect controls whether a violated rule blocks the check.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Operator selects the comparison applied to the subject attribute.
type Operator string

const (
	OpEquals  Operator = "equals"
	OpIn      Operator = "in"
	OpBetween Operator = "between"
)

// Rule constrains a single permission on one subject attribute. Value is
// stored as a JSON literal; malformed JSON degrades to the raw string.
type Rule struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	PermissionName string    `json:"permission_name"`
	Attribute      string    `json:"attribute"`
	Operator       Operator  `json:"operator"`
	Value          string    `json:"value"`
	Effect         Effect    `json:"effect"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Result is the outcome of evaluating a rule set against a subject.
type Result struct {
	Allow      bool   `json:"allow"`
	FailedRule string `json:"failed_rule,omitempty"`
}

// ValidOperator reports whether op is one of the supported operators.
func ValidOperator(op Operator) bool {
	switch op {
	case OpEquals, OpIn, OpBetween:
		return true
	}
	return false
}

// ValidEffect reports whether e is a supported effect.
func ValidEffect(e Effect) bool {
	return e == EffectAllow || e == EffectDeny
}
