// Package automation delivers named platform events (access denials, user
// lifecycle, report completions) to subscriber webhooks. Delivery is
// best-effort: a breaker sheds load when targets misbehave and undelivered
// payloads are dropped, never queued.
package automation

import "time"

// Rule subscribes a target URL to a named event. Many rules may subscribe to
// the same event.
type Rule struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Event     string    `json:"event"`
	TargetURL string    `json:"target_url"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Envelope is the JSON body posted to each target.
type Envelope struct {
	Event       string         `json:"event"`
	Payload     map[string]any `json:"payload"`
	TriggeredAt time.Time      `json:"triggeredAt"`
}

// Well-known event names emitted by the platform.
const (
	EventRBACDenied    = "rbac.denied"
	EventABACDenied    = "abac.denied"
	EventUserCreated   = "user.created"
	EventUserDeleted   = "user.deleted"
	EventReportDaily   = "report.daily"
	EventSecurityAlert = "security.alert"
)
