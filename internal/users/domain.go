// Package users implements account management for the platform. Authorization
// itself resolves identities through the identity package; this package owns
// the mutations and keeps the resolver cache coherent with them.
package users

import "time"

// User is the management view of an account. The password hash never leaves
// the repository.
type User struct {
	ID         int64          `json:"id"`
	Email      string         `json:"email"`
	FirstName  string         `json:"first_name"`
	LastName   string         `json:"last_name"`
	Department string         `json:"department"`
	Location   string         `json:"location"`
	Active     bool           `json:"active"`
	Attributes map[string]any `json:"attributes,omitempty"`
	RoleIDs    []int64        `json:"role_ids"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// CreateInput carries the fields for a new account.
type CreateInput struct {
	Email      string         `json:"email" validate:"required,email"`
	Password   string         `json:"password" validate:"required,min=8"`
	FirstName  string         `json:"first_name"`
	LastName   string         `json:"last_name"`
	Department string         `json:"department"`
	Location   string         `json:"location"`
	Attributes map[string]any `json:"attributes"`
	RoleIDs    []int64        `json:"role_ids"`
}

// UpdateInput carries a full replacement of the mutable fields. Password is
// optional; empty keeps the stored hash.
type UpdateInput struct {
	Email      string         `json:"email" validate:"required,email"`
	Password   string         `json:"password" validate:"omitempty,min=8"`
	FirstName  string         `json:"first_name"`
	LastName   string         `json:"last_name"`
	Department string         `json:"department"`
	Location   string         `json:"location"`
	Active     *bool          `json:"active"`
	Attributes map[string]any `json:"attributes"`
	RoleIDs    []int64        `json:"role_ids"`
}
