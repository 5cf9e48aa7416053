package identity

import (
	"github.com/sentra-platform/sentra/internal/shared"
)

// Permission is an atomic capability granted through a role.
type Permission struct {
	ID          int64
	Name        string
	Description string
}

// Role groups permissions. System roles are seeded and cannot be deleted.
type Role struct {
	ID          int64
	Name        string
	IsSystem    bool
	Permissions []Permission
}

// Identity is the fully resolved subject of an authorization check: the user
// row plus its complete roles-to-permissions graph and attribute bag. It is
// produced by the Resolver and treated as read-only afterwards.
type Identity struct {
	ID         int64
	Email      string
	FirstName  string
	LastName   string
	Department string
	Location   string
	Active     bool
	Attributes map[string]any
	Roles      []Role
}

// HasPermission reports whether any of the identity's roles grants the named
// permission or the wildcard.
func (i *Identity) HasPermission(name string) bool {
	if i == nil {
		return false
	}
	for _, role := range i.Roles {
		for _, perm := range role.Permissions {
			if perm.Name == name || perm.Name == shared.Wildcard {
				return true
			}
		}
	}
	return false
}

// PermissionNames returns the deduplicated union of permission names across
// all roles.
func (i *Identity) PermissionNames() []string {
	if i == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var names []string
	for _, role := range i.Roles {
		for _, perm := range role.Permissions {
			if _, ok := seen[perm.Name]; ok {
				continue
			}
			seen[perm.Name] = struct{}{}
			names = append(names, perm.Name)
		}
	}
	return names
}

// AttributeBag flattens the identity into the subject map handed to the ABAC
// evaluator. Free-form attributes come first so the structured columns always
// win on collision.
func (i *Identity) AttributeBag() map[string]any {
	if i == nil {
		return nil
	}
	bag := make(map[string]any, len(i.Attributes)+4)
	for k, v := range i.Attributes {
		bag[k] = v
	}
	bag["email"] = i.Email
	bag["department"] = i.Department
	bag["location"] = i.Location
	bag["active"] = i.Active
	return bag
}
