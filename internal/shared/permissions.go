package shared

// Wildcard satisfies any RBAC permission check.
const Wildcard = "*"

// Core platform permissions. Names are dot-namespaced capabilities and must
// match the seeded permission rows.
const (
	PermUserRead   = "user.read"
	PermUserCreate = "user.create"
	PermUserUpdate = "user.update"
	PermUserDelete = "user.delete"

	PermRoleManage       = "role.manage"
	PermPermissionManage = "permission.manage"

	PermAbacManage = "abac.manage"
	PermAbacTest   = "abac.test"

	PermAutomationManage = "automation.manage"

	PermAuditRead   = "audit.read"
	PermMetricsRead = "metrics.read"
)

// CoreScopes lists every platform permission, used by seeding and the
// permissions listing endpoint.
func CoreScopes() []string {
	return []string{
		PermUserRead,
		PermUserCreate,
		PermUserUpdate,
		PermUserDelete,
		PermRoleManage,
		PermPermissionManage,
		PermAbacManage,
		PermAbacTest,
		PermAutomationManage,
		PermAuditRead,
		PermMetricsRead,
	}
}
