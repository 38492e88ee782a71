package auth

// Permission represents a named capability.
type Permission string

// Permission constants.
const (
	PermEntityRead    Permission = "entity:read"
	PermEntityOperate Permission = "entity:operate"
	PermEntityPing    Permission = "entity:ping"
	PermSceneRead     Permission = "scene:read"
	PermSceneExecute  Permission = "scene:execute"
	PermAuditRead     Permission = "audit:read"
)

// rolePermissions is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermEntityRead,
		PermSceneRead,
	},
	RoleOperator: {
		PermEntityRead,
		PermEntityOperate,
		PermSceneRead,
		PermSceneExecute,
	},
	RoleAdmin: {
		PermEntityRead,
		PermEntityOperate,
		PermEntityPing,
		PermSceneRead,
		PermSceneExecute,
		PermAuditRead,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns a copy of the permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}
