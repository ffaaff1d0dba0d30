package auth

import "slices"

// Role is an authorisation tier.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	_, ok := rolePermissions[r]
	return ok
}

// Permission is a named capability.
type Permission string

const (
	PermStateRead     Permission = "state:read"
	PermStateWrite    Permission = "state:write"
	PermDeviceOperate Permission = "device:operate"
)

var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermStateRead,
	},
	RoleOperator: {
		PermStateRead,
		PermStateWrite,
		PermDeviceOperate,
	},
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}
