package auth

import "errors"

// Role is an authorisation tier.
type Role string

const (
	// RoleViewer can only read.
	RoleViewer Role = "viewer"

	// RoleOperator can control lights and scenes.
	RoleOperator Role = "operator"

	// RoleAdmin can additionally run diagnostics.
	RoleAdmin Role = "admin"
)

// ValidRoles lists every role a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrNoSecret     = errors.New("signing secret is empty")
	ErrForbidden    = errors.New("insufficient permissions")
)
