package auth

import "strings"

// Role is an access level for the HTTP API.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleRank = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// NormalizeRole lowercases and validates a role string.
func NormalizeRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := roleRank[role]
	return role, ok
}

// RoleAtLeast reports whether have satisfies want.
func RoleAtLeast(have, want Role) bool {
	return roleRank[have] >= roleRank[want]
}
