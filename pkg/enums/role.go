package enums

import (
	"fmt"
	"strings"
)

// Role is a capability tag attached to a user. Checks are set-membership,
// never arithmetic: an admin is an admin only because the admin tag is
// present, not because of any combination of other tags.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleSeller   Role = "seller"
	RoleAdmin    Role = "admin"
)

var validRoles = []Role{
	RoleCustomer,
	RoleSeller,
	RoleAdmin,
}

// String implements fmt.Stringer.
func (r Role) String() string {
	return string(r)
}

// IsValid reports whether the value is a known Role.
func (r Role) IsValid() bool {
	for _, candidate := range validRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRole converts raw input into a Role.
func ParseRole(value string) (Role, error) {
	for _, candidate := range validRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", value)
}

// RoleSet is the set of capability tags a caller carries. Stored as a
// comma-joined text column; order is not significant.
type RoleSet []Role

// Has reports membership of a single role.
func (s RoleSet) Has(role Role) bool {
	for _, candidate := range s {
		if candidate == role {
			return true
		}
	}
	return false
}

// JoinRoles serializes a role set for storage.
func JoinRoles(roles RoleSet) string {
	parts := make([]string, 0, len(roles))
	for _, role := range roles {
		parts = append(parts, string(role))
	}
	return strings.Join(parts, ",")
}

// SplitRoles parses a stored role set, dropping unknown tags.
func SplitRoles(raw string) RoleSet {
	var roles RoleSet
	for _, part := range strings.Split(raw, ",") {
		role := Role(strings.TrimSpace(part))
		if role.IsValid() {
			roles = append(roles, role)
		}
	}
	return roles
}
