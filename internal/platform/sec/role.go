// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package sec

// # User Roles

// Role represents the authorization level granted to an API caller.
type Role string

const (
	// Unrestricted access to every collection, procedure, and script
	RoleAdmin Role = "admin"

	// Can read and write collections the descriptors grant to editors
	RoleEditor Role = "editor"

	// Read-only access to collections the descriptors expose for reading
	RoleViewer Role = "viewer"

	// Unauthenticated callers; only reaches health probes
	RoleAnonymous Role = "anonymous"
)

// # Role Hierarchy

// AtLeast checks if the current role meets or exceeds the required target role.
func (r Role) AtLeast(target Role) bool {
	return r.level() >= target.level()
}

// Valid reports whether the role is one of the recognized levels.
func (r Role) Valid() bool {
	return r.level() > 0
}

// level maps a role to a numeric hierarchy level for comparison logic.
func (r Role) level() int {

	// Linear scale (10-40) allows for future intermediate roles
	switch r {
	case RoleAdmin:
		return 40
	case RoleEditor:
		return 30
	case RoleViewer:
		return 20
	case RoleAnonymous:
		return 10
	default:
		return 0
	}
}

// ParseRole normalizes a claim string into a [Role], defaulting to viewer
// for unknown values so a stale token never escalates.
func ParseRole(s string) Role {
	role := Role(s)
	if !role.Valid() {
		return RoleViewer
	}
	return role
}
