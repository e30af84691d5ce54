// Package rbac holds the project role model and the membership checks every
// project-scoped endpoint runs before touching a project document.
package rbac

import "taskhive/api/internal/store"

type Role string

const (
	RoleTeamLeader Role = "Team Leader"
	RoleDeveloper  Role = "Developer"
	RoleClient     Role = "Client"
)

// Valid reports whether role is one of the three project roles.
func Valid(role string) bool {
	switch Role(role) {
	case RoleTeamLeader, RoleDeveloper, RoleClient:
		return true
	default:
		return false
	}
}

// RoleOf scans the project's member list for userID. The second return is
// false when the user is not a member.
func RoleOf(members []store.ProjectMember, userID string) (Role, bool) {
	for _, member := range members {
		if member.UserID == userID {
			return Role(member.Role), true
		}
	}
	return "", false
}

// IsMember reports whether userID appears in the member list.
func IsMember(members []store.ProjectMember, userID string) bool {
	_, ok := RoleOf(members, userID)
	return ok
}

// IsLeader reports whether userID holds the Team Leader role. Destructive and
// administrative project mutations are gated on this.
func IsLeader(members []store.ProjectMember, userID string) bool {
	role, ok := RoleOf(members, userID)
	return ok && role == RoleTeamLeader
}
