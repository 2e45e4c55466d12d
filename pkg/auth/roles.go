package auth

import (
	"strings"

	"github.com/calltrackerpro/calltracker/pkg/apperr"
)

// Role is the organization-level role of a principal
type Role string

const (
	RoleSuperAdmin Role = "super_admin" // Platform operator, unscoped
	RoleOrgAdmin   Role = "org_admin"   // Full control of one organization
	RoleManager    Role = "manager"     // Manages one or more teams
	RoleAgent      Role = "agent"       // Works own contacts and calls
	RoleViewer     Role = "viewer"      // Read-only, own records
)

// AllRoles returns every role from most to least privileged
func AllRoles() []Role {
	return []Role{RoleSuperAdmin, RoleOrgAdmin, RoleManager, RoleAgent, RoleViewer}
}

// ParseRole converts a string into a Role
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	if !role.Valid() {
		return "", apperr.Invalid("role", "unknown role %q", s)
	}
	return role, nil
}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r.Rank() > 0
}

// Rank orders roles by privilege. Unknown roles rank 0.
func (r Role) Rank() int {
	switch r {
	case RoleSuperAdmin:
		return 5
	case RoleOrgAdmin:
		return 4
	case RoleManager:
		return 3
	case RoleAgent:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r is as privileged as other
func (r Role) AtLeast(other Role) bool {
	return r.Valid() && r.Rank() >= other.Rank()
}

func (r Role) String() string {
	return string(r)
}

// TeamRole is a principal's role within a single team
type TeamRole string

const (
	TeamRoleMember  TeamRole = "member"
	TeamRoleLead    TeamRole = "lead"
	TeamRoleManager TeamRole = "manager"
)

// ParseTeamRole converts a string into a TeamRole, defaulting to member
func ParseTeamRole(s string) (TeamRole, error) {
	switch TeamRole(strings.ToLower(strings.TrimSpace(s))) {
	case "", TeamRoleMember:
		return TeamRoleMember, nil
	case TeamRoleLead:
		return TeamRoleLead, nil
	case TeamRoleManager:
		return TeamRoleManager, nil
	default:
		return "", apperr.Invalid("teamRole", "unknown team role %q", s)
	}
}
