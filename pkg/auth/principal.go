package auth

import (
	"strings"
	"time"
)

// Principal is an authenticated member of exactly one organization. A super
// admin may have an empty OrganizationID.
type Principal struct {
	ID             string           `json:"id"`
	OrganizationID string           `json:"organizationId,omitempty"`
	Email          string           `json:"email"`
	FirstName      string           `json:"firstName,omitempty"`
	LastName       string           `json:"lastName,omitempty"`
	PasswordHash   string           `json:"-"`
	Role           Role             `json:"role"`
	Permissions    []Permission     `json:"permissions"`
	TeamID         string           `json:"teamId,omitempty"`
	Teams          []TeamMembership `json:"teams,omitempty"`
	IsActive       bool             `json:"isActive"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
	LastLoginAt    *time.Time       `json:"lastLoginAt,omitempty"`
}

// TeamMembership links a principal to a team under a team-scoped role
type TeamMembership struct {
	TeamID   string    `json:"teamId"`
	Role     TeamRole  `json:"role"`
	IsActive bool      `json:"isActive"`
	JoinedAt time.Time `json:"joinedAt"`
}

// NewPrincipal builds an active principal with the default permissions for role
func NewPrincipal(id, organizationID, email string, role Role) *Principal {
	now := time.Now().UTC()
	return &Principal{
		ID:             id,
		OrganizationID: organizationID,
		Email:          NormalizeEmail(email),
		Role:           role,
		Permissions:    DefaultPermissions(role),
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsSuperAdmin reports whether p holds the unscoped platform role
func (p *Principal) IsSuperAdmin() bool {
	return p != nil && p.Role == RoleSuperAdmin
}

// ChangeRole sets the role and resets permissions to that role's defaults.
// Call SetPermissions afterwards to apply overrides.
func (p *Principal) ChangeRole(role Role) {
	p.Role = role
	p.Permissions = DefaultPermissions(role)
	p.UpdatedAt = time.Now().UTC()
}

// SetPermissions replaces the stored permission set
func (p *Principal) SetPermissions(perms []Permission) {
	p.Permissions = normalize(perms)
	p.UpdatedAt = time.Now().UTC()
}

// FullName joins first and last name
func (p *Principal) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// ActiveTeamIDs returns the teams p actively belongs to, optionally restricted to
// the given team roles.
func (p *Principal) ActiveTeamIDs(roles ...TeamRole) []string {
	var ids []string
	for _, m := range p.Teams {
		if !m.IsActive {
			continue
		}
		if len(roles) > 0 && !containsTeamRole(roles, m.Role) {
			continue
		}
		ids = append(ids, m.TeamID)
	}
	return ids
}

// IsTeamMember reports whether p has an active membership in teamID
func (p *Principal) IsTeamMember(teamID string) bool {
	if p.TeamID == teamID && teamID != "" {
		return true
	}
	for _, m := range p.Teams {
		if m.TeamID == teamID && m.IsActive {
			return true
		}
	}
	return false
}

// JoinTeam adds or re-activates a membership
func (p *Principal) JoinTeam(teamID string, role TeamRole, at time.Time) {
	for i := range p.Teams {
		if p.Teams[i].TeamID == teamID {
			p.Teams[i].Role = role
			p.Teams[i].IsActive = true
			return
		}
	}
	p.Teams = append(p.Teams, TeamMembership{TeamID: teamID, Role: role, IsActive: true, JoinedAt: at})
	if p.TeamID == "" {
		p.TeamID = teamID
	}
}

// NormalizeEmail lower-cases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func containsTeamRole(roles []TeamRole, r TeamRole) bool {
	for _, role := range roles {
		if role == r {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of p
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	c := *p
	c.Permissions = append([]Permission(nil), p.Permissions...)
	c.Teams = append([]TeamMembership(nil), p.Teams...)
	if p.LastLoginAt != nil {
		t := *p.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}
