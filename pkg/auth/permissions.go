package auth

import (
	"sort"
	"strings"

	"github.com/calltrackerpro/calltracker/pkg/apperr"
)

// Permission is an atomic capability checked independently of role
type Permission string

// Organization
const (
	PermManageOrganization Permission = "manage_organization"
	PermManageBilling      Permission = "manage_billing"
	PermManageSubscription Permission = "manage_subscription"
)

// Teams and users
const (
	PermManageTeams       Permission = "manage_teams"
	PermManageTeamMembers Permission = "manage_team_members"
	PermViewTeamAnalytics Permission = "view_team_analytics"
	PermInviteUsers       Permission = "invite_users"
	PermManageUserRoles   Permission = "manage_user_roles"
	PermViewAllUsers      Permission = "view_all_users"
)

// CRM
const (
	PermManageTeam     Permission = "manage_team"
	PermViewAllCalls   Permission = "view_all_calls"
	PermManageLeads    Permission = "manage_leads"
	PermExportData     Permission = "export_data"
	PermManageSettings Permission = "manage_settings"
	PermViewAnalytics  Permission = "view_analytics"
)

// Contacts
const (
	PermViewAllContacts    Permission = "view_all_contacts"
	PermManageAllContacts  Permission = "manage_all_contacts"
	PermViewTeamContacts   Permission = "view_team_contacts"
	PermManageTeamContacts Permission = "manage_team_contacts"
	PermViewOwnContacts    Permission = "view_own_contacts"
	PermManageOwnContacts  Permission = "manage_own_contacts"
)

// Call logs
const (
	PermViewAllCallLogs    Permission = "view_all_call_logs"
	PermManageAllCallLogs  Permission = "manage_all_call_logs"
	PermViewTeamCallLogs   Permission = "view_team_call_logs"
	PermManageTeamCallLogs Permission = "manage_team_call_logs"
	PermViewOwnCallLogs    Permission = "view_own_call_logs"
	PermManageOwnCallLogs  Permission = "manage_own_call_logs"
)

// Analytics and export
const (
	PermViewOrganizationAnalytics Permission = "view_organization_analytics"
	PermViewOwnAnalytics          Permission = "view_own_analytics"
	PermExportOrganizationData    Permission = "export_organization_data"
	PermExportTeamData            Permission = "export_team_data"
	PermExportOwnData             Permission = "export_own_data"
)

// System
const (
	PermManageSystemSettings Permission = "manage_system_settings"
	PermViewSystemLogs       Permission = "view_system_logs"
	PermManageIntegrations   Permission = "manage_integrations"
)

var allPermissions = []Permission{
	PermManageOrganization, PermManageBilling, PermManageSubscription,
	PermManageTeams, PermManageTeamMembers, PermViewTeamAnalytics,
	PermInviteUsers, PermManageUserRoles, PermViewAllUsers,
	PermManageTeam, PermViewAllCalls, PermManageLeads, PermExportData, PermManageSettings, PermViewAnalytics,
	PermViewAllContacts, PermManageAllContacts, PermViewTeamContacts, PermManageTeamContacts,
	PermViewOwnContacts, PermManageOwnContacts,
	PermViewAllCallLogs, PermManageAllCallLogs, PermViewTeamCallLogs, PermManageTeamCallLogs,
	PermViewOwnCallLogs, PermManageOwnCallLogs,
	PermViewOrganizationAnalytics, PermViewOwnAnalytics,
	PermExportOrganizationData, PermExportTeamData, PermExportOwnData,
	PermManageSystemSettings, PermViewSystemLogs, PermManageIntegrations,
}

var systemPermissions = []Permission{PermManageSystemSettings, PermViewSystemLogs, PermManageIntegrations}

var managerPermissions = []Permission{
	PermManageTeams, PermManageTeamMembers, PermViewTeamAnalytics,
	PermInviteUsers, PermViewAllUsers,
	PermManageTeam, PermViewAllCalls, PermManageLeads, PermExportData, PermViewAnalytics,
	PermViewTeamContacts, PermManageTeamContacts,
	PermViewTeamCallLogs, PermManageTeamCallLogs,
	PermExportTeamData,
}

var agentPermissions = []Permission{
	PermManageLeads,
	PermViewOwnContacts, PermManageOwnContacts,
	PermViewOwnCallLogs, PermManageOwnCallLogs,
	PermViewOwnAnalytics, PermExportOwnData,
}

var viewerPermissions = []Permission{PermViewOwnContacts, PermViewOwnCallLogs, PermViewOwnAnalytics}

// AllPermissions returns the full permission vocabulary
func AllPermissions() []Permission {
	return append([]Permission(nil), allPermissions...)
}

// ParsePermission converts a string into a known Permission
func ParsePermission(s string) (Permission, error) {
	p := Permission(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range allPermissions {
		if p == known {
			return p, nil
		}
	}
	return "", apperr.Invalid("permissions", "unknown permission %q", s)
}

// ParsePermissions converts a list of strings, rejecting unknown values
func ParsePermissions(values []string) ([]Permission, error) {
	perms := make([]Permission, 0, len(values))
	for _, v := range values {
		p, err := ParsePermission(v)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return normalize(perms), nil
}

// DefaultPermissions returns the canonical permission set for role. The result is
// a fresh sorted slice; callers may modify it. Unknown roles get nothing.
func DefaultPermissions(role Role) []Permission {
	var perms []Permission
	switch role {
	case RoleSuperAdmin:
		perms = append(perms, allPermissions...)
	case RoleOrgAdmin:
		for _, p := range allPermissions {
			if !containsPermission(systemPermissions, p) {
				perms = append(perms, p)
			}
		}
	case RoleManager:
		perms = append(perms, managerPermissions...)
	case RoleAgent:
		perms = append(perms, agentPermissions...)
	case RoleViewer:
		perms = append(perms, viewerPermissions...)
	default:
		return nil
	}
	return normalize(perms)
}

// normalize sorts and de-duplicates a permission list
func normalize(perms []Permission) []Permission {
	if len(perms) == 0 {
		return []Permission{}
	}
	out := append([]Permission(nil), perms...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

func containsPermission(set []Permission, p Permission) bool {
	for _, s := range set {
		if s == p {
			return true
		}
	}
	return false
}
