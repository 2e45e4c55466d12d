package scope

import (
	"context"
	"fmt"
	"sort"

	"github.com/calltrackerpro/calltracker/pkg/auth"
)

// Record fields the scoping predicate is built on
const (
	FieldOrganizationID = "organizationId"
	FieldAssignedTo     = "assignedTo"
	FieldCreatedBy      = "createdBy"
	FieldOwnerID        = "ownerId"
	FieldTeamID         = "teamId"
)

// AccessScope describes which records a principal may act on
type AccessScope struct {
	CanViewAll     bool     `json:"canViewAll"`
	CanViewTeam    bool     `json:"canViewTeam"`
	CanViewOwn     bool     `json:"canViewOwn"`
	TeamIDs        []string `json:"teamIds,omitempty"`
	OrganizationID string   `json:"organizationId"`
	PrincipalID    string   `json:"principalId"`
}

// Resolve derives the access scope of p within targetOrgID. An empty
// targetOrgID falls back to the principal's own organization.
func Resolve(p *auth.Principal, targetOrgID string) AccessScope {
	if p == nil {
		return AccessScope{}
	}

	s := AccessScope{
		OrganizationID: targetOrgID,
		PrincipalID:    p.ID,
	}
	if s.OrganizationID == "" {
		s.OrganizationID = p.OrganizationID
	}

	switch p.Role {
	case auth.RoleSuperAdmin, auth.RoleOrgAdmin:
		s.CanViewAll = true
	case auth.RoleManager:
		s.CanViewTeam = true
		ids := p.ActiveTeamIDs(auth.TeamRoleManager)
		if p.TeamID != "" {
			ids = append(ids, p.TeamID)
		}
		s.TeamIDs = dedupe(ids)
	case auth.RoleAgent, auth.RoleViewer:
		s.CanViewOwn = true
	}

	return s
}

// TeamLister finds the teams a principal manages
type TeamLister interface {
	ListManagedTeamIDs(ctx context.Context, organizationID, managerID string) ([]string, error)
}

// Resolver resolves scopes, widening manager scopes with the teams that name the
// principal as their manager.
type Resolver struct {
	teams TeamLister
}

// NewResolver creates a resolver backed by teams
func NewResolver(teams TeamLister) *Resolver {
	return &Resolver{teams: teams}
}

// Resolve returns the access scope of p within targetOrgID
func (r *Resolver) Resolve(ctx context.Context, p *auth.Principal, targetOrgID string) (AccessScope, error) {
	s := Resolve(p, targetOrgID)
	if !s.CanViewTeam || r.teams == nil {
		return s, nil
	}

	managed, err := r.teams.ListManagedTeamIDs(ctx, s.OrganizationID, p.ID)
	if err != nil {
		return AccessScope{}, fmt.Errorf("failed to list managed teams: %w", err)
	}
	s.TeamIDs = dedupe(append(s.TeamIDs, managed...))
	return s, nil
}

// BuildScopedQuery narrows base to the records visible under s. The organization
// filter is always present; a scope with no visibility flag matches nothing.
func (s AccessScope) BuildScopedQuery(base Filter) Filter {
	conds := make([]Filter, 0, 3)
	if base != nil {
		conds = append(conds, base)
	}
	conds = append(conds, Eq{Field: FieldOrganizationID, Value: s.OrganizationID})

	switch {
	case s.CanViewAll:
	case s.CanViewTeam:
		branches := Or{
			Eq{Field: FieldAssignedTo, Value: s.PrincipalID},
			Eq{Field: FieldCreatedBy, Value: s.PrincipalID},
		}
		if len(s.TeamIDs) > 0 {
			branches = append(branches, In{Field: FieldTeamID, Values: toValues(s.TeamIDs)})
		}
		conds = append(conds, branches)
	case s.CanViewOwn:
		conds = append(conds, Or{
			Eq{Field: FieldAssignedTo, Value: s.PrincipalID},
			Eq{Field: FieldCreatedBy, Value: s.PrincipalID},
			Eq{Field: FieldOwnerID, Value: s.PrincipalID},
		})
	default:
		conds = append(conds, MatchNone{})
	}

	return And(conds)
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func toValues(ids []string) []interface{} {
	values := make([]interface{}, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	return values
}
