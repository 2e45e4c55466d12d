package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/calltrackerpro/calltracker/pkg/apperr"
	"github.com/calltrackerpro/calltracker/pkg/audit"
	"github.com/calltrackerpro/calltracker/pkg/auth"
	"github.com/calltrackerpro/calltracker/pkg/httputil"
	"github.com/calltrackerpro/calltracker/pkg/middleware"
	"github.com/calltrackerpro/calltracker/pkg/observability"
	"github.com/calltrackerpro/calltracker/pkg/orgs"
	"github.com/calltrackerpro/calltracker/pkg/storage"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// registerOrganizationRoutes registers usage, team and membership routes
func (s *Server) registerOrganizationRoutes(router *mux.Router) {
	router.Handle("/usage", guarded(s.getUsage,
		s.gates.RequireAnyPermission(auth.PermViewAnalytics, auth.PermManageSubscription))).Methods(http.MethodGet)

	router.Handle("/teams", guarded(s.createTeam,
		s.gates.RequirePermission(auth.PermManageTeams))).Methods(http.MethodPost)
	// TeamMiddleware has already checked membership of {teamId}
	router.HandleFunc("/teams/{"+middleware.TeamParam+"}", s.getTeam).Methods(http.MethodGet)

	router.Handle("/users/{userId}/role", guarded(s.changeRole,
		s.gates.RequirePermission(auth.PermManageUserRoles))).Methods(http.MethodPut)
}

// UsageResponse reports plan usage for one organization
type UsageResponse struct {
	OrganizationID string                                  `json:"organizationId"`
	Plan           orgs.Plan                               `json:"plan"`
	Usage          map[orgs.ResourceClass]orgs.UsageReport `json:"usage"`
}

func (s *Server) getUsage(w http.ResponseWriter, r *http.Request) {
	t := tenant(r)
	_ = httputil.WriteSuccess(w, UsageResponse{
		OrganizationID: t.Target.ID,
		Plan:           t.Target.Plan,
		Usage:          s.deps.Guard.Usage(r.Context(), t.Target),
	})
}

type createTeamRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ManagerID   string `json:"managerId"`
}

func (s *Server) createTeam(w http.ResponseWriter, r *http.Request) {
	var req createTeamRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		s.fail(w, r, apperr.Invalid("name", "team name is required"))
		return
	}

	ctx := r.Context()
	t := tenant(r)
	if err := s.deps.Guard.CheckLimit(ctx, t.Principal, t.Target, orgs.ResourceTeams); err != nil {
		s.fail(w, r, err)
		return
	}

	now := time.Now().UTC()
	team := &orgs.Team{
		ID:             uuid.NewString(),
		OrganizationID: t.TargetOrganizationID,
		Name:           req.Name,
		Description:    req.Description,
		Members:        []orgs.TeamMember{},
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.ManagerID != "" {
		if _, err := s.memberOf(ctx, req.ManagerID, t.TargetOrganizationID); err != nil {
			if errors.As(err, new(*apperr.NotFoundError)) {
				err = apperr.Invalid("managerId", "manager must belong to the organization")
			}
			s.fail(w, r, err)
			return
		}
		team.ManagerID = req.ManagerID
		team.AddMember(req.ManagerID, auth.TeamRoleManager, now)
	}

	if err := s.deps.Teams.CreateTeam(ctx, team); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			err = apperr.Invalid("name", "a team named %q already exists", req.Name)
		} else {
			err = fmt.Errorf("failed to create team: %w", err)
		}
		s.fail(w, r, err)
		return
	}

	event := audit.NewEvent(ctx, audit.EventTypeAdminTeamCreate, audit.EventStatusSuccess).
		WithRequest(r).
		WithResource(audit.ResourceTypeTeam, team.ID).
		WithMetadata("name", team.Name)
	event.ActorRole = string(t.Principal.Role)
	s.log(r, event)

	_ = httputil.WriteCreated(w, team)
}

func (s *Server) getTeam(w http.ResponseWriter, r *http.Request) {
	team, ok := middleware.TeamFromContext(r.Context())
	if !ok {
		s.fail(w, r, apperr.NotFound("team"))
		return
	}
	_ = httputil.WriteSuccess(w, team)
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

func (s *Server) changeRole(w http.ResponseWriter, r *http.Request) {
	var req changeRoleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	ctx := r.Context()
	t := tenant(r)
	actor := t.Principal
	if err := grantable(actor, role); err != nil {
		s.fail(w, r, err)
		return
	}

	target, err := s.memberOf(ctx, mux.Vars(r)["userId"], t.TargetOrganizationID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if target.IsSuperAdmin() && !actor.IsSuperAdmin() {
		s.fail(w, r, &apperr.AuthorizationError{Required: string(auth.RoleSuperAdmin), Message: "cannot change the role of a super admin"})
		return
	}

	previous := target.Role
	target.ChangeRole(role)
	if err := s.deps.Principals.UpdatePrincipal(ctx, target); err != nil {
		s.fail(w, r, fmt.Errorf("failed to update role: %w", err))
		return
	}
	if s.deps.PrincipalCache != nil {
		s.deps.PrincipalCache.InvalidatePrincipal(ctx, target.ID)
	}

	event := audit.NewEvent(ctx, audit.EventTypeAuthzRoleChange, audit.EventStatusSuccess).
		WithRequest(r).
		WithResource(audit.ResourceTypeUser, target.ID).
		WithMetadata("from", string(previous)).
		WithMetadata("to", string(role))
	event.ActorRole = string(actor.Role)
	s.log(r, event)

	_ = httputil.WriteSuccessMessage(w, "role updated", target)
}

// grantable checks that actor may hand out role. super_admin is never granted
// through the API and org_admin only by admins.
func grantable(actor *auth.Principal, role auth.Role) error {
	switch role {
	case auth.RoleSuperAdmin:
		return &apperr.AuthorizationError{Required: string(auth.RoleSuperAdmin), Message: "super_admin cannot be granted"}
	case auth.RoleOrgAdmin:
		if !auth.HasRole(actor, auth.RoleOrgAdmin, auth.RoleSuperAdmin) {
			return &apperr.AuthorizationError{Required: string(auth.RoleOrgAdmin), Message: "only organization admins can grant org_admin"}
		}
	}
	return nil
}

// memberOf loads principal id from the uncached store and checks it belongs to
// orgID. Principals of other organizations are reported as not found.
func (s *Server) memberOf(ctx context.Context, id, orgID string) (*auth.Principal, error) {
	p, err := s.deps.Principals.GetPrincipal(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && p.OrganizationID != orgID) {
		return nil, apperr.NotFound("user")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return p, nil
}

func (s *Server) log(r *http.Request, event *audit.Event) {
	if err := s.deps.Auditor.Log(r.Context(), event); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("Failed to write audit event")
	}
}
