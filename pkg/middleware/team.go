package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/calltrackerpro/calltracker/pkg/apperr"
	"github.com/calltrackerpro/calltracker/pkg/auth"
	"github.com/calltrackerpro/calltracker/pkg/contextkeys"
	"github.com/calltrackerpro/calltracker/pkg/httputil"
	"github.com/calltrackerpro/calltracker/pkg/observability"
	"github.com/calltrackerpro/calltracker/pkg/orgs"
	"github.com/calltrackerpro/calltracker/pkg/storage"
	"github.com/gorilla/mux"
)

// TeamParam names the team path variable
const TeamParam = "teamId"

// TeamLoader fetches a team by ID
type TeamLoader interface {
	GetTeam(ctx context.Context, id string) (*orgs.Team, error)
}

// TeamFromContext returns the team bound by TeamMiddleware
func TeamFromContext(ctx context.Context) (*orgs.Team, bool) {
	t, ok := ctx.Value(contextkeys.TeamKey).(*orgs.Team)
	return t, ok && t != nil
}

// TeamMiddleware validates the {teamId} route variable against the tenant. It
// must run after TenantMiddleware.
type TeamMiddleware struct {
	teams   TeamLoader
	metrics *observability.Metrics
	debug   bool
}

// NewTeamMiddleware creates the team middleware
func NewTeamMiddleware(teams TeamLoader, metrics *observability.Metrics, debug bool) *TeamMiddleware {
	return &TeamMiddleware{teams: teams, metrics: metrics, debug: debug}
}

// Handler binds the team to the request. Routes without a team variable pass
// through untouched.
func (m *TeamMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		teamID := mux.Vars(r)[TeamParam]
		if teamID == "" {
			next.ServeHTTP(w, r)
			return
		}

		tenant, ok := TenantFromContext(r.Context())
		if !ok {
			httputil.WriteAppError(w, apperr.Authentication("no tenant in context"), m.debug)
			return
		}

		team, err := m.authorize(r.Context(), tenant, teamID)
		if err != nil {
			if apperr.HTTPStatus(err) == http.StatusInternalServerError {
				observability.FromContext(r.Context()).WithError(err).Error("Team lookup failed")
			}
			httputil.WriteAppError(w, err, m.debug)
			return
		}

		next.ServeHTTP(w, r.WithContext(contextkeys.WithTeam(r.Context(), team)))
	})
}

func (m *TeamMiddleware) authorize(ctx context.Context, tenant *Tenant, teamID string) (*orgs.Team, error) {
	team, err := m.teams.GetTeam(ctx, teamID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("team")
	} else if err != nil {
		return nil, err
	}
	// Foreign and deactivated teams look the same as missing ones
	if !team.IsActive || team.OrganizationID != tenant.TargetOrganizationID {
		return nil, apperr.NotFound("team")
	}

	p := tenant.Principal
	allowed := auth.HasRole(p, auth.RoleSuperAdmin, auth.RoleOrgAdmin) ||
		team.ManagerID == p.ID ||
		team.IsActiveMember(p.ID)
	m.metrics.AuthorizationDecision("team", allowed)
	if !allowed {
		return nil, &apperr.AuthorizationError{Message: "access denied: not a member of this team"}
	}
	return team, nil
}
