package middleware

import (
	"net/http"
	"strings"

	"github.com/calltrackerpro/calltracker/pkg/apperr"
	"github.com/calltrackerpro/calltracker/pkg/audit"
	"github.com/calltrackerpro/calltracker/pkg/auth"
	"github.com/calltrackerpro/calltracker/pkg/httputil"
	"github.com/calltrackerpro/calltracker/pkg/observability"
)

// Gates builds route guards that run after TenantMiddleware. Every decision is
// counted; denials are audited.
type Gates struct {
	auditor audit.Logger
	metrics *observability.Metrics
	debug   bool
}

// NewGates creates a gate builder. Both collaborators may be nil.
func NewGates(auditor audit.Logger, metrics *observability.Metrics, debug bool) *Gates {
	if auditor == nil {
		auditor = audit.NoopLogger{}
	}
	return &Gates{auditor: auditor, metrics: metrics, debug: debug}
}

// RequirePermission admits principals holding perm
func (g *Gates) RequirePermission(perm auth.Permission) func(http.Handler) http.Handler {
	return g.gate("permission", string(perm), func(p *auth.Principal) bool {
		return auth.HasPermission(p, perm)
	})
}

// RequireAnyPermission admits principals holding at least one of perms
func (g *Gates) RequireAnyPermission(perms ...auth.Permission) func(http.Handler) http.Handler {
	return g.gate("any_permission", joinPermissions(perms, " OR "), func(p *auth.Principal) bool {
		return auth.HasAny(p, perms...)
	})
}

// RequireAllPermissions admits principals holding every one of perms
func (g *Gates) RequireAllPermissions(perms ...auth.Permission) func(http.Handler) http.Handler {
	return g.gate("all_permissions", joinPermissions(perms, " AND "), func(p *auth.Principal) bool {
		return auth.HasAll(p, perms...)
	})
}

// RequireRole admits principals whose role is one of roles
func (g *Gates) RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return g.gate("role", strings.Join(names, " OR "), func(p *auth.Principal) bool {
		return auth.HasRole(p, roles...)
	})
}

// RequireMinimumRole admits principals ranked at or above role
func (g *Gates) RequireMinimumRole(role auth.Role) func(http.Handler) http.Handler {
	return g.gate("minimum_role", string(role), func(p *auth.Principal) bool {
		return p.Role.AtLeast(role)
	})
}

func (g *Gates) gate(check, required string, allow func(*auth.Principal) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant, ok := TenantFromContext(r.Context())
			if !ok {
				httputil.WriteAppError(w, apperr.Authentication("no tenant in context"), g.debug)
				return
			}

			allowed := allow(tenant.Principal)
			g.metrics.AuthorizationDecision(check, allowed)
			if !allowed {
				g.denied(r, tenant, check, required)
				httputil.WriteAppError(w, apperr.Forbidden(required), g.debug)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (g *Gates) denied(r *http.Request, tenant *Tenant, check, required string) {
	ctx := r.Context()
	event := audit.NewEvent(ctx, audit.EventTypeAuthzAccessDenied, audit.EventStatusDenied).
		WithRequest(r).
		WithResource(audit.ResourceTypePermission, required).
		WithMetadata("check", check)
	event.ActorRole = string(tenant.Principal.Role)
	if err := g.auditor.Log(ctx, event); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("Failed to write audit event")
	}
}

func joinPermissions(perms []auth.Permission, sep string) string {
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}
	return strings.Join(names, sep)
}
