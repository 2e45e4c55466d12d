package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/calltrackerpro/calltracker/pkg/audit"
	"github.com/calltrackerpro/calltracker/pkg/auth"
	"github.com/calltrackerpro/calltracker/pkg/contextkeys"
	"github.com/calltrackerpro/calltracker/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveWithPrincipal(gate func(http.Handler) http.Handler, p *auth.Principal) (*httptest.ResponseRecorder, bool) {
	called := false
	handler := gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/organizations/org-a/invitations", nil)
	if p != nil {
		r = r.WithContext(contextkeys.WithTenant(r.Context(), &Tenant{Principal: p, TargetOrganizationID: p.OrganizationID}))
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w, called
}

func TestGates(t *testing.T) {
	agent := auth.NewPrincipal("agent-1", "org-a", "agent@acme.test", auth.RoleAgent)
	manager := auth.NewPrincipal("manager-1", "org-a", "manager@acme.test", auth.RoleManager)
	admin := auth.NewPrincipal("admin-1", "org-a", "admin@acme.test", auth.RoleOrgAdmin)
	root := auth.NewPrincipal("root", "", "root@platform.test", auth.RoleSuperAdmin)
	root.Permissions = nil

	overridden := auth.NewPrincipal("agent-2", "org-a", "agent2@acme.test", auth.RoleAgent)
	overridden.SetPermissions([]auth.Permission{auth.PermInviteUsers})

	gates := NewGates(nil, nil, false)

	tests := []struct {
		name      string
		gate      func(http.Handler) http.Handler
		principal *auth.Principal
		allowed   bool
		required  string
	}{
		{
			name:      "permission held",
			gate:      gates.RequirePermission(auth.PermInviteUsers),
			principal: admin,
			allowed:   true,
		},
		{
			name:      "permission missing",
			gate:      gates.RequirePermission(auth.PermInviteUsers),
			principal: agent,
			required:  "invite_users",
		},
		{
			name:      "explicit override wins over role",
			gate:      gates.RequirePermission(auth.PermInviteUsers),
			principal: overridden,
			allowed:   true,
		},
		{
			name:      "super admin holds everything",
			gate:      gates.RequirePermission(auth.Permission("not_in_vocabulary")),
			principal: root,
			allowed:   true,
		},
		{
			name:      "any of",
			gate:      gates.RequireAnyPermission(auth.PermViewAllContacts, auth.PermViewTeamContacts, auth.PermViewOwnContacts),
			principal: agent,
			allowed:   true,
		},
		{
			name:      "none of",
			gate:      gates.RequireAnyPermission(auth.PermManageBilling, auth.PermManageSubscription),
			principal: manager,
			required:  "manage_billing OR manage_subscription",
		},
		{
			name:      "all of missing one",
			gate:      gates.RequireAllPermissions(auth.PermViewOwnContacts, auth.PermManageBilling),
			principal: agent,
			required:  "view_own_contacts AND manage_billing",
		},
		{
			name:      "role listed",
			gate:      gates.RequireRole(auth.RoleOrgAdmin, auth.RoleSuperAdmin),
			principal: admin,
			allowed:   true,
		},
		{
			name:      "role not listed",
			gate:      gates.RequireRole(auth.RoleOrgAdmin, auth.RoleSuperAdmin),
			principal: manager,
			required:  "org_admin OR super_admin",
		},
		{
			name:      "minimum role met from above",
			gate:      gates.RequireMinimumRole(auth.RoleManager),
			principal: admin,
			allowed:   true,
		},
		{
			name:      "minimum role not met",
			gate:      gates.RequireMinimumRole(auth.RoleManager),
			principal: agent,
			required:  "manager",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, called := serveWithPrincipal(tt.gate, tt.principal)
			assert.Equal(t, tt.allowed, called)
			if tt.allowed {
				assert.Equal(t, http.StatusOK, w.Code)
				return
			}
			assert.Equal(t, http.StatusForbidden, w.Code)
			body := errorBody(t, w)
			assert.Equal(t, "access_denied", body["error_code"])
			assert.Equal(t, tt.required, body["required"])
		})
	}
}

func TestGates_WithoutTenant(t *testing.T) {
	gates := NewGates(nil, nil, false)
	w, called := serveWithPrincipal(gates.RequirePermission(auth.PermInviteUsers), nil)
	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGates_CountsAndAuditsDecisions(t *testing.T) {
	auditor := audit.NewMemoryLogger()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	gates := NewGates(auditor, metrics, false)
	gate := gates.RequirePermission(auth.PermInviteUsers)

	admin := auth.NewPrincipal("admin-1", "org-a", "admin@acme.test", auth.RoleOrgAdmin)
	agent := auth.NewPrincipal("agent-1", "org-a", "agent@acme.test", auth.RoleAgent)

	serveWithPrincipal(gate, admin)
	serveWithPrincipal(gate, agent)
	serveWithPrincipal(gate, agent)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuthorizationDecisionsTotal.WithLabelValues("permission", "allowed")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.AuthorizationDecisionsTotal.WithLabelValues("permission", "denied")))

	denied := auditor.ByType(audit.EventTypeAuthzAccessDenied)
	require.Len(t, denied, 2)
	assert.Equal(t, "invite_users", denied[0].ResourceID)
	assert.Equal(t, "agent", denied[0].ActorRole)
}
