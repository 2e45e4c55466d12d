package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/calltrackerpro/calltracker/pkg/api"
	"github.com/calltrackerpro/calltracker/pkg/audit"
	"github.com/calltrackerpro/calltracker/pkg/auth"
	"github.com/calltrackerpro/calltracker/pkg/orgs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingInvalidator) InvalidatePrincipal(ctx context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func withPrincipalCache(c api.PrincipalInvalidator) fixtureOption {
	return func(d *api.Dependencies) { d.PrincipalCache = c }
}

func TestGetUsage(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/api/organizations/org-a/usage", "admin-a", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var usage api.UsageResponse
	decodeData(t, w, &usage)
	assert.Equal(t, "org-a", usage.OrganizationID)
	assert.Equal(t, orgs.PlanPro, usage.Plan)
	assert.Equal(t, orgs.UsageReport{Current: 6, Limit: 10}, usage.Usage[orgs.ResourceUsers])
	assert.Equal(t, orgs.UsageReport{Current: 1, Limit: 5}, usage.Usage[orgs.ResourceTeams])

	// Managers carry view_analytics
	w = f.do(http.MethodGet, "/api/organizations/org-a/usage", "manager-a", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/api/organizations/org-a/usage", "agent-a", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "view_analytics OR manage_subscription", decode(t, w).Required)
}

func TestCreateTeam(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/organizations/org-a/teams", "admin-a", `{"name":"Support","managerId":"manager-a"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var team orgs.Team
	decodeData(t, w, &team)
	assert.Equal(t, "org-a", team.OrganizationID)
	assert.Equal(t, "manager-a", team.ManagerID)
	assert.True(t, team.IsActiveMember("manager-a"))

	events := f.audit.ByType(audit.EventTypeAdminTeamCreate)
	require.Len(t, events, 1)
	assert.Equal(t, team.ID, events[0].ResourceID)

	// Visible to its manager through the team route
	w = f.do(http.MethodGet, "/api/organizations/org-a/teams/"+team.ID, "manager-a", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateTeam_Rejections(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name      string
		org       string
		as        string
		body      string
		wantCode  int
		wantError string
		wantField string
	}{
		{"missing name", "org-a", "admin-a", `{"name":"  "}`, http.StatusBadRequest, "validation_error", "name"},
		{"duplicate name", "org-a", "admin-a", `{"name":"Sales"}`, http.StatusBadRequest, "validation_error", "name"},
		{"foreign manager", "org-a", "admin-a", `{"name":"Ops","managerId":"admin-b"}`, http.StatusBadRequest, "validation_error", "managerId"},
		{"agent lacks permission", "org-a", "agent-a", `{"name":"Ops"}`, http.StatusForbidden, "access_denied", ""},
		{"malformed body", "org-a", "admin-a", `{"name":`, http.StatusBadRequest, "validation_error", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/api/organizations/"+tt.org+"/teams", tt.as, tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			env := decode(t, w)
			assert.Equal(t, tt.wantError, env.ErrorCode)
			if tt.wantField != "" {
				assert.Equal(t, tt.wantField, env.Field)
			}
		})
	}
}

func TestCreateTeam_LimitExceeded(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/organizations/org-tiny/teams", "admin-tiny", `{"name":"Everyone"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(http.MethodPost, "/api/organizations/org-tiny/teams", "admin-tiny", `{"name":"Second"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	env := decode(t, w)
	assert.Equal(t, "limit_exceeded", env.ErrorCode)

	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(env.LimitInfo, &info))
	assert.Equal(t, "teams", info["resource"])
}

func TestGetTeam_Membership(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name     string
		path     string
		as       string
		wantCode int
	}{
		{"member", "/api/organizations/org-a/teams/team-a", "agent-a", http.StatusOK},
		{"manager", "/api/organizations/org-a/teams/team-a", "manager-a", http.StatusOK},
		{"org admin", "/api/organizations/org-a/teams/team-a", "admin-a", http.StatusOK},
		{"non-member", "/api/organizations/org-a/teams/team-a", "agent-a2", http.StatusForbidden},
		{"team of another org", "/api/organizations/org-a/teams/team-b", "admin-a", http.StatusNotFound},
		{"unknown team", "/api/organizations/org-a/teams/missing", "admin-a", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodGet, tt.path, tt.as, "")
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}

	w := f.do(http.MethodGet, "/api/organizations/org-a/teams/team-a", "agent-a", "")
	var team orgs.Team
	decodeData(t, w, &team)
	assert.Equal(t, "Sales", team.Name)
}

func TestChangeRole(t *testing.T) {
	cache := &recordingInvalidator{}
	f := newAPIFixture(t, withPrincipalCache(cache))

	w := f.do(http.MethodPut, "/api/organizations/org-a/users/agent-a/role", "admin-a", `{"role":"manager"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "role updated", decode(t, w).Message)

	stored, err := f.store.GetPrincipal(f.ctx, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleManager, stored.Role)
	assert.Equal(t, auth.DefaultPermissions(auth.RoleManager), stored.Permissions)
	assert.Equal(t, "hash-agent-a", stored.PasswordHash)
	assert.Equal(t, []string{"agent-a"}, cache.ids)

	events := f.audit.ByType(audit.EventTypeAuthzRoleChange)
	require.Len(t, events, 1)
	assert.Equal(t, "agent-a", events[0].ResourceID)
	assert.Equal(t, "agent", events[0].Metadata["from"])
	assert.Equal(t, "manager", events[0].Metadata["to"])

	// The promoted principal gains manager permissions on the next request
	w = f.do(http.MethodGet, "/api/organizations/org-a/usage", "agent-a", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChangeRole_Rejections(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name     string
		org      string
		as       string
		user     string
		body     string
		wantCode int
	}{
		{"manager lacks permission", "org-a", "manager-a", "agent-a", `{"role":"viewer"}`, http.StatusForbidden},
		{"super_admin is never granted", "org-a", "admin-a", "agent-a", `{"role":"super_admin"}`, http.StatusForbidden},
		{"unknown role", "org-a", "admin-a", "agent-a", `{"role":"owner"}`, http.StatusBadRequest},
		{"user of another org", "org-a", "admin-a", "admin-b", `{"role":"viewer"}`, http.StatusNotFound},
		{"unknown user", "org-a", "admin-a", "ghost", `{"role":"viewer"}`, http.StatusNotFound},
		{"cross-tenant admin", "org-b", "admin-a", "admin-b", `{"role":"viewer"}`, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPut, "/api/organizations/"+tt.org+"/users/"+tt.user+"/role", tt.as, tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}

	stored, err := f.store.GetPrincipal(f.ctx, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAgent, stored.Role)
	assert.Empty(t, f.audit.ByType(audit.EventTypeAuthzRoleChange))
}

func TestChangeRole_SuperAdminGrantsOrgAdmin(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPut, "/api/organizations/org-b/users/admin-b/role", "root", `{"role":"manager"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodPut, "/api/organizations/org-b/users/admin-b/role", "root", `{"role":"org_admin"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	stored, err := f.store.GetPrincipal(f.ctx, "admin-b")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleOrgAdmin, stored.Role)
}
