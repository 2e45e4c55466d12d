package api_test

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/calltrackerpro/calltracker/pkg/audit"
	"github.com/calltrackerpro/calltracker/pkg/invitations"
	"github.com/calltrackerpro/calltracker/pkg/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *apiFixture) createInvitation(as, org, email string) *invitations.Invitation {
	f.t.Helper()
	w := f.do(http.MethodPost, "/api/organizations/"+org+"/invitations", as,
		fmt.Sprintf(`{"email":%q,"role":"agent"}`, email))
	require.Equal(f.t, http.StatusCreated, w.Code, w.Body.String())

	var inv invitations.Invitation
	decodeData(f.t, w, &inv)
	return &inv
}

func (f *apiFixture) invitationToken(id string) string {
	f.t.Helper()
	inv, err := f.store.GetInvitation(f.ctx, id)
	require.NoError(f.t, err)
	return inv.Token
}

func TestInvitationLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	inv := f.createInvitation("admin-a", "org-a", "New.Hire@Example.com")
	assert.Equal(t, "new.hire@example.com", inv.Email)
	assert.Equal(t, invitations.StatusPending, inv.Status)
	token := f.invitationToken(inv.ID)

	w := f.do(http.MethodGet, "/api/invitations/"+token, "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var details invitations.Details
	decodeData(t, w, &details)
	assert.Equal(t, "Acme Calls", details.OrganizationName)
	assert.Equal(t, "org-a", details.OrganizationID)

	w = f.do(http.MethodPost, "/api/invitations/"+token+"/accept", "",
		`{"firstName":"New","lastName":"Hire","password":"correct-horse"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var accepted invitations.AcceptResult
	decodeData(t, w, &accepted)
	assert.NotEmpty(t, accepted.SessionToken)
	assert.Equal(t, "org-a", accepted.Principal.OrganizationID)

	// The session issued on accept authenticates against the tenant
	r := f.do(http.MethodGet, "/api/organizations/org-a/contacts", accepted.Principal.ID, "")
	assert.Equal(t, http.StatusOK, r.Code)

	w = f.do(http.MethodPost, "/api/invitations/"+token+"/accept", "",
		`{"firstName":"New","lastName":"Hire","password":"correct-horse"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "invitation_not_found", decode(t, w).ErrorCode)

	assert.Len(t, f.audit.ByType(audit.EventTypeInvitationCreated), 1)
	assert.Len(t, f.audit.ByType(audit.EventTypeInvitationAccepted), 1)
}

func TestAcceptInvitation_Validation(t *testing.T) {
	f := newAPIFixture(t)
	inv := f.createInvitation("admin-a", "org-a", "short@example.com")
	token := f.invitationToken(inv.ID)

	w := f.do(http.MethodPost, "/api/invitations/"+token+"/accept", "",
		`{"firstName":"Short","lastName":"Pass","password":"abc"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decode(t, w)
	assert.Equal(t, "validation_error", env.ErrorCode)
	assert.Equal(t, "password", env.Field)

	w = f.do(http.MethodPost, "/api/invitations/"+token+"/accept", "", `{"firstName":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPublicInvitationRoutes_UnknownToken(t *testing.T) {
	f := newAPIFixture(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/invitations/not-a-token"},
		{http.MethodPost, "/api/invitations/not-a-token/decline"},
	} {
		w := f.do(tc.method, tc.path, "", "")
		assert.Equal(t, http.StatusNotFound, w.Code, tc.path)
		assert.Equal(t, "invitation_not_found", decode(t, w).ErrorCode, tc.path)
	}
}

func TestDeclineInvitation(t *testing.T) {
	f := newAPIFixture(t)
	inv := f.createInvitation("admin-a", "org-a", "decline@example.com")
	token := f.invitationToken(inv.ID)

	w := f.do(http.MethodPost, "/api/invitations/"+token+"/decline", "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodGet, "/api/invitations/"+token, "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPublicInvitationRoutes_RateLimited(t *testing.T) {
	limiter := middleware.NewLocalRateLimiter(middleware.RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Hour,
	})
	f := newAPIFixture(t, withPublicLimiter(limiter))

	for i := 0; i < 2; i++ {
		w := f.do(http.MethodGet, "/api/invitations/unknown", "", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	}

	w := f.do(http.MethodGet, "/api/invitations/unknown", "", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decode(t, w).ErrorCode)

	// Authenticated routes are not throttled by the public limiter
	w = f.do(http.MethodGet, "/api/organizations/org-a/contacts", "agent-a", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateInvitation_Authorization(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name     string
		as       string
		org      string
		body     string
		wantCode int
		wantErr  string
	}{
		{"agent lacks invite_users", "agent-a", "org-a", `{"email":"x@example.com","role":"agent"}`, http.StatusForbidden, "access_denied"},
		{"admin of another tenant", "admin-b", "org-a", `{"email":"x@example.com","role":"agent"}`, http.StatusForbidden, "access_denied"},
		{"manager cannot invite admins", "manager-a", "org-a", `{"email":"x@example.com","role":"org_admin"}`, http.StatusForbidden, "access_denied"},
		{"super admin is never invitable", "admin-a", "org-a", `{"email":"x@example.com","role":"super_admin"}`, http.StatusBadRequest, "validation_error"},
		{"invalid email", "admin-a", "org-a", `{"email":"nope","role":"agent"}`, http.StatusBadRequest, "validation_error"},
		{"no credential", "", "org-a", `{"email":"x@example.com","role":"agent"}`, http.StatusUnauthorized, "authentication_required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/api/organizations/"+tt.org+"/invitations", tt.as, tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Equal(t, tt.wantErr, decode(t, w).ErrorCode)
		})
	}
}

func TestCreateInvitation_Duplicate(t *testing.T) {
	f := newAPIFixture(t)
	f.createInvitation("admin-a", "org-a", "dup@example.com")

	w := f.do(http.MethodPost, "/api/organizations/org-a/invitations", "admin-a", `{"email":"dup@example.com"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invitation_conflict", decode(t, w).ErrorCode)

	w = f.do(http.MethodPost, "/api/organizations/org-a/invitations", "admin-a", `{"email":"agent@acme.test"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestListInvitations(t *testing.T) {
	f := newAPIFixture(t)
	f.createInvitation("admin-a", "org-a", "one@example.com")
	f.createInvitation("admin-a", "org-a", "two@example.com")
	f.createInvitation("admin-b", "org-b", "elsewhere@example.com")

	w := f.do(http.MethodGet, "/api/organizations/org-a/invitations?limit=1", "manager-a", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var list invitations.ListResult
	decodeData(t, w, &list)
	assert.Len(t, list.Invitations, 1)
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, 2, list.Pages)
	assert.Equal(t, 2, list.Stats[invitations.StatusPending])
	assert.Equal(t, 0, list.Stats[invitations.StatusAccepted])

	w = f.do(http.MethodGet, "/api/organizations/org-a/invitations?status=bogus", "admin-a", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/api/organizations/org-a/invitations?page=-1", "admin-a", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/api/organizations/org-a/invitations", "agent-a", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "invite_users OR view_all_users", decode(t, w).Required)
}

func TestBulkCreateInvitations(t *testing.T) {
	f := newAPIFixture(t)
	f.createInvitation("admin-a", "org-a", "pending@example.com")

	w := f.do(http.MethodPost, "/api/organizations/org-a/invitations/bulk", "admin-a", `{"invitations":[
		{"email":"bulk1@example.com","role":"agent"},
		{"email":"bulk2@example.com","role":"viewer"},
		{"email":"pending@example.com","role":"agent"},
		{"email":"broken","role":"agent"}
	]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result invitations.BulkResult
	decodeData(t, w, &result)
	assert.Len(t, result.Successful, 2)
	assert.Len(t, result.Skipped, 1)
	assert.Len(t, result.Failed, 1)
	assert.Equal(t, "broken", result.Failed[0].Email)

	w = f.do(http.MethodPost, "/api/organizations/org-a/invitations/bulk", "admin-a", `{"invitations":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestManageInvitation(t *testing.T) {
	f := newAPIFixture(t)
	inv := f.createInvitation("admin-a", "org-a", "manage@example.com")
	base := "/api/organizations/org-a/invitations/" + inv.ID

	w := f.do(http.MethodPost, base+"/extend", "admin-a", `{"days":3}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var extended invitations.Invitation
	decodeData(t, w, &extended)
	assert.True(t, extended.ExpiresAt.After(inv.ExpiresAt))

	w = f.do(http.MethodPost, base+"/extend", "admin-a", `{"days":90}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, base+"/resend", "admin-a", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resent invitations.Invitation
	decodeData(t, w, &resent)
	assert.Equal(t, 1, resent.ReminderCount)

	// Another tenant's admin cannot see the invitation at all
	w = f.do(http.MethodDelete, "/api/organizations/org-b/invitations/"+inv.ID, "admin-b", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Managers hold invite_users but only the inviter or an admin may revoke
	w = f.do(http.MethodDelete, base, "manager-a", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(http.MethodDelete, base, "admin-a", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodGet, "/api/invitations/"+f.invitationToken(inv.ID), "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, base+"/extend", "admin-a", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invitation_not_pending", decode(t, w).ErrorCode)
}
