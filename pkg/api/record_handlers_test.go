package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/calltrackerpro/calltracker/pkg/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *apiFixture) seedRecord(id, org string, kind records.Kind, owner, team string) {
	f.t.Helper()
	now := time.Now().UTC()
	require.NoError(f.t, f.store.CreateRecord(f.ctx, &records.Record{
		ID: id, OrganizationID: org, Kind: kind,
		AssignedTo: owner, CreatedBy: owner, OwnerID: owner, TeamID: team,
		Data: map[string]interface{}{"name": id}, IsActive: true,
		CreatedAt: now, UpdatedAt: now,
	}))
}

func listIDs(t *testing.T, w *httptest.ResponseRecorder) []string {
	t.Helper()
	var page records.Page
	decodeData(t, w, &page)
	ids := make([]string, len(page.Records))
	for i, r := range page.Records {
		ids[i] = r.ID
	}
	sort.Strings(ids)
	return ids
}

func TestContacts_ListIsScopedByRole(t *testing.T) {
	f := newAPIFixture(t)
	f.seedRecord("c-agent", "org-a", records.KindContact, "agent-a", "team-a")
	f.seedRecord("c-agent2", "org-a", records.KindContact, "agent-a2", "")
	f.seedRecord("c-other-org", "org-b", records.KindContact, "admin-b", "team-b")
	f.seedRecord("l-agent", "org-a", records.KindCallLog, "agent-a", "team-a")

	tests := []struct {
		as   string
		want []string
	}{
		{"admin-a", []string{"c-agent", "c-agent2"}},
		{"manager-a", []string{"c-agent"}},
		{"agent-a", []string{"c-agent"}},
		{"agent-a2", []string{"c-agent2"}},
		{"viewer-a", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.as, func(t *testing.T) {
			w := f.do(http.MethodGet, "/api/organizations/org-a/contacts", tt.as, "")
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, tt.want, listIDs(t, w))
		})
	}
}

func TestContacts_GateRequiresSomeContactPermission(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/api/organizations/org-a/contacts", "nobody-a", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	env := decode(t, w)
	assert.Equal(t, "access_denied", env.ErrorCode)
	assert.Contains(t, env.Required, "view_own_contacts")
}

func TestContacts_CRUD(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/organizations/org-a/contacts", "agent-a", `{"data":{"name":"Jane","phone":"+15550100"}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created records.Record
	decodeData(t, w, &created)
	assert.Equal(t, "org-a", created.OrganizationID)
	assert.Equal(t, records.KindContact, created.Kind)
	assert.Equal(t, "agent-a", created.AssignedTo)
	assert.Equal(t, "agent-a", created.CreatedBy)

	path := "/api/organizations/org-a/contacts/" + created.ID

	// Another agent's record is invisible rather than forbidden
	w = f.do(http.MethodGet, path, "agent-a2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(http.MethodPut, path, "agent-a2", `{"data":{"name":"Hijack"}}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPut, path, "agent-a", `{"data":{"name":"Jane Doe"}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated records.Record
	decodeData(t, w, &updated)
	assert.Equal(t, "Jane Doe", updated.Data["name"])

	w = f.do(http.MethodGet, path, "admin-a", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodDelete, path, "agent-a", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(http.MethodGet, path, "agent-a", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode(t, w).ErrorCode)
}

func TestContacts_ViewerCannotWrite(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/organizations/org-a/contacts", "viewer-a", `{"data":{"name":"Nope"}}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "access_denied", decode(t, w).ErrorCode)
}

func TestContacts_LimitExceeded(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/organizations/org-tiny/contacts", "admin-tiny", `{"data":{"name":"First"}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(http.MethodPost, "/api/organizations/org-tiny/contacts", "admin-tiny", `{"data":{"name":"Second"}}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	env := decode(t, w)
	assert.Equal(t, "limit_exceeded", env.ErrorCode)
	assert.Contains(t, env.Message, "upgrade")

	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(env.LimitInfo, &info))
	assert.Equal(t, "contacts", info["resource"])
	assert.EqualValues(t, 1, info["limit"])
	assert.EqualValues(t, 1, info["current"])

	// Super admins are never limited
	w = f.do(http.MethodPost, "/api/organizations/org-tiny/contacts", "root", `{"data":{"name":"Ops"}}`)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestCallLogs_RoutesUseTheirOwnKind(t *testing.T) {
	f := newAPIFixture(t)
	f.seedRecord("c-agent", "org-a", records.KindContact, "agent-a", "")

	w := f.do(http.MethodPost, "/api/organizations/org-a/call-logs", "agent-a", `{"data":{"duration":42}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created records.Record
	decodeData(t, w, &created)
	assert.Equal(t, records.KindCallLog, created.Kind)

	w = f.do(http.MethodGet, "/api/organizations/org-a/call-logs", "agent-a", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{created.ID}, listIDs(t, w))

	// A contact ID is not reachable through the call-log routes
	w = f.do(http.MethodGet, "/api/organizations/org-a/call-logs/c-agent", "agent-a", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecords_SuperAdminActsInTargetTenant(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/organizations/org-b/contacts", "root", `{"data":{"name":"Support"}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created records.Record
	decodeData(t, w, &created)
	assert.Equal(t, "org-b", created.OrganizationID)

	w = f.do(http.MethodGet, "/api/organizations/org-b/contacts/"+created.ID, "admin-b", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/api/organizations/org-b/contacts/"+created.ID, "admin-a", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}
