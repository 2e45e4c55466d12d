package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/calltrackerpro/calltracker/pkg/apperr"
	"github.com/calltrackerpro/calltracker/pkg/auth"
	"github.com/calltrackerpro/calltracker/pkg/invitations"
	"github.com/calltrackerpro/calltracker/pkg/orgs"
	"github.com/calltrackerpro/calltracker/pkg/records"
	"github.com/calltrackerpro/calltracker/pkg/scope"
	"github.com/calltrackerpro/calltracker/pkg/storage"
	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(NewConnectionManager(db, nil, ConnectionConfig{}, nil), nil), mock
}

func columns(list string) []string {
	parts := strings.Split(list, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func pendingInvitationRow() *sqlmock.Rows {
	return sqlmock.NewRows(columns(invitationColumns)).AddRow(
		"inv-1", "org-a", "new@acme.test", "agent", "{view_own_contacts}", "team-a", "member", "tok",
		"pending", "admin-1", "", testNow.Add(-time.Hour), testNow.Add(6*24*time.Hour), nil, nil, nil,
		nil, nil, 0, testNow.Add(24*time.Hour), nil,
	)
}

func acceptedInvitationRow() *sqlmock.Rows {
	return sqlmock.NewRows(columns(invitationColumns)).AddRow(
		"inv-1", "org-a", "new@acme.test", "agent", "{}", "team-a", "member", "tok",
		"accepted", "admin-1", "", testNow.Add(-time.Hour), testNow.Add(6*24*time.Hour), testNow, "p-new", nil,
		nil, nil, 0, nil, nil,
	)
}

func uniqueViolation() error {
	return &pq.Error{Code: pgerrcode.UniqueViolation, Message: "duplicate key value violates unique constraint"}
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))
	assert.ErrorIs(t, mapError(sql.ErrNoRows), storage.ErrNotFound)
	assert.ErrorIs(t, mapError(uniqueViolation()), storage.ErrConflict)
	fk := &pq.Error{Code: pgerrcode.ForeignKeyViolation}
	assert.Same(t, fk, mapError(fk))

	other := errors.New("boom")
	assert.Equal(t, other, mapError(other))
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	for range migrations {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()

	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_RollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS organizations").WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	err = Migrate(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration 0")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrganization(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM organizations WHERE id = \\$1").
		WithArgs("org-a").
		WillReturnRows(sqlmock.NewRows(columns(organizationColumns)).AddRow(
			"org-a", "Acme", "pro", "active", 25, 10000, -1, 5, true, nil, testNow, testNow,
		))
	org, err := s.GetOrganization(ctx, "org-a")
	require.NoError(t, err)
	assert.Equal(t, orgs.PlanPro, org.Plan)
	assert.Equal(t, orgs.StatusActive, org.SubscriptionStatus)
	assert.Equal(t, orgs.Unlimited, org.Limits.Contacts)
	assert.Nil(t, org.TrialEndsAt)

	mock.ExpectQuery("SELECT (.+) FROM organizations").WithArgs("missing").WillReturnError(sql.ErrNoRows)
	_, err = s.GetOrganization(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPrincipal_LoadsMemberships(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM principals WHERE id = \\$1").
		WithArgs("agent-1").
		WillReturnRows(sqlmock.NewRows(columns(principalColumns)).AddRow(
			"agent-1", "org-a", "agent@acme.test", "Al", "Agent", "hash", "agent",
			"{view_own_contacts,manage_own_contacts}", "team-a", true, testNow, testNow, nil,
		))
	mock.ExpectQuery("SELECT team_id, role, is_active, joined_at FROM team_members").
		WithArgs("agent-1").
		WillReturnRows(sqlmock.NewRows([]string{"team_id", "role", "is_active", "joined_at"}).
			AddRow("team-a", "member", true, testNow))

	p, err := s.GetPrincipal(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAgent, p.Role)
	assert.Equal(t, []auth.Permission{auth.PermViewOwnContacts, auth.PermManageOwnContacts}, p.Permissions)
	assert.Equal(t, []string{"team-a"}, p.ActiveTeamIDs())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePrincipal_DuplicateEmail(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO principals").WillReturnError(uniqueViolation())
	mock.ExpectRollback()

	err := s.CreatePrincipal(context.Background(), auth.NewPrincipal("p-2", "org-a", "dup@acme.test", auth.RoleAgent))
	assert.ErrorIs(t, err, storage.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePrincipal_OrganizationIsImmutable(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT role, organization_id FROM principals WHERE id = \\$1 FOR UPDATE").
		WithArgs("agent-1").
		WillReturnRows(sqlmock.NewRows([]string{"role", "organization_id"}).AddRow("agent", "org-a"))
	mock.ExpectRollback()

	moved := auth.NewPrincipal("agent-1", "org-b", "agent@acme.test", auth.RoleAgent)
	err := s.UpdatePrincipal(context.Background(), moved)
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "organizationId", verr.Field)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountActive(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	since := orgs.MonthStart(testNow)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM records WHERE organization_id = $1 AND kind = 'call_log' AND created_at >= $2")).
		WithArgs("org-a", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))
	n, err := s.CountActive(ctx, "org-a", orgs.ResourceCalls, since)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM principals WHERE organization_id = $1 AND is_active")).
		WithArgs("org-a").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	n, err = s.CountActive(ctx, "org-a", orgs.ResourceUsers, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.CountActive(ctx, "org-a", orgs.ResourceClass("widgets"), time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecords_CompilesScope(t *testing.T) {
	s, mock := newMockStore(t)

	filter := scope.And{
		scope.Eq{Field: scope.FieldOrganizationID, Value: "org-a"},
		scope.Eq{Field: records.FieldKind, Value: string(records.KindContact)},
		scope.Or{
			scope.Eq{Field: scope.FieldAssignedTo, Value: "agent-1"},
			scope.Eq{Field: scope.FieldOwnerID, Value: "agent-1"},
		},
	}
	where := "(organization_id = $1 AND kind = $2 AND (assigned_to = $3 OR owner_id = $4))"

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM records WHERE " + where)).
		WithArgs("org-a", "contact", "agent-1", "agent-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta(where + " ORDER BY created_at DESC, id LIMIT $5 OFFSET $6")).
		WithArgs("org-a", "contact", "agent-1", "agent-1", 5, 5).
		WillReturnRows(sqlmock.NewRows(columns(recordColumns)).AddRow(
			"c-1", "org-a", "contact", "agent-1", "agent-1", nil, "team-a",
			[]byte(`{"name":"Jo"}`), true, testNow, testNow,
		))

	recs, total, err := s.ListRecords(context.Background(), filter, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, recs, 1)
	assert.Equal(t, records.KindContact, recs[0].Kind)
	assert.Empty(t, recs[0].OwnerID)
	assert.Equal(t, "Jo", recs[0].Data["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecords_UnknownFieldIsRejected(t *testing.T) {
	s, mock := newMockStore(t)

	_, _, err := s.ListRecords(context.Background(), scope.Eq{Field: "password", Value: "x"}, 0, 10)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRecord_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE records SET is_active = FALSE").
		WithArgs("c-1", "org-a", testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeleteRecord(context.Background(), "org-a", "c-1", testNow)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreateInvitation_PendingConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO invitations").WillReturnError(uniqueViolation())

	err := s.CreateInvitation(context.Background(), &invitations.Invitation{
		ID: "inv-2", OrganizationID: "org-a", Email: "new@acme.test", Role: auth.RoleAgent,
		Token: "tok-2", Status: invitations.StatusPending, InvitedBy: "admin-1",
		CreatedAt: testNow, ExpiresAt: testNow.Add(invitations.DefaultExpiry),
	})
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestGetInvitationByToken(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM invitations WHERE token = \\$1").
		WithArgs("tok").
		WillReturnRows(pendingInvitationRow())

	inv, err := s.GetInvitationByToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, invitations.StatusPending, inv.Status)
	assert.Equal(t, auth.TeamRoleMember, inv.TeamRole)
	assert.Equal(t, []auth.Permission{auth.PermViewOwnContacts}, inv.Permissions)
	require.NotNil(t, inv.NextReminderAt)
	assert.True(t, inv.IsUsable(testNow))
}

func TestExtendInvitation_RequiresUnexpired(t *testing.T) {
	s, mock := newMockStore(t)
	expiresAt := testNow.Add(9 * 24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND status = 'pending' AND expires_at > $2")).
		WithArgs("inv-1", testNow, expiresAt).
		WillReturnRows(pendingInvitationRow())
	_, err := s.ExtendInvitation(context.Background(), "inv-1", testNow, expiresAt)
	require.NoError(t, err)

	mock.ExpectQuery("UPDATE invitations SET expires_at").
		WithArgs("inv-1", testNow, expiresAt).
		WillReturnError(sql.ErrNoRows)
	_, err = s.ExtendInvitation(context.Background(), "inv-1", testNow, expiresAt)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcceptInvitation(t *testing.T) {
	newcomer := func() *auth.Principal {
		p := auth.NewPrincipal("p-new", "org-a", "new@acme.test", auth.RoleAgent)
		p.JoinTeam("team-a", auth.TeamRoleMember, testNow)
		return p
	}

	t.Run("commits principal and membership", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE invitations").
			WithArgs("tok", testNow, "p-new").
			WillReturnRows(acceptedInvitationRow())
		mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
			WithArgs("new@acme.test").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec("INSERT INTO principals").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO team_members").
			WithArgs("team-a", "p-new", "member", true, testNow).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		inv, err := s.AcceptInvitation(context.Background(), "tok", testNow, newcomer())
		require.NoError(t, err)
		assert.Equal(t, invitations.StatusAccepted, inv.Status)
		assert.Equal(t, "p-new", inv.AcceptedBy)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("token no longer usable", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE invitations").WillReturnRows(sqlmock.NewRows(columns(invitationColumns)))
		mock.ExpectRollback()

		_, err := s.AcceptInvitation(context.Background(), "tok", testNow, newcomer())
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("email already active rolls back", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE invitations").WillReturnRows(acceptedInvitationRow())
		mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		_, err := s.AcceptInvitation(context.Background(), "tok", testNow, newcomer())
		assert.ErrorIs(t, err, storage.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique index race is a conflict", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE invitations").WillReturnRows(acceptedInvitationRow())
		mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec("INSERT INTO principals").WillReturnError(uniqueViolation())
		mock.ExpectRollback()

		_, err := s.AcceptInvitation(context.Background(), "tok", testNow, newcomer())
		assert.ErrorIs(t, err, storage.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRecordReminder_CapIsInTheQuery(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("reminder_count < $4")).
		WithArgs("inv-1", testNow, sqlmock.AnyArg(), invitations.MaxReminders).
		WillReturnRows(sqlmock.NewRows(columns(invitationColumns)))

	_, err := s.RecordReminder(context.Background(), "inv-1", testNow, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountInvitationsByStatus(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT CASE WHEN status = 'pending' AND expires_at <= \\$2").
		WithArgs("org-a", testNow).
		WillReturnRows(sqlmock.NewRows([]string{"effective", "count"}).
			AddRow("pending", 2).
			AddRow("expired", 1))

	counts, err := s.CountInvitationsByStatus(context.Background(), "org-a", testNow)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[invitations.StatusPending])
	assert.Equal(t, 1, counts[invitations.StatusExpired])
	assert.Zero(t, counts[invitations.StatusAccepted])
}

func TestExpireInvitations(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE invitations SET status = 'expired'").
		WithArgs(testNow).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.ExpireInvitations(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	mock.ExpectExec("UPDATE invitations SET status = 'expired'").
		WithArgs("inv-1", testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.ExpireInvitation(context.Background(), "inv-1", testNow), storage.ErrNotFound)
}

func TestStorageErrorsAreWrapped(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM organizations").WillReturnError(errors.New("connection reset"))
	_, err := s.GetOrganization(context.Background(), "org-a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get organization")
	assert.NotErrorIs(t, err, storage.ErrNotFound)
}
