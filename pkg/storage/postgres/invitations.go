package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/calltrackerpro/calltracker/pkg/auth"
	"github.com/calltrackerpro/calltracker/pkg/invitations"
	"github.com/calltrackerpro/calltracker/pkg/storage"
	"github.com/lib/pq"
)

const invitationColumns = `id, organization_id, email, role, permissions, team_id, team_role, token,
	status, invited_by, message, created_at, expires_at, accepted_at, accepted_by, declined_at,
	revoked_at, revoked_by, reminder_count, next_reminder_at, last_reminder_at`

func scanInvitation(row rowScanner) (*invitations.Invitation, error) {
	var (
		inv                                     invitations.Invitation
		role, status                            string
		perms                                   pq.StringArray
		teamID, teamRole, acceptedBy, revokedBy sql.NullString
		acceptedAt, declinedAt, revokedAt       sql.NullTime
		nextReminder, lastReminder              sql.NullTime
	)
	err := row.Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &role, &perms, &teamID, &teamRole, &inv.Token,
		&status, &inv.InvitedBy, &inv.Message, &inv.CreatedAt, &inv.ExpiresAt, &acceptedAt, &acceptedBy,
		&declinedAt, &revokedAt, &revokedBy, &inv.ReminderCount, &nextReminder, &lastReminder)
	if err != nil {
		return nil, err
	}
	inv.Role = auth.Role(role)
	inv.Status = invitations.Status(status)
	if len(perms) > 0 {
		inv.Permissions = make([]auth.Permission, len(perms))
		for i, p := range perms {
			inv.Permissions[i] = auth.Permission(p)
		}
	}
	inv.TeamID = teamID.String
	inv.TeamRole = auth.TeamRole(teamRole.String)
	inv.AcceptedBy = acceptedBy.String
	inv.RevokedBy = revokedBy.String
	inv.AcceptedAt = timePtr(acceptedAt)
	inv.DeclinedAt = timePtr(declinedAt)
	inv.RevokedAt = timePtr(revokedAt)
	inv.NextReminderAt = timePtr(nextReminder)
	inv.LastReminderAt = timePtr(lastReminder)
	return &inv, nil
}

func (s *Store) queryInvitations(ctx context.Context, db execer, op, query string, args ...interface{}) ([]*invitations.Invitation, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail(op, err)
	}
	defer rows.Close()

	out := []*invitations.Invitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, s.fail(op, err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(op, err)
	}
	return out, nil
}

func (s *Store) getInvitation(ctx context.Context, op, query string, args ...interface{}) (*invitations.Invitation, error) {
	inv, err := scanInvitation(s.conns.Primary().QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, s.fail(op, err)
	}
	return inv, nil
}

// CreateInvitation relies on the partial unique index over pending
// (organization, email) and the token unique constraint.
func (s *Store) CreateInvitation(ctx context.Context, inv *invitations.Invitation) error {
	_, err := s.conns.Primary().ExecContext(ctx, `
		INSERT INTO invitations (`+invitationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		inv.ID, inv.OrganizationID, inv.Email, string(inv.Role), permissionArray(inv.Permissions),
		nullString(inv.TeamID), nullString(string(inv.TeamRole)), inv.Token, string(inv.Status),
		inv.InvitedBy, inv.Message, inv.CreatedAt, inv.ExpiresAt, nullTime(inv.AcceptedAt),
		nullString(inv.AcceptedBy), nullTime(inv.DeclinedAt), nullTime(inv.RevokedAt),
		nullString(inv.RevokedBy), inv.ReminderCount, nullTime(inv.NextReminderAt), nullTime(inv.LastReminderAt),
	)
	if err != nil {
		return s.fail("create invitation", err)
	}
	return nil
}

func (s *Store) GetInvitation(ctx context.Context, id string) (*invitations.Invitation, error) {
	return s.getInvitation(ctx, "get invitation",
		`SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id)
}

func (s *Store) GetInvitationByToken(ctx context.Context, token string) (*invitations.Invitation, error) {
	return s.getInvitation(ctx, "get invitation by token",
		`SELECT `+invitationColumns+` FROM invitations WHERE token = $1`, token)
}

func (s *Store) FindPendingInvitation(ctx context.Context, organizationID, email string) (*invitations.Invitation, error) {
	return s.getInvitation(ctx, "find pending invitation",
		`SELECT `+invitationColumns+` FROM invitations
		WHERE organization_id = $1 AND email = $2 AND status = 'pending'`, organizationID, email)
}

// effectiveStatusExpr folds stale pending rows into expired. $2 is now.
const effectiveStatusExpr = `CASE WHEN status = 'pending' AND expires_at <= $2 THEN 'expired' ELSE status END`

// ListInvitations returns invitations newest first, filtered by effective status
func (s *Store) ListInvitations(ctx context.Context, q invitations.StoreQuery) ([]*invitations.Invitation, int, error) {
	db := s.conns.Replica()
	where := `organization_id = $1 AND ($3 = '' OR ` + effectiveStatusExpr + ` = $3)`
	args := []interface{}{q.OrganizationID, q.Now, string(q.Status)}

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invitations WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, s.fail("count invitations", err)
	}

	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE ` + where +
		` ORDER BY created_at DESC, id OFFSET $4`
	args = append(args, q.Offset)
	if q.Limit > 0 {
		query += ` LIMIT $5`
		args = append(args, q.Limit)
	}

	out, err := s.queryInvitations(ctx, db, "list invitations", query, args...)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) CountInvitationsByStatus(ctx context.Context, organizationID string, now time.Time) (map[invitations.Status]int, error) {
	rows, err := s.conns.Replica().QueryContext(ctx, `
		SELECT `+effectiveStatusExpr+` AS effective, COUNT(*)
		FROM invitations WHERE organization_id = $1 GROUP BY effective`,
		organizationID, now)
	if err != nil {
		return nil, s.fail("count invitations by status", err)
	}
	defer rows.Close()

	counts := make(map[invitations.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, s.fail("count invitations by status", err)
		}
		counts[invitations.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("count invitations by status", err)
	}
	return counts, nil
}

func (s *Store) ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*invitations.Invitation, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryInvitations(ctx, s.conns.Primary(), "list due reminders", `
		SELECT `+invitationColumns+` FROM invitations
		WHERE status = 'pending' AND expires_at > $1 AND reminder_count < $2
			AND next_reminder_at IS NOT NULL AND next_reminder_at <= $1
		ORDER BY next_reminder_at LIMIT $3`,
		now, invitations.MaxReminders, limit)
}

// AcceptInvitation consumes the token and creates p in one transaction. The
// conditional update takes the row lock, so concurrent accepts of the same
// token serialize and only the first sees a pending row.
func (s *Store) AcceptInvitation(ctx context.Context, token string, now time.Time, p *auth.Principal) (*invitations.Invitation, error) {
	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return nil, s.fail("accept invitation", err)
	}
	defer tx.Rollback()

	inv, err := scanInvitation(tx.QueryRowContext(ctx, `
		UPDATE invitations
		SET status = 'accepted', accepted_at = $2, accepted_by = $3, next_reminder_at = NULL
		WHERE token = $1 AND status = 'pending' AND expires_at > $2
		RETURNING `+invitationColumns,
		token, now, p.ID))
	if err != nil {
		return nil, s.fail("accept invitation", err)
	}

	var taken bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM principals WHERE email = $1 AND is_active)`, p.Email,
	).Scan(&taken)
	if err != nil {
		return nil, s.fail("accept invitation", err)
	}
	if taken {
		return nil, storage.ErrConflict
	}

	if err := insertPrincipal(ctx, tx, p); err != nil {
		return nil, s.fail("accept invitation", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, s.fail("accept invitation", err)
	}
	return inv, nil
}

func (s *Store) DeclineInvitation(ctx context.Context, token string, now time.Time) (*invitations.Invitation, error) {
	return s.getInvitation(ctx, "decline invitation", `
		UPDATE invitations SET status = 'declined', declined_at = $2, next_reminder_at = NULL
		WHERE token = $1 AND status = 'pending' AND expires_at > $2
		RETURNING `+invitationColumns, token, now)
}

func (s *Store) RevokeInvitation(ctx context.Context, id, revokedBy string, now time.Time) (*invitations.Invitation, error) {
	return s.getInvitation(ctx, "revoke invitation", `
		UPDATE invitations SET status = 'revoked', revoked_at = $2, revoked_by = $3, next_reminder_at = NULL
		WHERE id = $1 AND status = 'pending' AND expires_at > $2
		RETURNING `+invitationColumns, id, now, revokedBy)
}

func (s *Store) ExtendInvitation(ctx context.Context, id string, now, expiresAt time.Time) (*invitations.Invitation, error) {
	return s.getInvitation(ctx, "extend invitation", `
		UPDATE invitations SET expires_at = $3
		WHERE id = $1 AND status = 'pending' AND expires_at > $2
		RETURNING `+invitationColumns, id, now, expiresAt)
}

func (s *Store) RecordReminder(ctx context.Context, id string, now time.Time, next *time.Time) (*invitations.Invitation, error) {
	return s.getInvitation(ctx, "record reminder", `
		UPDATE invitations
		SET reminder_count = reminder_count + 1, last_reminder_at = $2, next_reminder_at = $3
		WHERE id = $1 AND status = 'pending' AND expires_at > $2 AND reminder_count < $4
		RETURNING `+invitationColumns, id, now, nullTime(next), invitations.MaxReminders)
}

func (s *Store) ExpireInvitation(ctx context.Context, id string, now time.Time) error {
	res, err := s.conns.Primary().ExecContext(ctx, `
		UPDATE invitations SET status = 'expired', next_reminder_at = NULL
		WHERE id = $1 AND status = 'pending' AND expires_at <= $2`, id, now)
	if err != nil {
		return s.fail("expire invitation", err)
	}
	return requireRow(res)
}

func (s *Store) ExpireInvitations(ctx context.Context, now time.Time) (int, error) {
	res, err := s.conns.Primary().ExecContext(ctx, `
		UPDATE invitations SET status = 'expired', next_reminder_at = NULL
		WHERE status = 'pending' AND expires_at <= $1`, now)
	if err != nil {
		return 0, s.fail("expire invitations", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.fail("expire invitations", err)
	}
	return int(n), nil
}

var _ invitations.Store = (*Store)(nil)
