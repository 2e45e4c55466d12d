package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/calltrackerpro/calltracker/pkg/apperr"
	"github.com/calltrackerpro/calltracker/pkg/auth"
	"github.com/calltrackerpro/calltracker/pkg/observability"
	"github.com/calltrackerpro/calltracker/pkg/orgs"
	"github.com/calltrackerpro/calltracker/pkg/records"
	"github.com/calltrackerpro/calltracker/pkg/storage"
	"github.com/lib/pq"
)

// Store is the PostgreSQL backend. It implements the same consumer interfaces
// as the in-memory store.
type Store struct {
	conns   *ConnectionManager
	metrics *observability.Metrics
}

// New creates a store over an open connection manager
func New(conns *ConnectionManager, metrics *observability.Metrics) *Store {
	return &Store{conns: conns, metrics: metrics}
}

// Open connects using cfg and, when configured, applies the schema
func Open(ctx context.Context, cfg storage.Config, logger *observability.Logger, metrics *observability.Metrics) (*Store, error) {
	conns, err := Connect(ctx, ConnectionConfigFrom(cfg), logger)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := Migrate(ctx, conns.Primary()); err != nil {
			conns.Close()
			return nil, err
		}
	}
	return New(conns, metrics), nil
}

// Connections exposes the pools for health checks
func (s *Store) Connections() *ConnectionManager {
	return s.conns
}

func (s *Store) PingContext(ctx context.Context) error {
	return s.conns.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.conns.Close()
}

// fail maps err and counts unexpected driver errors against op
func (s *Store) fail(op string, err error) error {
	mapped := mapError(err)
	if !errors.Is(mapped, storage.ErrNotFound) && !errors.Is(mapped, storage.ErrConflict) {
		s.metrics.StorageError(op)
		return fmt.Errorf("%s: %w", op, mapped)
	}
	return mapped
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Principals

const principalColumns = `id, organization_id, email, first_name, last_name, password_hash,
	role, permissions, team_id, is_active, created_at, updated_at, last_login_at`

func scanPrincipal(row rowScanner) (*auth.Principal, error) {
	var (
		p         auth.Principal
		orgID     sql.NullString
		teamID    sql.NullString
		role      string
		perms     pq.StringArray
		lastLogin sql.NullTime
	)
	err := row.Scan(&p.ID, &orgID, &p.Email, &p.FirstName, &p.LastName, &p.PasswordHash,
		&role, &perms, &teamID, &p.IsActive, &p.CreatedAt, &p.UpdatedAt, &lastLogin)
	if err != nil {
		return nil, err
	}
	p.OrganizationID = orgID.String
	p.TeamID = teamID.String
	p.Role = auth.Role(role)
	p.Permissions = make([]auth.Permission, len(perms))
	for i, perm := range perms {
		p.Permissions[i] = auth.Permission(perm)
	}
	p.LastLoginAt = timePtr(lastLogin)
	return &p, nil
}

func permissionArray(perms []auth.Permission) pq.StringArray {
	out := make(pq.StringArray, len(perms))
	for i, perm := range perms {
		out[i] = string(perm)
	}
	return out
}

func insertPrincipal(ctx context.Context, db execer, p *auth.Principal) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO principals (`+principalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, nullString(p.OrganizationID), p.Email, p.FirstName, p.LastName, p.PasswordHash,
		string(p.Role), permissionArray(p.Permissions), nullString(p.TeamID), p.IsActive,
		p.CreatedAt, p.UpdatedAt, nullTime(p.LastLoginAt),
	)
	if err != nil {
		return err
	}
	return upsertMemberships(ctx, db, p.ID, p.Teams)
}

// upsertMemberships writes the principal side of team_members
func upsertMemberships(ctx context.Context, db execer, principalID string, teams []auth.TeamMembership) error {
	for _, m := range teams {
		_, err := db.ExecContext(ctx, `
			INSERT INTO team_members (team_id, principal_id, role, is_active, joined_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (team_id, principal_id) DO UPDATE SET role = EXCLUDED.role, is_active = EXCLUDED.is_active`,
			m.TeamID, principalID, string(m.Role), m.IsActive, m.JoinedAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreatePrincipal(ctx context.Context, p *auth.Principal) error {
	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return s.fail("create principal", err)
	}
	defer tx.Rollback()

	if err := insertPrincipal(ctx, tx, p); err != nil {
		return s.fail("create principal", err)
	}
	if err := tx.Commit(); err != nil {
		return s.fail("create principal", err)
	}
	return nil
}

// UpdatePrincipal replaces a stored principal. The organization of a non super
// admin cannot change.
func (s *Store) UpdatePrincipal(ctx context.Context, p *auth.Principal) error {
	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return s.fail("update principal", err)
	}
	defer tx.Rollback()

	var (
		role  string
		orgID sql.NullString
	)
	err = tx.QueryRowContext(ctx,
		`SELECT role, organization_id FROM principals WHERE id = $1 FOR UPDATE`, p.ID,
	).Scan(&role, &orgID)
	if err != nil {
		return s.fail("update principal", err)
	}
	if auth.Role(role) != auth.RoleSuperAdmin && orgID.String != p.OrganizationID {
		return apperr.Invalid("organizationId", "a principal cannot move between organizations")
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE principals SET organization_id = $2, email = $3, first_name = $4, last_name = $5,
			password_hash = $6, role = $7, permissions = $8, team_id = $9, is_active = $10,
			updated_at = $11, last_login_at = $12
		WHERE id = $1`,
		p.ID, nullString(p.OrganizationID), p.Email, p.FirstName, p.LastName, p.PasswordHash,
		string(p.Role), permissionArray(p.Permissions), nullString(p.TeamID), p.IsActive,
		p.UpdatedAt, nullTime(p.LastLoginAt),
	)
	if err != nil {
		return s.fail("update principal", err)
	}
	if err := upsertMemberships(ctx, tx, p.ID, p.Teams); err != nil {
		return s.fail("update principal", err)
	}
	if err := tx.Commit(); err != nil {
		return s.fail("update principal", err)
	}
	return nil
}

func (s *Store) GetPrincipal(ctx context.Context, id string) (*auth.Principal, error) {
	return s.loadPrincipal(ctx, "get principal",
		`SELECT `+principalColumns+` FROM principals WHERE id = $1`, id)
}

// GetPrincipalByEmail returns the active principal holding email
func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (*auth.Principal, error) {
	return s.loadPrincipal(ctx, "get principal by email",
		`SELECT `+principalColumns+` FROM principals WHERE email = $1 AND is_active`, auth.NormalizeEmail(email))
}

func (s *Store) loadPrincipal(ctx context.Context, op, query string, arg interface{}) (*auth.Principal, error) {
	db := s.conns.Primary()
	p, err := scanPrincipal(db.QueryRowContext(ctx, query, arg))
	if err != nil {
		return nil, s.fail(op, err)
	}
	if p.Teams, err = s.memberships(ctx, db, p.ID); err != nil {
		return nil, s.fail(op, err)
	}
	return p, nil
}

func (s *Store) memberships(ctx context.Context, db execer, principalID string) ([]auth.TeamMembership, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT team_id, role, is_active, joined_at FROM team_members
		WHERE principal_id = $1 ORDER BY joined_at, team_id`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []auth.TeamMembership
	for rows.Next() {
		var (
			m    auth.TeamMembership
			role string
		)
		if err := rows.Scan(&m.TeamID, &role, &m.IsActive, &m.JoinedAt); err != nil {
			return nil, err
		}
		m.Role = auth.TeamRole(role)
		teams = append(teams, m)
	}
	return teams, rows.Err()
}

// ListPrincipals returns the principals of an organization ordered by email.
// Memberships are not loaded.
func (s *Store) ListPrincipals(ctx context.Context, organizationID string) ([]*auth.Principal, error) {
	rows, err := s.conns.Replica().QueryContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE organization_id = $1 ORDER BY email`, organizationID)
	if err != nil {
		return nil, s.fail("list principals", err)
	}
	defer rows.Close()

	var out []*auth.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, s.fail("list principals", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("list principals", err)
	}
	return out, nil
}

// Organizations

const organizationColumns = `id, name, plan, subscription_status, user_limit, call_limit,
	contact_limit, team_limit, is_active, trial_ends_at, created_at, updated_at`

func (s *Store) CreateOrganization(ctx context.Context, org *orgs.Organization) error {
	_, err := s.conns.Primary().ExecContext(ctx, `
		INSERT INTO organizations (`+organizationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		org.ID, org.Name, string(org.Plan), string(org.SubscriptionStatus),
		org.Limits.Users, org.Limits.Calls, org.Limits.Contacts, org.Limits.Teams,
		org.IsActive, nullTime(org.TrialEndsAt), org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		return s.fail("create organization", err)
	}
	return nil
}

func (s *Store) UpdateOrganization(ctx context.Context, org *orgs.Organization) error {
	res, err := s.conns.Primary().ExecContext(ctx, `
		UPDATE organizations SET name = $2, plan = $3, subscription_status = $4, user_limit = $5,
			call_limit = $6, contact_limit = $7, team_limit = $8, is_active = $9,
			trial_ends_at = $10, updated_at = $11
		WHERE id = $1`,
		org.ID, org.Name, string(org.Plan), string(org.SubscriptionStatus),
		org.Limits.Users, org.Limits.Calls, org.Limits.Contacts, org.Limits.Teams,
		org.IsActive, nullTime(org.TrialEndsAt), org.UpdatedAt,
	)
	if err != nil {
		return s.fail("update organization", err)
	}
	return requireRow(res)
}

func (s *Store) GetOrganization(ctx context.Context, id string) (*orgs.Organization, error) {
	var (
		org    orgs.Organization
		plan   string
		status string
		trial  sql.NullTime
	)
	err := s.conns.Primary().QueryRowContext(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE id = $1`, id,
	).Scan(&org.ID, &org.Name, &plan, &status,
		&org.Limits.Users, &org.Limits.Calls, &org.Limits.Contacts, &org.Limits.Teams,
		&org.IsActive, &trial, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, s.fail("get organization", err)
	}
	org.Plan = orgs.Plan(plan)
	org.SubscriptionStatus = orgs.SubscriptionStatus(status)
	org.TrialEndsAt = timePtr(trial)
	return &org, nil
}

// Teams

func (s *Store) CreateTeam(ctx context.Context, team *orgs.Team) error {
	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return s.fail("create team", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO teams (id, organization_id, name, description, manager_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		team.ID, team.OrganizationID, team.Name, team.Description, nullString(team.ManagerID),
		team.IsActive, team.CreatedAt, team.UpdatedAt,
	)
	if err != nil {
		return s.fail("create team", err)
	}
	if err := upsertMembers(ctx, tx, team.ID, team.Members); err != nil {
		return s.fail("create team", err)
	}
	if err := tx.Commit(); err != nil {
		return s.fail("create team", err)
	}
	return nil
}

func (s *Store) UpdateTeam(ctx context.Context, team *orgs.Team) error {
	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return s.fail("update team", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE teams SET name = $3, description = $4, manager_id = $5, is_active = $6, updated_at = $7
		WHERE id = $1 AND organization_id = $2`,
		team.ID, team.OrganizationID, team.Name, team.Description, nullString(team.ManagerID),
		team.IsActive, team.UpdatedAt,
	)
	if err != nil {
		return s.fail("update team", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	if err := upsertMembers(ctx, tx, team.ID, team.Members); err != nil {
		return s.fail("update team", err)
	}
	if err := tx.Commit(); err != nil {
		return s.fail("update team", err)
	}
	return nil
}

// upsertMembers writes the team side of team_members
func upsertMembers(ctx context.Context, db execer, teamID string, members []orgs.TeamMember) error {
	for _, m := range members {
		_, err := db.ExecContext(ctx, `
			INSERT INTO team_members (team_id, principal_id, role, is_active, joined_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (team_id, principal_id) DO UPDATE SET role = EXCLUDED.role, is_active = EXCLUDED.is_active`,
			teamID, m.PrincipalID, string(m.Role), m.IsActive, m.JoinedAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetTeam(ctx context.Context, id string) (*orgs.Team, error) {
	db := s.conns.Primary()

	var (
		team    orgs.Team
		manager sql.NullString
	)
	err := db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, description, manager_id, is_active, created_at, updated_at
		FROM teams WHERE id = $1`, id,
	).Scan(&team.ID, &team.OrganizationID, &team.Name, &team.Description, &manager,
		&team.IsActive, &team.CreatedAt, &team.UpdatedAt)
	if err != nil {
		return nil, s.fail("get team", err)
	}
	team.ManagerID = manager.String

	rows, err := db.QueryContext(ctx, `
		SELECT principal_id, role, is_active, joined_at FROM team_members
		WHERE team_id = $1 ORDER BY joined_at, principal_id`, id)
	if err != nil {
		return nil, s.fail("get team", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			m    orgs.TeamMember
			role string
		)
		if err := rows.Scan(&m.PrincipalID, &role, &m.IsActive, &m.JoinedAt); err != nil {
			return nil, s.fail("get team", err)
		}
		m.Role = auth.TeamRole(role)
		team.Members = append(team.Members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("get team", err)
	}
	return &team, nil
}

// ListManagedTeamIDs implements scope.TeamLister
func (s *Store) ListManagedTeamIDs(ctx context.Context, organizationID, managerID string) ([]string, error) {
	rows, err := s.conns.Replica().QueryContext(ctx, `
		SELECT id FROM teams WHERE organization_id = $1 AND manager_id = $2 AND is_active ORDER BY id`,
		organizationID, managerID)
	if err != nil {
		return nil, s.fail("list managed teams", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, s.fail("list managed teams", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("list managed teams", err)
	}
	return ids, nil
}

// Usage

var usageQueries = map[orgs.ResourceClass]string{
	orgs.ResourceUsers:    `SELECT COUNT(*) FROM principals WHERE organization_id = $1 AND is_active`,
	orgs.ResourceTeams:    `SELECT COUNT(*) FROM teams WHERE organization_id = $1 AND is_active`,
	orgs.ResourceContacts: `SELECT COUNT(*) FROM records WHERE organization_id = $1 AND kind = 'contact' AND is_active`,
	// Deleted calls still count against the monthly allowance
	orgs.ResourceCalls: `SELECT COUNT(*) FROM records WHERE organization_id = $1 AND kind = 'call_log' AND created_at >= $2`,
}

// CountActive implements orgs.UsageCounter
func (s *Store) CountActive(ctx context.Context, organizationID string, class orgs.ResourceClass, since time.Time) (int64, error) {
	query, ok := usageQueries[class]
	if !ok {
		return 0, nil
	}
	args := []interface{}{organizationID}
	if class == orgs.ResourceCalls {
		args = append(args, since)
	}

	var n int64
	if err := s.conns.Primary().QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, s.fail("count usage", err)
	}
	return n, nil
}

// Helpers

// nullString stores empty strings as NULL
func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

var _ records.Store = (*Store)(nil)
