package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order inside one transaction. Every statement is
// idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id                  TEXT PRIMARY KEY,
		name                TEXT NOT NULL,
		plan                TEXT NOT NULL DEFAULT 'free',
		subscription_status TEXT NOT NULL DEFAULT 'trial',
		user_limit          BIGINT NOT NULL DEFAULT 0,
		call_limit          BIGINT NOT NULL DEFAULT 0,
		contact_limit       BIGINT NOT NULL DEFAULT 0,
		team_limit          BIGINT NOT NULL DEFAULT 0,
		is_active           BOOLEAN NOT NULL DEFAULT TRUE,
		trial_ends_at       TIMESTAMPTZ,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS principals (
		id              TEXT PRIMARY KEY,
		organization_id TEXT REFERENCES organizations(id),
		email           TEXT NOT NULL,
		first_name      TEXT NOT NULL DEFAULT '',
		last_name       TEXT NOT NULL DEFAULT '',
		password_hash   TEXT NOT NULL DEFAULT '',
		role            TEXT NOT NULL,
		permissions     TEXT[] NOT NULL DEFAULT '{}',
		team_id         TEXT,
		is_active       BOOLEAN NOT NULL DEFAULT TRUE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_login_at   TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS principals_active_email_key
		ON principals (email) WHERE is_active`,
	`CREATE INDEX IF NOT EXISTS principals_organization_idx ON principals (organization_id)`,
	`CREATE TABLE IF NOT EXISTS teams (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		name            TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		manager_id      TEXT,
		is_active       BOOLEAN NOT NULL DEFAULT TRUE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS teams_active_name_key
		ON teams (organization_id, name) WHERE is_active`,
	`CREATE TABLE IF NOT EXISTS team_members (
		team_id      TEXT NOT NULL REFERENCES teams(id),
		principal_id TEXT NOT NULL REFERENCES principals(id),
		role         TEXT NOT NULL DEFAULT 'member',
		is_active    BOOLEAN NOT NULL DEFAULT TRUE,
		joined_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (team_id, principal_id)
	)`,
	`CREATE INDEX IF NOT EXISTS team_members_principal_idx ON team_members (principal_id)`,
	`CREATE TABLE IF NOT EXISTS invitations (
		id               TEXT PRIMARY KEY,
		organization_id  TEXT NOT NULL REFERENCES organizations(id),
		email            TEXT NOT NULL,
		role             TEXT NOT NULL,
		permissions      TEXT[] NOT NULL DEFAULT '{}',
		team_id          TEXT,
		team_role        TEXT,
		token            TEXT NOT NULL UNIQUE,
		status           TEXT NOT NULL DEFAULT 'pending',
		invited_by       TEXT NOT NULL,
		message          TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at       TIMESTAMPTZ NOT NULL,
		accepted_at      TIMESTAMPTZ,
		accepted_by      TEXT,
		declined_at      TIMESTAMPTZ,
		revoked_at       TIMESTAMPTZ,
		revoked_by       TEXT,
		reminder_count   INTEGER NOT NULL DEFAULT 0,
		next_reminder_at TIMESTAMPTZ,
		last_reminder_at TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS invitations_pending_email_key
		ON invitations (organization_id, email) WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS invitations_organization_idx ON invitations (organization_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS invitations_reminder_idx
		ON invitations (next_reminder_at) WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS records (
		id              TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		kind            TEXT NOT NULL,
		assigned_to     TEXT,
		created_by      TEXT,
		owner_id        TEXT,
		team_id         TEXT,
		data            JSONB NOT NULL DEFAULT '{}',
		is_active       BOOLEAN NOT NULL DEFAULT TRUE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS records_scope_idx ON records (organization_id, kind, is_active, created_at DESC)`,
}

// Migrate creates the schema
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start migration: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range migrations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}
