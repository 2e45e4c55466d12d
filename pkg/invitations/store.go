package invitations

import (
	"context"
	"time"

	"github.com/calltrackerpro/calltracker/pkg/auth"
	"github.com/calltrackerpro/calltracker/pkg/orgs"
)

// Store persists invitations. Every transition is conditional on the row being
// pending; a row in any other state yields storage.ErrNotFound.
type Store interface {
	// CreateInvitation inserts inv. It returns storage.ErrConflict when a pending
	// invitation exists for (organization, email) or the token is taken.
	CreateInvitation(ctx context.Context, inv *Invitation) error

	GetInvitation(ctx context.Context, id string) (*Invitation, error)
	GetInvitationByToken(ctx context.Context, token string) (*Invitation, error)

	// FindPendingInvitation returns the pending row for (organization, email),
	// regardless of expiry.
	FindPendingInvitation(ctx context.Context, organizationID, email string) (*Invitation, error)

	ListInvitations(ctx context.Context, q StoreQuery) ([]*Invitation, int, error)

	// CountInvitationsByStatus groups an organization's invitations by effective
	// status at now.
	CountInvitationsByStatus(ctx context.Context, organizationID string, now time.Time) (map[Status]int, error)

	// ListDueReminders returns usable invitations whose next reminder is due
	ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*Invitation, error)

	// AcceptInvitation atomically moves a usable invitation to accepted and
	// creates p with its team membership. It returns storage.ErrNotFound when the
	// token is not usable at now and storage.ErrConflict when an active principal
	// already holds the email.
	AcceptInvitation(ctx context.Context, token string, now time.Time, p *auth.Principal) (*Invitation, error)

	DeclineInvitation(ctx context.Context, token string, now time.Time) (*Invitation, error)
	RevokeInvitation(ctx context.Context, id, revokedBy string, now time.Time) (*Invitation, error)

	// ExtendInvitation sets a new expiry on an invitation that is usable at now
	ExtendInvitation(ctx context.Context, id string, now, expiresAt time.Time) (*Invitation, error)

	// RecordReminder increments the reminder count of a usable invitation below
	// MaxReminders and sets its next reminder, which may be nil.
	RecordReminder(ctx context.Context, id string, now time.Time, next *time.Time) (*Invitation, error)

	// ExpireInvitation marks one stale pending invitation expired
	ExpireInvitation(ctx context.Context, id string, now time.Time) error

	// ExpireInvitations marks every stale pending invitation expired
	ExpireInvitations(ctx context.Context, now time.Time) (int, error)

	Directory
}

// Directory is the read side of principals, organizations and teams the
// lifecycle needs.
type Directory interface {
	GetPrincipal(ctx context.Context, id string) (*auth.Principal, error)
	// GetPrincipalByEmail returns the active principal holding email
	GetPrincipalByEmail(ctx context.Context, email string) (*auth.Principal, error)
	GetOrganization(ctx context.Context, id string) (*orgs.Organization, error)
	GetTeam(ctx context.Context, id string) (*orgs.Team, error)
}
