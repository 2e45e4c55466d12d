package invitations

import (
	"time"

	"github.com/calltrackerpro/calltracker/pkg/auth"
)

// Status is the lifecycle state of an invitation
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
	StatusExpired  Status = "expired"
	StatusRevoked  Status = "revoked"
)

// AllStatuses lists every invitation status
func AllStatuses() []Status {
	return []Status{StatusPending, StatusAccepted, StatusDeclined, StatusExpired, StatusRevoked}
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusDeclined, StatusExpired, StatusRevoked:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible from s
func (s Status) Terminal() bool {
	return s.Valid() && s != StatusPending
}

// Lifecycle constants
const (
	DefaultExpiry    = 7 * 24 * time.Hour
	ReminderInterval = 2 * 24 * time.Hour
	MaxReminders     = 3
	MaxBulkSize      = 50
	MinExtendDays    = 1
	MaxExtendDays    = 30
	DefaultPageSize  = 20
	MaxPageSize      = 100
	maxTokenAttempts = 5
)

// Invitation is a time-limited, token-addressed offer for an email address to
// join an organization with a role.
type Invitation struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organizationId"`
	Email          string            `json:"email"`
	Role           auth.Role         `json:"role"`
	Permissions    []auth.Permission `json:"permissions,omitempty"`
	TeamID         string            `json:"teamId,omitempty"`
	TeamRole       auth.TeamRole     `json:"teamRole,omitempty"`
	Token          string            `json:"-"`
	Status         Status            `json:"status"`
	InvitedBy      string            `json:"invitedBy"`
	Message        string            `json:"message,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	AcceptedAt *time.Time `json:"acceptedAt,omitempty"`
	AcceptedBy string     `json:"acceptedBy,omitempty"`
	DeclinedAt *time.Time `json:"declinedAt,omitempty"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
	RevokedBy  string     `json:"revokedBy,omitempty"`

	ReminderCount  int        `json:"reminderCount"`
	NextReminderAt *time.Time `json:"nextReminderAt,omitempty"`
	LastReminderAt *time.Time `json:"lastReminderAt,omitempty"`
}

// IsExpired reports whether the invitation is past its expiry at now
func (i *Invitation) IsExpired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// EffectiveStatus reports expired for a pending invitation past its expiry
func (i *Invitation) EffectiveStatus(now time.Time) Status {
	if i.Status == StatusPending && i.IsExpired(now) {
		return StatusExpired
	}
	return i.Status
}

// IsUsable reports whether the invitation can still be accepted or declined
func (i *Invitation) IsUsable(now time.Time) bool {
	return i.Status == StatusPending && !i.IsExpired(now)
}

// ReminderDue reports whether a reminder should be sent at now
func (i *Invitation) ReminderDue(now time.Time) bool {
	return i.IsUsable(now) &&
		i.ReminderCount < MaxReminders &&
		i.NextReminderAt != nil &&
		!now.Before(*i.NextReminderAt)
}

// Clone returns a deep copy
func (i *Invitation) Clone() *Invitation {
	c := *i
	c.Permissions = append([]auth.Permission(nil), i.Permissions...)
	c.AcceptedAt = cloneTime(i.AcceptedAt)
	c.DeclinedAt = cloneTime(i.DeclinedAt)
	c.RevokedAt = cloneTime(i.RevokedAt)
	c.NextReminderAt = cloneTime(i.NextReminderAt)
	c.LastReminderAt = cloneTime(i.LastReminderAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CreateRequest is the input to Create and BulkCreate
type CreateRequest struct {
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	TeamID      string   `json:"teamId,omitempty"`
	TeamRole    string   `json:"teamRole,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Message     string   `json:"message,omitempty"`
}

// AcceptRequest carries the profile of the principal created on accept
type AcceptRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Password  string `json:"password"`
}

// AcceptResult is returned by a successful Accept
type AcceptResult struct {
	Principal    *auth.Principal `json:"user"`
	SessionToken string          `json:"token"`
}

// Details is the public view of a usable invitation
type Details struct {
	Email            string    `json:"email"`
	Role             auth.Role `json:"role"`
	OrganizationID   string    `json:"organizationId"`
	OrganizationName string    `json:"organizationName"`
	InviterName      string    `json:"invitedBy"`
	TeamID           string    `json:"teamId,omitempty"`
	TeamName         string    `json:"teamName,omitempty"`
	Message          string    `json:"message,omitempty"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

// ListOptions filters and paginates List
type ListOptions struct {
	Status Status
	Page   int
	Limit  int
}

// normalized clamps pagination to its bounds
func (o ListOptions) normalized() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit < 1 {
		o.Limit = DefaultPageSize
	}
	if o.Limit > MaxPageSize {
		o.Limit = MaxPageSize
	}
	return o
}

// StoreQuery is the store-level filter for listing invitations. Status is
// matched against the effective status at Now.
type StoreQuery struct {
	OrganizationID string
	Status         Status
	Now            time.Time
	Offset         int
	Limit          int
}

// ListResult is one page of invitations plus per-status totals
type ListResult struct {
	Invitations []*Invitation  `json:"invitations"`
	Page        int            `json:"page"`
	Limit       int            `json:"limit"`
	Total       int            `json:"total"`
	Pages       int            `json:"pages"`
	Stats       map[Status]int `json:"stats"`
}

// BulkFailure names an entry that could not be invited
type BulkFailure struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// BulkResult partitions the outcome of BulkCreate
type BulkResult struct {
	Successful []*Invitation `json:"successful"`
	Failed     []BulkFailure `json:"failed"`
	Skipped    []BulkFailure `json:"skipped"`
}
