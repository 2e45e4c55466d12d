package webhooks

import (
	"context"
	"time"

	"github.com/calltrackerpro/calltracker/pkg/invitations"
)

// Notifier hands invitation messages to an external mailer over webhooks
type Notifier struct {
	dispatcher *Dispatcher
}

// NewNotifier creates a Notifier on top of d
func NewNotifier(d *Dispatcher) *Notifier {
	return &Notifier{dispatcher: d}
}

var _ invitations.Notifier = (*Notifier)(nil)

func (n *Notifier) InvitationCreated(ctx context.Context, msg invitations.Message) error {
	return n.dispatcher.Dispatch(ctx, NewEvent(EventInvitationCreated, messageData(msg)))
}

func (n *Notifier) InvitationReminder(ctx context.Context, msg invitations.Message) error {
	return n.dispatcher.Dispatch(ctx, NewEvent(EventInvitationReminder, messageData(msg)))
}

// messageData is the payload the mailer renders from. It carries the accept
// URL but never the raw token on its own.
func messageData(msg invitations.Message) map[string]interface{} {
	inv := msg.Invitation
	data := map[string]interface{}{
		"invitationId":     inv.ID,
		"organizationId":   inv.OrganizationID,
		"organizationName": msg.OrganizationName,
		"inviterName":      msg.InviterName,
		"email":            inv.Email,
		"role":             string(inv.Role),
		"acceptUrl":        msg.AcceptURL,
		"expiresAt":        inv.ExpiresAt.UTC().Format(time.RFC3339),
		"reminderCount":    inv.ReminderCount,
	}
	if inv.Message != "" {
		data["message"] = inv.Message
	}
	if inv.TeamID != "" {
		data["teamId"] = inv.TeamID
	}
	return data
}
