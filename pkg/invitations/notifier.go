package invitations

import (
	"context"
	"strings"

	"github.com/calltrackerpro/calltracker/pkg/observability"
)

// Message is what a notifier needs to reach the invitee
type Message struct {
	Invitation       *Invitation
	AcceptURL        string
	OrganizationName string
	InviterName      string
}

// Notifier delivers invitation emails. Calls run in the background; errors are
// logged and never surface to the caller of the lifecycle operation.
type Notifier interface {
	InvitationCreated(ctx context.Context, msg Message) error
	InvitationReminder(ctx context.Context, msg Message) error
}

// LogNotifier writes notifications to the context logger instead of sending them
type LogNotifier struct{}

func (LogNotifier) InvitationCreated(ctx context.Context, msg Message) error {
	logMessage(ctx, msg).Info("Invitation notification")
	return nil
}

func (LogNotifier) InvitationReminder(ctx context.Context, msg Message) error {
	logMessage(ctx, msg).WithField("reminder_count", msg.Invitation.ReminderCount).Info("Invitation reminder")
	return nil
}

func logMessage(ctx context.Context, msg Message) *observability.Logger {
	return observability.FromContext(ctx).WithFields(map[string]interface{}{
		"invitation_id":   msg.Invitation.ID,
		"organization_id": msg.Invitation.OrganizationID,
		"email":           msg.Invitation.Email,
		"organization":    msg.OrganizationName,
		"inviter":         msg.InviterName,
	})
}

// AcceptURL builds the link embedded in invitation emails
func AcceptURL(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/invite/accept/" + token
}
