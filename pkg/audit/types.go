package audit

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/calltrackerpro/calltracker/pkg/contextkeys"
	"github.com/google/uuid"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAuthFailed EventType = "auth.authentication_failed"

	// Authorization events
	EventTypeAuthzAccessDenied      EventType = "authz.access_denied"
	EventTypeAuthzCrossTenantDenied EventType = "authz.cross_tenant_denied"
	EventTypeAuthzRoleChange        EventType = "authz.role_change"

	// Subscription events
	EventTypeLimitExceeded EventType = "limit.exceeded"

	// Invitation events
	EventTypeInvitationCreated  EventType = "invitation.created"
	EventTypeInvitationAccepted EventType = "invitation.accepted"
	EventTypeInvitationDeclined EventType = "invitation.declined"
	EventTypeInvitationRevoked  EventType = "invitation.revoked"
	EventTypeInvitationResent   EventType = "invitation.resent"
	EventTypeInvitationExtended EventType = "invitation.extended"
	EventTypeInvitationExpired  EventType = "invitation.expired"

	// Data mutation events
	EventTypeDataRecordCreate EventType = "data.record_create"
	EventTypeDataRecordUpdate EventType = "data.record_update"
	EventTypeDataRecordDelete EventType = "data.record_delete"
	EventTypeAdminTeamCreate  EventType = "admin.team_create"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being accessed
type ResourceType string

const (
	ResourceTypeUser         ResourceType = "user"
	ResourceTypeOrganization ResourceType = "organization"
	ResourceTypeTeam         ResourceType = "team"
	ResourceTypeInvitation   ResourceType = "invitation"
	ResourceTypeContact      ResourceType = "contact"
	ResourceTypeCallLog      ResourceType = "call_log"
	ResourceTypePermission   ResourceType = "permission"
)

// Event represents a single audit log entry
type Event struct {
	// Core fields
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	ActorID        string `json:"actor_id,omitempty"`
	ActorRole      string `json:"actor_role,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`

	// Resource information
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	// Additional details
	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent creates an event stamped with the request, actor and organization
// IDs found in ctx.
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *Event {
	return &Event{
		ID:             uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		EventType:      eventType,
		Status:         status,
		ActorID:        contextkeys.GetUserID(ctx),
		OrganizationID: contextkeys.GetOrgID(ctx),
		RequestID:      contextkeys.GetRequestID(ctx),
	}
}

// WithRequest copies client and route details from r
func (e *Event) WithRequest(r *http.Request) *Event {
	if r == nil {
		return e
	}
	e.IPAddress = ClientIP(r)
	e.UserAgent = r.UserAgent()
	e.Method = r.Method
	e.Path = r.URL.Path
	return e
}

// WithResource sets the resource the event is about
func (e *Event) WithResource(resourceType ResourceType, id string) *Event {
	e.ResourceType = resourceType
	e.ResourceID = id
	return e
}

// WithMessage sets the human-readable message
func (e *Event) WithMessage(message string) *Event {
	e.Message = message
	return e
}

// WithMetadata adds a metadata key
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ClientIP extracts the client IP from the request. The first X-Forwarded-For
// hop wins, then X-Real-IP, then the connection address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
