package orgs

import (
	"time"

	"github.com/calltrackerpro/calltracker/pkg/apperr"
	"github.com/calltrackerpro/calltracker/pkg/auth"
)

// Plan represents a subscription plan
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanBusiness   Plan = "business"
	PlanEnterprise Plan = "enterprise"
)

// AllPlans lists the subscription plans from smallest to largest
func AllPlans() []Plan {
	return []Plan{PlanFree, PlanPro, PlanBusiness, PlanEnterprise}
}

// Valid reports whether p is a known plan
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanPro, PlanBusiness, PlanEnterprise:
		return true
	default:
		return false
	}
}

// SubscriptionStatus represents the billing state of an organization
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusTrial     SubscriptionStatus = "trial"
	StatusSuspended SubscriptionStatus = "suspended"
	StatusExpired   SubscriptionStatus = "expired"
)

// statusTransitions lists the allowed subscription status changes
var statusTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	StatusTrial:     {StatusActive, StatusExpired},
	StatusActive:    {StatusSuspended},
	StatusSuspended: {StatusActive},
}

// Unlimited is the limit sentinel that always passes
const Unlimited int64 = -1

// Limits holds per-resource caps for an organization
type Limits struct {
	Users    int64 `json:"userLimit" yaml:"users"`
	Calls    int64 `json:"callLimit" yaml:"calls"`
	Contacts int64 `json:"contactLimit" yaml:"contacts"`
	Teams    int64 `json:"teamLimit" yaml:"teams"`
}

// For returns the limit configured for class. Unknown classes are unlimited.
func (l Limits) For(class ResourceClass) int64 {
	switch class {
	case ResourceUsers:
		return l.Users
	case ResourceCalls:
		return l.Calls
	case ResourceContacts:
		return l.Contacts
	case ResourceTeams:
		return l.Teams
	default:
		return Unlimited
	}
}

// Organization is the unit of tenant isolation
type Organization struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Plan               Plan               `json:"plan"`
	SubscriptionStatus SubscriptionStatus `json:"subscriptionStatus"`
	Limits             Limits             `json:"limits"`
	IsActive           bool               `json:"isActive"`
	TrialEndsAt        *time.Time         `json:"trialEndsAt,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// Clone returns a deep copy
func (o *Organization) Clone() *Organization {
	if o == nil {
		return nil
	}
	c := *o
	if o.TrialEndsAt != nil {
		t := *o.TrialEndsAt
		c.TrialEndsAt = &t
	}
	return &c
}

// IsSuspended reports whether the organization is blocked from access
func (o *Organization) IsSuspended() bool {
	return o.SubscriptionStatus == StatusSuspended
}

// TransitionStatus moves the subscription status along an allowed edge
func (o *Organization) TransitionStatus(to SubscriptionStatus) error {
	for _, allowed := range statusTransitions[o.SubscriptionStatus] {
		if allowed == to {
			o.SubscriptionStatus = to
			o.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return apperr.Invalid("subscriptionStatus", "cannot change status from %s to %s", o.SubscriptionStatus, to)
}

// ChangePlan switches the plan and applies the catalog's limits for it
func (o *Organization) ChangePlan(plan Plan, catalog PlanCatalog) error {
	if !plan.Valid() {
		return apperr.Invalid("plan", "unknown plan %q", plan)
	}
	o.Plan = plan
	o.Limits = catalog.LimitsFor(plan)
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Team groups principals within one organization under a manager
type Team struct {
	ID             string       `json:"id"`
	OrganizationID string       `json:"organizationId"`
	Name           string       `json:"name"`
	Description    string       `json:"description,omitempty"`
	ManagerID      string       `json:"managerId,omitempty"`
	Members        []TeamMember `json:"members"`
	IsActive       bool         `json:"isActive"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// TeamMember is one membership record. Removal flips IsActive; records are kept.
type TeamMember struct {
	PrincipalID string        `json:"principalId"`
	Role        auth.TeamRole `json:"role"`
	IsActive    bool          `json:"isActive"`
	JoinedAt    time.Time     `json:"joinedAt"`
}

// AddMember adds principalID or re-activates a removed membership
func (t *Team) AddMember(principalID string, role auth.TeamRole, at time.Time) {
	for i := range t.Members {
		if t.Members[i].PrincipalID == principalID {
			t.Members[i].Role = role
			t.Members[i].IsActive = true
			return
		}
	}
	t.Members = append(t.Members, TeamMember{PrincipalID: principalID, Role: role, IsActive: true, JoinedAt: at})
}

// RemoveMember soft-removes principalID. It reports whether a membership changed.
func (t *Team) RemoveMember(principalID string) bool {
	for i := range t.Members {
		if t.Members[i].PrincipalID == principalID && t.Members[i].IsActive {
			t.Members[i].IsActive = false
			return true
		}
	}
	return false
}

// IsActiveMember reports whether principalID is an active member
func (t *Team) IsActiveMember(principalID string) bool {
	for _, m := range t.Members {
		if m.PrincipalID == principalID && m.IsActive {
			return true
		}
	}
	return false
}

// ActiveMembers returns the active membership records
func (t *Team) ActiveMembers() []TeamMember {
	var active []TeamMember
	for _, m := range t.Members {
		if m.IsActive {
			active = append(active, m)
		}
	}
	return active
}
