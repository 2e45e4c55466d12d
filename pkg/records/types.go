package records

import (
	"time"

	"github.com/calltrackerpro/calltracker/pkg/auth"
	"github.com/calltrackerpro/calltracker/pkg/orgs"
	"github.com/calltrackerpro/calltracker/pkg/scope"
)

// Kind identifies the CRM entity a record represents
type Kind string

const (
	KindContact Kind = "contact"
	KindCallLog Kind = "call_log"
)

// Record field names beyond the scoping fields
const (
	FieldID       = "id"
	FieldKind     = "kind"
	FieldIsActive = "isActive"
)

// Columns maps record fields to SQL columns
var Columns = scope.DefaultColumns.With(map[string]string{
	FieldID:       "id",
	FieldKind:     "kind",
	FieldIsActive: "is_active",
})

// Record is a tenant-owned CRM row. Data carries the entity payload; the
// ownership fields drive data scoping.
type Record struct {
	ID             string                 `json:"id"`
	OrganizationID string                 `json:"organizationId"`
	Kind           Kind                   `json:"kind"`
	AssignedTo     string                 `json:"assignedTo,omitempty"`
	CreatedBy      string                 `json:"createdBy"`
	OwnerID        string                 `json:"ownerId,omitempty"`
	TeamID         string                 `json:"teamId,omitempty"`
	Data           map[string]interface{} `json:"data"`
	IsActive       bool                   `json:"isActive"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}

// Field implements scope.Record
func (r *Record) Field(name string) (interface{}, bool) {
	switch name {
	case FieldID:
		return r.ID, true
	case FieldKind:
		return string(r.Kind), true
	case FieldIsActive:
		return r.IsActive, true
	case scope.FieldOrganizationID:
		return r.OrganizationID, true
	case scope.FieldAssignedTo:
		return r.AssignedTo, true
	case scope.FieldCreatedBy:
		return r.CreatedBy, true
	case scope.FieldOwnerID:
		return r.OwnerID, true
	case scope.FieldTeamID:
		return r.TeamID, true
	default:
		return nil, false
	}
}

// Clone returns a copy with its own Data map
func (r *Record) Clone() *Record {
	c := *r
	if r.Data != nil {
		c.Data = make(map[string]interface{}, len(r.Data))
		for k, v := range r.Data {
			c.Data[k] = v
		}
	}
	return &c
}

// Input is the writable part of a record
type Input struct {
	AssignedTo *string                `json:"assignedTo,omitempty"`
	OwnerID    *string                `json:"ownerId,omitempty"`
	TeamID     *string                `json:"teamId,omitempty"`
	Data       map[string]interface{} `json:"data"`
}

// kindPermissions holds the permission vocabulary of one record kind
type kindPermissions struct {
	resource   orgs.ResourceClass
	viewAll    auth.Permission
	viewTeam   auth.Permission
	viewOwn    auth.Permission
	manageAll  auth.Permission
	manageTeam auth.Permission
	manageOwn  auth.Permission
}

var permissionsByKind = map[Kind]kindPermissions{
	KindContact: {
		resource:   orgs.ResourceContacts,
		viewAll:    auth.PermViewAllContacts,
		viewTeam:   auth.PermViewTeamContacts,
		viewOwn:    auth.PermViewOwnContacts,
		manageAll:  auth.PermManageAllContacts,
		manageTeam: auth.PermManageTeamContacts,
		manageOwn:  auth.PermManageOwnContacts,
	},
	KindCallLog: {
		resource:   orgs.ResourceCalls,
		viewAll:    auth.PermViewAllCallLogs,
		viewTeam:   auth.PermViewTeamCallLogs,
		viewOwn:    auth.PermViewOwnCallLogs,
		manageAll:  auth.PermManageAllCallLogs,
		manageTeam: auth.PermManageTeamCallLogs,
		manageOwn:  auth.PermManageOwnCallLogs,
	},
}

// ViewPermissions returns the permissions that grant read access to kind at
// any scope
func ViewPermissions(kind Kind) []auth.Permission {
	p, ok := permissionsByKind[kind]
	if !ok {
		return nil
	}
	return []auth.Permission{p.viewAll, p.viewTeam, p.viewOwn}
}

// ManagePermissions returns the permissions that grant write access to kind at
// any scope
func ManagePermissions(kind Kind) []auth.Permission {
	p, ok := permissionsByKind[kind]
	if !ok {
		return nil
	}
	return []auth.Permission{p.manageAll, p.manageTeam, p.manageOwn}
}
