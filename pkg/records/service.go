package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/calltrackerpro/calltracker/pkg/apperr"
	"github.com/calltrackerpro/calltracker/pkg/audit"
	"github.com/calltrackerpro/calltracker/pkg/auth"
	"github.com/calltrackerpro/calltracker/pkg/observability"
	"github.com/calltrackerpro/calltracker/pkg/orgs"
	"github.com/calltrackerpro/calltracker/pkg/scope"
	"github.com/calltrackerpro/calltracker/pkg/storage"
	"github.com/google/uuid"
)

// Store persists records. Every read takes a scope filter; the store applies
// it verbatim.
type Store interface {
	ListRecords(ctx context.Context, filter scope.Filter, offset, limit int) ([]*Record, int, error)
	FindRecord(ctx context.Context, filter scope.Filter) (*Record, error)
	CreateRecord(ctx context.Context, rec *Record) error
	UpdateRecord(ctx context.Context, rec *Record) error
	DeleteRecord(ctx context.Context, organizationID, id string, at time.Time) error
}

// Page is one page of records
type Page struct {
	Records []*Record `json:"records"`
	Page    int       `json:"page"`
	Limit   int       `json:"limit"`
	Total   int       `json:"total"`
}

// Pagination defaults
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Service is scoped CRUD over contacts and call logs
type Service struct {
	store    Store
	resolver *scope.Resolver
	guard    *orgs.LimitGuard
	auditor  audit.Logger
	now      func() time.Time
}

// NewService creates a record service
func NewService(store Store, resolver *scope.Resolver, guard *orgs.LimitGuard, auditor audit.Logger) *Service {
	if auditor == nil {
		auditor = audit.NoopLogger{}
	}
	return &Service{
		store:    store,
		resolver: resolver,
		guard:    guard,
		auditor:  auditor,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// List returns the active records of kind visible to actor in orgID
func (s *Service) List(ctx context.Context, actor *auth.Principal, orgID string, kind Kind, page, limit int) (*Page, error) {
	filter, err := s.scopedFilter(ctx, actor, orgID, kind, ViewPermissions(kind), nil)
	if err != nil {
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	recs, total, err := s.store.ListRecords(ctx, filter, (page-1)*limit, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	if recs == nil {
		recs = []*Record{}
	}
	return &Page{Records: recs, Page: page, Limit: limit, Total: total}, nil
}

// Get returns one record. Records outside the actor's scope are not found.
func (s *Service) Get(ctx context.Context, actor *auth.Principal, orgID string, kind Kind, id string) (*Record, error) {
	return s.find(ctx, actor, orgID, kind, id, ViewPermissions(kind))
}

// Create inserts a record owned by actor after the plan limit check
func (s *Service) Create(ctx context.Context, actor *auth.Principal, org *orgs.Organization, kind Kind, in Input) (*Record, error) {
	perms, ok := permissionsByKind[kind]
	if !ok {
		return nil, apperr.Invalid("kind", "unknown record kind %q", kind)
	}
	if err := requireAny(actor, ManagePermissions(kind)); err != nil {
		return nil, err
	}
	if err := requireTenant(actor, org.ID); err != nil {
		return nil, err
	}
	if err := s.guard.CheckLimit(ctx, actor, org, perms.resource); err != nil {
		return nil, err
	}

	now := s.now()
	rec := &Record{
		ID:             uuid.NewString(),
		OrganizationID: org.ID,
		Kind:           kind,
		AssignedTo:     actor.ID,
		CreatedBy:      actor.ID,
		OwnerID:        actor.ID,
		TeamID:         actor.TeamID,
		Data:           in.Data,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	applyInput(rec, in)

	if err := s.store.CreateRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}

	s.audit(ctx, actor, audit.EventTypeDataRecordCreate, kind, rec.ID)
	return rec, nil
}

// Update applies in to a record visible to actor
func (s *Service) Update(ctx context.Context, actor *auth.Principal, orgID string, kind Kind, id string, in Input) (*Record, error) {
	rec, err := s.find(ctx, actor, orgID, kind, id, ManagePermissions(kind))
	if err != nil {
		return nil, err
	}

	applyInput(rec, in)
	rec.UpdatedAt = s.now()

	if err := s.store.UpdateRecord(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFound(string(kind))
		}
		return nil, fmt.Errorf("failed to update record: %w", err)
	}

	s.audit(ctx, actor, audit.EventTypeDataRecordUpdate, kind, rec.ID)
	return rec, nil
}

// Delete soft-deletes a record visible to actor
func (s *Service) Delete(ctx context.Context, actor *auth.Principal, orgID string, kind Kind, id string) error {
	rec, err := s.find(ctx, actor, orgID, kind, id, ManagePermissions(kind))
	if err != nil {
		return err
	}

	if err := s.store.DeleteRecord(ctx, rec.OrganizationID, rec.ID, s.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound(string(kind))
		}
		return fmt.Errorf("failed to delete record: %w", err)
	}

	s.audit(ctx, actor, audit.EventTypeDataRecordDelete, kind, rec.ID)
	return nil
}

func (s *Service) find(ctx context.Context, actor *auth.Principal, orgID string, kind Kind, id string, required []auth.Permission) (*Record, error) {
	filter, err := s.scopedFilter(ctx, actor, orgID, kind, required, scope.Eq{Field: FieldID, Value: id})
	if err != nil {
		return nil, err
	}

	rec, err := s.store.FindRecord(ctx, filter)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound(string(kind))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// scopedFilter checks permissions and builds the tenant and role filter for
// active records of kind, narrowed by extra.
func (s *Service) scopedFilter(ctx context.Context, actor *auth.Principal, orgID string, kind Kind, required []auth.Permission, extra scope.Filter) (scope.Filter, error) {
	if _, ok := permissionsByKind[kind]; !ok {
		return nil, apperr.Invalid("kind", "unknown record kind %q", kind)
	}
	if err := requireAny(actor, required); err != nil {
		return nil, err
	}
	if err := requireTenant(actor, orgID); err != nil {
		return nil, err
	}

	access, err := s.resolver.Resolve(ctx, actor, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scope: %w", err)
	}

	base := scope.And{
		scope.Eq{Field: FieldKind, Value: string(kind)},
		scope.Eq{Field: FieldIsActive, Value: true},
	}
	if extra != nil {
		base = append(base, extra)
	}
	return access.BuildScopedQuery(base), nil
}

func (s *Service) audit(ctx context.Context, actor *auth.Principal, eventType audit.EventType, kind Kind, id string) {
	resource := audit.ResourceTypeContact
	if kind == KindCallLog {
		resource = audit.ResourceTypeCallLog
	}
	event := audit.NewEvent(ctx, eventType, audit.EventStatusSuccess).WithResource(resource, id)
	event.ActorID = actor.ID
	event.ActorRole = string(actor.Role)
	if err := s.auditor.Log(ctx, event); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("Failed to write audit event")
	}
}

func requireAny(actor *auth.Principal, perms []auth.Permission) error {
	if auth.HasAny(actor, perms...) && len(perms) > 0 {
		return nil
	}
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}
	return apperr.Forbidden(strings.Join(names, " or "))
}

func requireTenant(actor *auth.Principal, orgID string) error {
	if actor.IsSuperAdmin() || actor.OrganizationID == orgID {
		return nil
	}
	return apperr.CrossTenant()
}

func applyInput(rec *Record, in Input) {
	if in.AssignedTo != nil {
		rec.AssignedTo = *in.AssignedTo
	}
	if in.OwnerID != nil {
		rec.OwnerID = *in.OwnerID
	}
	if in.TeamID != nil {
		rec.TeamID = *in.TeamID
	}
	if in.Data != nil {
		rec.Data = in.Data
	}
}
