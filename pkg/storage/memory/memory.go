// Package memory is an in-process storage backend. All state lives in one
// registry guarded by a single mutex, so every operation, including invitation
// accept, is atomic.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/calltrackerpro/calltracker/pkg/apperr"
	"github.com/calltrackerpro/calltracker/pkg/auth"
	"github.com/calltrackerpro/calltracker/pkg/invitations"
	"github.com/calltrackerpro/calltracker/pkg/orgs"
	"github.com/calltrackerpro/calltracker/pkg/records"
	"github.com/calltrackerpro/calltracker/pkg/storage"
)

// Store is the in-memory registry
type Store struct {
	mu sync.RWMutex

	principals    map[string]*auth.Principal
	organizations map[string]*orgs.Organization
	teams         map[string]*orgs.Team
	invitations   map[string]*invitations.Invitation
	tokens        map[string]string // token -> invitation ID
	records       map[string]*records.Record
}

// New creates an empty store
func New() *Store {
	return &Store{
		principals:    make(map[string]*auth.Principal),
		organizations: make(map[string]*orgs.Organization),
		teams:         make(map[string]*orgs.Team),
		invitations:   make(map[string]*invitations.Invitation),
		tokens:        make(map[string]string),
		records:       make(map[string]*records.Record),
	}
}

// PingContext always succeeds
func (s *Store) PingContext(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

// Principals

// CreatePrincipal inserts p. Emails are unique among active principals.
func (s *Store) CreatePrincipal(ctx context.Context, p *auth.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.principals[p.ID]; ok {
		return storage.ErrConflict
	}
	if p.IsActive && s.activeEmailLocked(p.Email, "") {
		return storage.ErrConflict
	}
	s.principals[p.ID] = p.Clone()
	return nil
}

// UpdatePrincipal replaces a stored principal. The organization of a non super
// admin cannot change.
func (s *Store) UpdatePrincipal(ctx context.Context, p *auth.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.principals[p.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if !existing.IsSuperAdmin() && existing.OrganizationID != p.OrganizationID {
		return apperr.Invalid("organizationId", "a principal cannot move between organizations")
	}
	if p.IsActive && s.activeEmailLocked(p.Email, p.ID) {
		return storage.ErrConflict
	}
	s.principals[p.ID] = p.Clone()
	return nil
}

func (s *Store) GetPrincipal(ctx context.Context, id string) (*auth.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.principals[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (*auth.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = auth.NormalizeEmail(email)
	for _, p := range s.principals {
		if p.IsActive && p.Email == email {
			return p.Clone(), nil
		}
	}
	return nil, storage.ErrNotFound
}

// ListPrincipals returns the principals of an organization ordered by email
func (s *Store) ListPrincipals(ctx context.Context, organizationID string) ([]*auth.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*auth.Principal
	for _, p := range s.principals {
		if p.OrganizationID == organizationID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *Store) activeEmailLocked(email, exceptID string) bool {
	for id, p := range s.principals {
		if id != exceptID && p.IsActive && p.Email == email {
			return true
		}
	}
	return false
}

// Organizations

func (s *Store) CreateOrganization(ctx context.Context, org *orgs.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.organizations[org.ID]; ok {
		return storage.ErrConflict
	}
	s.organizations[org.ID] = org.Clone()
	return nil
}

func (s *Store) UpdateOrganization(ctx context.Context, org *orgs.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.organizations[org.ID]; !ok {
		return storage.ErrNotFound
	}
	s.organizations[org.ID] = org.Clone()
	return nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (*orgs.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, ok := s.organizations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return org.Clone(), nil
}

// Teams

func (s *Store) CreateTeam(ctx context.Context, team *orgs.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.teams[team.ID]; ok {
		return storage.ErrConflict
	}
	for _, t := range s.teams {
		if t.OrganizationID == team.OrganizationID && t.IsActive && t.Name == team.Name {
			return storage.ErrConflict
		}
	}
	s.teams[team.ID] = cloneTeam(team)
	return nil
}

func (s *Store) UpdateTeam(ctx context.Context, team *orgs.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.teams[team.ID]
	if !ok || existing.OrganizationID != team.OrganizationID {
		return storage.ErrNotFound
	}
	s.teams[team.ID] = cloneTeam(team)
	return nil
}

func (s *Store) GetTeam(ctx context.Context, id string) (*orgs.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.teams[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneTeam(t), nil
}

// ListManagedTeamIDs implements scope.TeamLister
func (s *Store) ListManagedTeamIDs(ctx context.Context, organizationID, managerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for _, t := range s.teams {
		if t.OrganizationID == organizationID && t.IsActive && t.ManagerID == managerID {
			ids = append(ids, t.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Usage

// CountActive implements orgs.UsageCounter
func (s *Store) CountActive(ctx context.Context, organizationID string, class orgs.ResourceClass, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	switch class {
	case orgs.ResourceUsers:
		for _, p := range s.principals {
			if p.OrganizationID == organizationID && p.IsActive {
				n++
			}
		}
	case orgs.ResourceTeams:
		for _, t := range s.teams {
			if t.OrganizationID == organizationID && t.IsActive {
				n++
			}
		}
	case orgs.ResourceContacts:
		for _, r := range s.records {
			if r.OrganizationID == organizationID && r.Kind == records.KindContact && r.IsActive {
				n++
			}
		}
	case orgs.ResourceCalls:
		// Deleted calls still count against the monthly allowance
		for _, r := range s.records {
			if r.OrganizationID == organizationID && r.Kind == records.KindCallLog && !r.CreatedAt.Before(since) {
				n++
			}
		}
	}
	return n, nil
}

func cloneTeam(t *orgs.Team) *orgs.Team {
	c := *t
	c.Members = append([]orgs.TeamMember(nil), t.Members...)
	return &c
}
