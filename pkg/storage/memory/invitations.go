package memory

import (
	"context"
	"sort"
	"time"

	"github.com/calltrackerpro/calltracker/pkg/auth"
	"github.com/calltrackerpro/calltracker/pkg/invitations"
	"github.com/calltrackerpro/calltracker/pkg/storage"
)

func (s *Store) CreateInvitation(ctx context.Context, inv *invitations.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invitations[inv.ID]; ok {
		return storage.ErrConflict
	}
	if _, ok := s.tokens[inv.Token]; ok {
		return storage.ErrConflict
	}
	if inv.Status == invitations.StatusPending {
		for _, existing := range s.invitations {
			if existing.Status == invitations.StatusPending &&
				existing.OrganizationID == inv.OrganizationID &&
				existing.Email == inv.Email {
				return storage.ErrConflict
			}
		}
	}

	s.invitations[inv.ID] = inv.Clone()
	s.tokens[inv.Token] = inv.ID
	return nil
}

func (s *Store) GetInvitation(ctx context.Context, id string) (*invitations.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invitations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return inv.Clone(), nil
}

func (s *Store) GetInvitationByToken(ctx context.Context, token string) (*invitations.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.byTokenLocked(token)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return inv.Clone(), nil
}

func (s *Store) FindPendingInvitation(ctx context.Context, organizationID, email string) (*invitations.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.invitations {
		if inv.Status == invitations.StatusPending && inv.OrganizationID == organizationID && inv.Email == email {
			return inv.Clone(), nil
		}
	}
	return nil, storage.ErrNotFound
}

// ListInvitations returns invitations newest first
func (s *Store) ListInvitations(ctx context.Context, q invitations.StoreQuery) ([]*invitations.Invitation, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*invitations.Invitation
	for _, inv := range s.invitations {
		if inv.OrganizationID != q.OrganizationID {
			continue
		}
		if q.Status != "" && inv.EffectiveStatus(q.Now) != q.Status {
			continue
		}
		matched = append(matched, inv)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	page := paginate(matched, q.Offset, q.Limit)
	out := make([]*invitations.Invitation, len(page))
	for i, inv := range page {
		out[i] = inv.Clone()
	}
	return out, total, nil
}

func (s *Store) CountInvitationsByStatus(ctx context.Context, organizationID string, now time.Time) (map[invitations.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[invitations.Status]int)
	for _, inv := range s.invitations {
		if inv.OrganizationID == organizationID {
			counts[inv.EffectiveStatus(now)]++
		}
	}
	return counts, nil
}

func (s *Store) ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*invitations.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*invitations.Invitation
	for _, inv := range s.invitations {
		if inv.ReminderDue(now) {
			due = append(due, inv)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextReminderAt.Before(*due[j].NextReminderAt) })

	due = paginate(due, 0, limit)
	out := make([]*invitations.Invitation, len(due))
	for i, inv := range due {
		out[i] = inv.Clone()
	}
	return out, nil
}

// AcceptInvitation consumes a usable token and creates p under the same lock
func (s *Store) AcceptInvitation(ctx context.Context, token string, now time.Time, p *auth.Principal) (*invitations.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.byTokenLocked(token)
	if !ok || !inv.IsUsable(now) {
		return nil, storage.ErrNotFound
	}
	if s.activeEmailLocked(p.Email, "") {
		return nil, storage.ErrConflict
	}
	if _, ok := s.principals[p.ID]; ok {
		return nil, storage.ErrConflict
	}

	s.principals[p.ID] = p.Clone()
	if inv.TeamID != "" {
		if team, ok := s.teams[inv.TeamID]; ok {
			role := inv.TeamRole
			if role == "" {
				role = auth.TeamRoleMember
			}
			team.AddMember(p.ID, role, now)
		}
	}

	accepted := now
	inv.Status = invitations.StatusAccepted
	inv.AcceptedAt = &accepted
	inv.AcceptedBy = p.ID
	inv.NextReminderAt = nil
	return inv.Clone(), nil
}

func (s *Store) DeclineInvitation(ctx context.Context, token string, now time.Time) (*invitations.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.byTokenLocked(token)
	if !ok || !inv.IsUsable(now) {
		return nil, storage.ErrNotFound
	}

	declined := now
	inv.Status = invitations.StatusDeclined
	inv.DeclinedAt = &declined
	inv.NextReminderAt = nil
	return inv.Clone(), nil
}

func (s *Store) RevokeInvitation(ctx context.Context, id, revokedBy string, now time.Time) (*invitations.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invitations[id]
	if !ok || !inv.IsUsable(now) {
		return nil, storage.ErrNotFound
	}

	revoked := now
	inv.Status = invitations.StatusRevoked
	inv.RevokedAt = &revoked
	inv.RevokedBy = revokedBy
	inv.NextReminderAt = nil
	return inv.Clone(), nil
}

func (s *Store) ExtendInvitation(ctx context.Context, id string, now, expiresAt time.Time) (*invitations.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invitations[id]
	if !ok || !inv.IsUsable(now) {
		return nil, storage.ErrNotFound
	}
	inv.ExpiresAt = expiresAt
	return inv.Clone(), nil
}

func (s *Store) RecordReminder(ctx context.Context, id string, now time.Time, next *time.Time) (*invitations.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invitations[id]
	if !ok || !inv.IsUsable(now) || inv.ReminderCount >= invitations.MaxReminders {
		return nil, storage.ErrNotFound
	}

	sent := now
	inv.ReminderCount++
	inv.LastReminderAt = &sent
	inv.NextReminderAt = nil
	if next != nil {
		t := *next
		inv.NextReminderAt = &t
	}
	return inv.Clone(), nil
}

func (s *Store) ExpireInvitation(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invitations[id]
	if !ok || inv.Status != invitations.StatusPending || !inv.IsExpired(now) {
		return storage.ErrNotFound
	}
	inv.Status = invitations.StatusExpired
	inv.NextReminderAt = nil
	return nil
}

func (s *Store) ExpireInvitations(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, inv := range s.invitations {
		if inv.Status == invitations.StatusPending && inv.IsExpired(now) {
			inv.Status = invitations.StatusExpired
			inv.NextReminderAt = nil
			n++
		}
	}
	return n, nil
}

func (s *Store) byTokenLocked(token string) (*invitations.Invitation, bool) {
	id, ok := s.tokens[token]
	if !ok {
		return nil, false
	}
	inv, ok := s.invitations[id]
	return inv, ok
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
