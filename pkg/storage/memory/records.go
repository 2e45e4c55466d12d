package memory

import (
	"context"
	"sort"
	"time"

	"github.com/calltrackerpro/calltracker/pkg/records"
	"github.com/calltrackerpro/calltracker/pkg/scope"
	"github.com/calltrackerpro/calltracker/pkg/storage"
)

// ListRecords returns the records matching filter, newest first
func (s *Store) ListRecords(ctx context.Context, filter scope.Filter, offset, limit int) ([]*records.Record, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.matchLocked(filter)
	total := len(matched)
	page := paginate(matched, offset, limit)

	out := make([]*records.Record, len(page))
	for i, r := range page {
		out[i] = r.Clone()
	}
	return out, total, nil
}

func (s *Store) FindRecord(ctx context.Context, filter scope.Filter) (*records.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.matchLocked(filter)
	if len(matched) == 0 {
		return nil, storage.ErrNotFound
	}
	return matched[0].Clone(), nil
}

func (s *Store) CreateRecord(ctx context.Context, rec *records.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return storage.ErrConflict
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

// UpdateRecord replaces an active record of the same organization
func (s *Store) UpdateRecord(ctx context.Context, rec *records.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[rec.ID]
	if !ok || !existing.IsActive || existing.OrganizationID != rec.OrganizationID {
		return storage.ErrNotFound
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

// DeleteRecord soft-deletes an active record
func (s *Store) DeleteRecord(ctx context.Context, organizationID, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || !rec.IsActive || rec.OrganizationID != organizationID {
		return storage.ErrNotFound
	}
	rec.IsActive = false
	rec.UpdatedAt = at
	return nil
}

func (s *Store) matchLocked(filter scope.Filter) []*records.Record {
	var matched []*records.Record
	for _, r := range s.records {
		if scope.Matches(filter, r) {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return matched
}
