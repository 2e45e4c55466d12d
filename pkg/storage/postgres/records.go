package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/calltrackerpro/calltracker/pkg/records"
	"github.com/calltrackerpro/calltracker/pkg/scope"
)

const recordColumns = `id, organization_id, kind, assigned_to, created_by, owner_id, team_id,
	data, is_active, created_at, updated_at`

func scanRecord(row rowScanner) (*records.Record, error) {
	var (
		rec                                    records.Record
		kind                                   string
		assignedTo, createdBy, ownerID, teamID sql.NullString
		data                                   []byte
	)
	err := row.Scan(&rec.ID, &rec.OrganizationID, &kind, &assignedTo, &createdBy, &ownerID, &teamID,
		&data, &rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Kind = records.Kind(kind)
	rec.AssignedTo = assignedTo.String
	rec.CreatedBy = createdBy.String
	rec.OwnerID = ownerID.String
	rec.TeamID = teamID.String
	if len(data) > 0 {
		if err := json.Unmarshal(data, &rec.Data); err != nil {
			return nil, fmt.Errorf("corrupt record data: %w", err)
		}
	}
	return &rec, nil
}

func marshalData(data map[string]interface{}) ([]byte, error) {
	if data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(data)
}

// ListRecords returns the records matching filter, newest first. A limit of
// zero returns every match.
func (s *Store) ListRecords(ctx context.Context, filter scope.Filter, offset, limit int) ([]*records.Record, int, error) {
	where, args, err := scope.ToSQL(filter, records.Columns, 1)
	if err != nil {
		return nil, 0, fmt.Errorf("list records: %w", err)
	}
	db := s.conns.Replica()

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, s.fail("count records", err)
	}

	query := `SELECT ` + recordColumns + ` FROM records WHERE ` + where + ` ORDER BY created_at DESC, id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, offset)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, s.fail("list records", err)
	}
	defer rows.Close()

	out := []*records.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, s.fail("list records", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, s.fail("list records", err)
	}
	return out, total, nil
}

// FindRecord returns the newest record matching filter
func (s *Store) FindRecord(ctx context.Context, filter scope.Filter) (*records.Record, error) {
	where, args, err := scope.ToSQL(filter, records.Columns, 1)
	if err != nil {
		return nil, fmt.Errorf("find record: %w", err)
	}
	rec, err := scanRecord(s.conns.Primary().QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE `+where+` ORDER BY created_at DESC, id LIMIT 1`, args...))
	if err != nil {
		return nil, s.fail("find record", err)
	}
	return rec, nil
}

func (s *Store) CreateRecord(ctx context.Context, rec *records.Record) error {
	data, err := marshalData(rec.Data)
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	_, err = s.conns.Primary().ExecContext(ctx, `
		INSERT INTO records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.OrganizationID, string(rec.Kind), nullString(rec.AssignedTo), nullString(rec.CreatedBy),
		nullString(rec.OwnerID), nullString(rec.TeamID), data, rec.IsActive, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return s.fail("create record", err)
	}
	return nil
}

// UpdateRecord replaces an active record of the same organization
func (s *Store) UpdateRecord(ctx context.Context, rec *records.Record) error {
	data, err := marshalData(rec.Data)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	res, err := s.conns.Primary().ExecContext(ctx, `
		UPDATE records SET assigned_to = $3, owner_id = $4, team_id = $5, data = $6, updated_at = $7
		WHERE id = $1 AND organization_id = $2 AND is_active`,
		rec.ID, rec.OrganizationID, nullString(rec.AssignedTo), nullString(rec.OwnerID),
		nullString(rec.TeamID), data, rec.UpdatedAt,
	)
	if err != nil {
		return s.fail("update record", err)
	}
	return requireRow(res)
}

// DeleteRecord soft-deletes an active record
func (s *Store) DeleteRecord(ctx context.Context, organizationID, id string, at time.Time) error {
	res, err := s.conns.Primary().ExecContext(ctx, `
		UPDATE records SET is_active = FALSE, updated_at = $3
		WHERE id = $1 AND organization_id = $2 AND is_active`,
		id, organizationID, at,
	)
	if err != nil {
		return s.fail("delete record", err)
	}
	return requireRow(res)
}
