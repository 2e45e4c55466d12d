package postgres

import (
	"database/sql"
	"errors"

	"github.com/calltrackerpro/calltracker/pkg/storage"
	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
)

// mapError translates driver errors into storage sentinels
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation
}
