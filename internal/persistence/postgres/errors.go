package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/sawpanic/copyrun/internal/persistence"
)

// wrapErr maps driver errors onto the persistence sentinels so callers
// never inspect pq error codes themselves.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, persistence.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%s: %w", op, persistence.ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}
