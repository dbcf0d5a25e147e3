package dbx

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes we react to.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgConnectionClass      = "08"
)

// Classify maps Postgres driver failures onto the common error taxonomy:
// unique violations become ErrDuplicateKey, serialization failures and
// deadlocks ErrVersionConflict, and lost connections ErrStoreUnavailable.
// Other errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation:
			return fmt.Errorf("%w: %s", common.ErrDuplicateKey, pgErr.ConstraintName)
		case pgErr.Code == pgSerializationFailure, pgErr.Code == pgDeadlockDetected:
			return fmt.Errorf("%w: %s", common.ErrVersionConflict, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, pgConnectionClass):
			return fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
	}
	return err
}
