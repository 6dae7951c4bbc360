package db

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/clinic-booking/internal/apperr"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeSerializationFailed = "40001"
	codeDeadlockDetected    = "40P01"
)

// IsUniqueViolation reports whether err is a unique violation, optionally
// restricted to one constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation
}

// IsTransient reports failures a caller may retry: timeouts, dropped
// connections, serialization conflicts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeSerializationFailed || pgErr.Code == codeDeadlockDetected
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

// Wrap annotates a store error with msg. Transient failures become
// apperr.KindTransient so callers outside HTTP can decide to retry; errors
// that already carry a kind keep it.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) == apperr.KindInternal && IsTransient(err) {
		return apperr.Wrap(apperr.KindTransient, err, msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
