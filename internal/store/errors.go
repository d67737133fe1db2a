package store

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	// ErrStaleRevision is returned when a document write carries a revision
	// that is not newer than the stored one.
	ErrStaleRevision = errors.New("stale revision")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	if constraint == "" {
		return true
	}
	return strings.EqualFold(pgErr.ConstraintName, constraint)
}
