package db

import (
	"strings"

	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
)

// IsUniqueViolation reports whether err is a unique constraint violation,
// optionally on a specific constraint or index. sqlite has no SQLSTATE, so
// its errors are matched by message.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if pgErr, ok := pkgerrors.PostgresErrorOf(err); ok {
		return pgErr.SQLState == pkgerrors.PGUniqueViolation &&
			(constraintName == "" || pgErr.Constraint == constraintName)
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") && !strings.Contains(msg, "duplicate key value") {
		return false
	}
	return constraintName == "" || strings.Contains(msg, constraintName)
}
