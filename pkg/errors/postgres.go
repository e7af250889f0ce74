package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// SQLSTATE classes the API translates instead of reporting as internal errors.
const (
	PGUniqueViolation     = "23505"
	PGExclusionViolation  = "23P01"
	PGForeignKeyViolation = "23503"
	PGCheckViolation      = "23514"
)

// PostgresError is the server side of a failed statement, read from either
// the pgx or the lib/pq driver.
type PostgresError struct {
	SQLState   string
	Constraint string
	Table      string
	Column     string
	Detail     string
	Message    string
}

func PostgresErrorOf(err error) (PostgresError, bool) {
	var pgxErr *pgconn.PgError
	if stdErrors.As(err, &pgxErr) {
		return PostgresError{
			SQLState:   pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}, true
	}
	var pqErr *pq.Error
	if stdErrors.As(err, &pqErr) {
		return PostgresError{
			SQLState:   string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}, true
	}
	return PostgresError{}, false
}

// Classify returns the typed error carried by err. Constraint violations that
// escaped a repository become conflicts or validation errors; everything
// else is internal.
func Classify(err error) *Error {
	if typed := As(err); typed != nil {
		return typed
	}
	if pgErr, ok := PostgresErrorOf(err); ok {
		switch pgErr.SQLState {
		case PGUniqueViolation, PGExclusionViolation:
			return Wrap(CodeConflict, err, "record already exists")
		case PGForeignKeyViolation:
			return Wrap(CodeValidation, err, "referenced record does not exist")
		case PGCheckViolation:
			return Wrap(CodeValidation, err, "value rejected by constraint "+pgErr.Constraint)
		}
	}
	return Wrap(CodeInternal, err, "unexpected error")
}

// LogFields describes err for a structured log line: its code, the wrap
// chain and any Postgres fields. Empty values are left out.
func LogFields(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}
	fields := map[string]any{"error_code": CodeOf(err)}

	var chain []string
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T", e))
	}
	if len(chain) > 1 {
		fields["error_chain"] = chain
	}

	if pgErr, ok := PostgresErrorOf(err); ok {
		for key, value := range map[string]string{
			"pg_code":       pgErr.SQLState,
			"pg_constraint": pgErr.Constraint,
			"pg_table":      pgErr.Table,
			"pg_column":     pgErr.Column,
			"pg_detail":     pgErr.Detail,
			"pg_message":    pgErr.Message,
		} {
			if value != "" {
				fields[key] = value
			}
		}
	}
	return fields
}
