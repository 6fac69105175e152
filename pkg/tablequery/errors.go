package tablequery

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound matches a RowCountError with fewer rows than expected.
	ErrNotFound = errors.New("tablequery: row not found")
	// ErrConflict matches a RowCountError with more rows than expected.
	ErrConflict = errors.New("tablequery: too many rows")
)

// RowCountError is returned when a statement matched or affected a different
// number of rows than its contract requires.
type RowCountError struct {
	Schema   string
	Table    string
	Expected int
	Actual   int
}

func newRowCountError(t Table, expected, actual int) *RowCountError {
	return &RowCountError{Schema: t.Schema, Table: t.Name, Expected: expected, Actual: actual}
}

func (e *RowCountError) Error() string {
	return fmt.Sprintf("%s.%s: unexpected row count expected %d, actual %d",
		e.Schema, e.Table, e.Expected, e.Actual)
}

// Is lets callers map the error with errors.Is(err, ErrNotFound) or
// errors.Is(err, ErrConflict).
func (e *RowCountError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Actual < e.Expected
	case ErrConflict:
		return e.Actual > e.Expected
	}
	return false
}

const (
	sqlstateUniqueViolation = "23505"
	sqlstateIntegrityClass  = "23"
)

// IsUniqueViolation reports whether err carries PostgreSQL's unique_violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlstateUniqueViolation
}

// IsConstraintViolation reports whether err is any integrity constraint
// violation (SQLSTATE class 23).
func IsConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && len(pgErr.Code) == 5 && pgErr.Code[:2] == sqlstateIntegrityClass
}
