package store

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a uniqueness constraint.
var ErrConflict = errors.New("conflict")

const uniqueViolation pq.ErrorCode = "23505"

// ConflictError names the column whose uniqueness constraint rejected a write.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	if e.Field == "" {
		return "record already exists"
	}
	return e.Field + " already exists"
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// mapWriteError translates driver errors into store errors.
func mapWriteError(table string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		field := strings.TrimPrefix(pqErr.Constraint, table+"_")
		field = strings.TrimSuffix(field, "_key")
		return &ConflictError{Field: field}
	}
	return err
}
