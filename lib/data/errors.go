package data

import (
	"errors"

	"github.com/lib/pq"
)

// Not-found errors are distinct from validation failures: callers treat a missing
// task as lost workflow state and restart from the beginning.
var (
	ErrTaskNotFound         = errors.New("task not found")
	ErrMemberNotFound       = errors.New("member not found")
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrDuplicateIdentity    = errors.New("external identity already registered")
	ErrTaskNotClaimable     = errors.New("task is not awaiting acceptance")
)

// PostgreSQL error codes
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation
}
