package shared

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates a missing obligation, payment, transaction or period.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey indicates a uniqueness rule was violated.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrInvalidState indicates the record is in a state that forbids the operation.
	ErrInvalidState = errors.New("invalid state")
	// ErrLocked indicates a mutation against a transaction locked by a finalized period.
	ErrLocked = errors.New("locked")
	// ErrForbidden indicates the actor lacks the role required for the action.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation indicates rejected input.
	ErrValidation = errors.New("validation failed")
	// ErrCountMismatch indicates unchecked transactions remain in a period.
	ErrCountMismatch = errors.New("count mismatch")
	// ErrStorage indicates a database failure unrelated to business rules.
	ErrStorage = errors.New("storage error")
)

// FieldError reports which field broke which rule.
type FieldError struct {
	Field string
	Rule  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation.Error(), e.Field, e.Rule)
}

// Is makes FieldError match ErrValidation.
func (e *FieldError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a FieldError.
func Invalid(field, rule string) error {
	return &FieldError{Field: field, Rule: rule}
}

// CountMismatchError carries the number of transactions still unchecked.
type CountMismatchError struct {
	Remaining int
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("%s: %d transaction(s) still unchecked", ErrCountMismatch.Error(), e.Remaining)
}

// Is makes CountMismatchError match ErrCountMismatch.
func (e *CountMismatchError) Is(target error) bool {
	return target == ErrCountMismatch
}

// StorageError wraps a database failure with the operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorage.Error(), e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is makes StorageError match ErrStorage.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// IsBusiness reports whether err is one of the business error kinds.
func IsBusiness(err error) bool {
	for _, kind := range []error{ErrNotFound, ErrDuplicateKey, ErrInvalidState, ErrLocked, ErrForbidden, ErrValidation, ErrCountMismatch} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// Storage classifies a repository error. No rows becomes ErrNotFound, unique
// violations become ErrDuplicateKey, business errors pass through untouched and
// everything else is wrapped in a StorageError.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsBusiness(err) {
		return err
	}
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w (%s)", op, ErrDuplicateKey, pgErr.ConstraintName)
	}
	return &StorageError{Op: op, Err: err}
}
