package store

import (
	"errors"
	"fmt"
)

// Common store error types
var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")

	// ErrOptimisticLockFailed is returned when a record was modified by another transaction
	ErrOptimisticLockFailed = errors.New("record was modified by another transaction")

	// ErrUniqueViolation is returned when a unique constraint is violated
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrForeignKeyViolation is returned when a foreign key constraint is violated
	ErrForeignKeyViolation = errors.New("foreign key constraint violation")

	// ErrCheckViolation is returned when a check constraint is violated
	ErrCheckViolation = errors.New("check constraint violation")

	// ErrNotNullViolation is returned when a NOT NULL constraint is violated
	ErrNotNullViolation = errors.New("not null constraint violation")

	// ErrUnknownType is returned for entity types missing from the schema
	ErrUnknownType = errors.New("unknown entity type")
)

// NotFound wraps ErrNotFound with the missing key
func NotFound(typeName string, id int64) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, typeName, id)
}

// StaleVersion wraps ErrOptimisticLockFailed with the conflicting key
func StaleVersion(typeName string, id, expected int64) error {
	return fmt.Errorf("%w: %s %d expected version %d", ErrOptimisticLockFailed, typeName, id, expected)
}

// IsNotFound returns true if the error is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsOptimisticLockFailed returns true if the error is ErrOptimisticLockFailed
func IsOptimisticLockFailed(err error) bool {
	return errors.Is(err, ErrOptimisticLockFailed)
}

// IsConstraintViolation returns true for unique, foreign key, check and
// not-null violations
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrUniqueViolation) ||
		errors.Is(err, ErrForeignKeyViolation) ||
		errors.Is(err, ErrCheckViolation) ||
		errors.Is(err, ErrNotNullViolation)
}

// ErrUnknownAssociation is returned for expand paths naming a field that is
// not an association
var ErrUnknownAssociation = errors.New("unknown association")
