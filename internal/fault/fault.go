// Package fault defines the closed set of failures reported to clients and
// the translator that classifies every other error into it.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure
type Kind string

const (
	NotFound         Kind = "NotFound"
	ValidationFailed Kind = "ValidationFailed"
	Conflict         Kind = "Conflict"
	Unauthorized     Kind = "Unauthorized"
	Unclassified     Kind = "Unclassified"
)

// Failure is a single field level problem of a ValidationFailed error
type Failure struct {
	EntityType string `json:"entityType"`
	EntityID   int64  `json:"entityId"`
	FieldPath  string `json:"fieldPath,omitempty"`
	Message    string `json:"message"`
}

// Error is the client visible form of a failure. Its message and failures
// are safe to return to callers; the underlying cause never is.
type Error struct {
	Kind     Kind      `json:"kind"`
	Message  string    `json:"message"`
	Failures []Failure `json:"failures,omitempty"`

	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates an error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind that keeps cause for logging
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf returns the kind of a translated error, or Unclassified
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unclassified
}
