package codec

import (
	"errors"
	"fmt"
)

// ErrMalformed is wrapped by every DecodeError
var ErrMalformed = errors.New("malformed entity tree")

// DecodeError reports a tree that cannot be turned into an entity
type DecodeError struct {
	Type    string
	ID      int64
	Field   string
	Message string
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s %d: %s", e.Type, e.ID, e.Message)
	}
	return fmt.Sprintf("%s %d: %s: %s", e.Type, e.ID, e.Field, e.Message)
}

func (e *DecodeError) Unwrap() error {
	return ErrMalformed
}
