package auth

import (
	"errors"
	"fmt"
)

// ErrAccessDenied is returned when a capability check fails
var ErrAccessDenied = errors.New("access denied")

// Denied wraps ErrAccessDenied with the refused action and entity
func Denied(action, typeName string, id int64) error {
	return fmt.Errorf("%w: %s %s %d", ErrAccessDenied, action, typeName, id)
}
