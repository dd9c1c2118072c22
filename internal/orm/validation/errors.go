package validation

import (
	"fmt"
	"strings"
)

// FieldError represents a validation error on a specific field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors contains every constraint violation found on one entity
type Errors struct {
	EntityType string
	EntityID   int64
	Fields     []FieldError
}

// Add records a violation for a field
func (e *Errors) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// HasErrors returns true if there are any validation errors
func (e *Errors) HasErrors() bool {
	return len(e.Fields) > 0
}

// Error implements the error interface
func (e *Errors) Error() string {
	if !e.HasErrors() {
		return "validation failed"
	}
	if len(e.Fields) == 1 {
		return fmt.Sprintf("validation failed for %s %d: %s: %s",
			e.EntityType, e.EntityID, e.Fields[0].Field, e.Fields[0].Message)
	}

	messages := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		messages[i] = fmt.Sprintf("  - %s: %s", f.Field, f.Message)
	}
	return fmt.Sprintf("validation failed for %s %d:\n%s",
		e.EntityType, e.EntityID, strings.Join(messages, "\n"))
}
