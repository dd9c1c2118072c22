// Package validation checks entity values against the constraints declared
// on their schema fields.
package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/conduit-lang/objgraph/internal/orm/schema"
)

// Validator defines the interface for field validators
type Validator interface {
	Validate(value interface{}) error
}

// TypeValidator checks that a value has the canonical Go type of its field
type TypeValidator struct {
	FieldType schema.ScalarType
}

// Validate implements the Validator interface
func (v *TypeValidator) Validate(value interface{}) error {
	if value == nil {
		return nil
	}

	ok := true
	switch v.FieldType {
	case schema.TypeString, schema.TypeText:
		_, ok = value.(string)
	case schema.TypeInt:
		_, ok = value.(int64)
	case schema.TypeFloat:
		_, ok = value.(float64)
	case schema.TypeBool:
		_, ok = value.(bool)
	case schema.TypeTimestamp:
		_, ok = value.(time.Time)
	case schema.TypeJSON:
		_, err := json.Marshal(value)
		ok = err == nil
	}
	if !ok {
		return fmt.Errorf("expected %s value", v.FieldType)
	}
	return nil
}

// RequiredValidator rejects null values
type RequiredValidator struct{}

// Validate implements the Validator interface
func (v *RequiredValidator) Validate(value interface{}) error {
	if value == nil {
		return fmt.Errorf("must not be null")
	}
	return nil
}

// MinValidator validates minimum numeric values
type MinValidator struct {
	Min float64
}

// Validate implements the Validator interface
func (v *MinValidator) Validate(value interface{}) error {
	if value == nil {
		return nil // Nullable fields are validated separately
	}
	n, ok := toFloat64(value)
	if !ok {
		return fmt.Errorf("expected numeric value")
	}
	if n < v.Min {
		return fmt.Errorf("must be at least %v", v.Min)
	}
	return nil
}

// MaxValidator validates maximum numeric values
type MaxValidator struct {
	Max float64
}

// Validate implements the Validator interface
func (v *MaxValidator) Validate(value interface{}) error {
	if value == nil {
		return nil
	}
	n, ok := toFloat64(value)
	if !ok {
		return fmt.Errorf("expected numeric value")
	}
	if n > v.Max {
		return fmt.Errorf("must be at most %v", v.Max)
	}
	return nil
}

// MinLengthValidator validates minimum string length in characters
type MinLengthValidator struct {
	MinLength int
}

// Validate implements the Validator interface
func (v *MinLengthValidator) Validate(value interface{}) error {
	if value == nil {
		return nil
	}
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected string value")
	}
	if utf8.RuneCountInString(s) < v.MinLength {
		return fmt.Errorf("must be at least %d characters", v.MinLength)
	}
	return nil
}

// MaxLengthValidator validates maximum string length in characters
type MaxLengthValidator struct {
	MaxLength int
}

// Validate implements the Validator interface
func (v *MaxLengthValidator) Validate(value interface{}) error {
	if value == nil {
		return nil
	}
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected string value")
	}
	if utf8.RuneCountInString(s) > v.MaxLength {
		return fmt.Errorf("must be at most %d characters", v.MaxLength)
	}
	return nil
}

// PatternValidator validates string values against a regex pattern
type PatternValidator struct {
	Pattern *regexp.Regexp
}

// Validate implements the Validator interface
func (v *PatternValidator) Validate(value interface{}) error {
	if value == nil {
		return nil
	}
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("pattern validation requires string value")
	}
	if !v.Pattern.MatchString(s) {
		return fmt.Errorf("does not match required pattern")
	}
	return nil
}

// ValidatorsFor builds the validators for a scalar field's constraints.
// The type check always comes first.
func ValidatorsFor(f *schema.Field) ([]Validator, error) {
	validators := []Validator{&TypeValidator{FieldType: f.Scalar}}
	c := f.Constraints

	if c.Required {
		validators = append(validators, &RequiredValidator{})
	}
	if c.Min != nil {
		validators = append(validators, &MinValidator{Min: *c.Min})
	}
	if c.Max != nil {
		validators = append(validators, &MaxValidator{Max: *c.Max})
	}
	if c.MinLength != nil {
		validators = append(validators, &MinLengthValidator{MinLength: *c.MinLength})
	}
	if c.MaxLength != nil {
		validators = append(validators, &MaxLengthValidator{MaxLength: *c.MaxLength})
	}
	if c.Pattern != "" {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern for %s: %w", f.Name, err)
		}
		validators = append(validators, &PatternValidator{Pattern: re})
	}
	return validators, nil
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
