package schema

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/conduit-lang/objgraph/internal/auth"
)

// Wire names produced by the codec that a field may not shadow
var reservedNames = map[string]bool{
	"id":           true,
	"version":      true,
	"type":         true,
	"created_at":   true,
	"updated_at":   true,
	"unauthorized": true,
}

var (
	fieldNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	typeNamePattern  = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*$`)
)

// FieldOption configures a field while it is being declared
type FieldOption func(*Field)

// Required marks a scalar as non-null, or a to-one as mandatory
func Required() FieldOption {
	return func(f *Field) { f.Constraints.Required = true }
}

// Min sets the minimum numeric value
func Min(v float64) FieldOption {
	return func(f *Field) { f.Constraints.Min = &v }
}

// Max sets the maximum numeric value
func Max(v float64) FieldOption {
	return func(f *Field) { f.Constraints.Max = &v }
}

// MinLength sets the minimum text length
func MinLength(n int) FieldOption {
	return func(f *Field) { f.Constraints.MinLength = &n }
}

// MaxLength sets the maximum text length
func MaxLength(n int) FieldOption {
	return func(f *Field) { f.Constraints.MaxLength = &n }
}

// Pattern requires text values to match a regular expression
func Pattern(expr string) FieldOption {
	return func(f *Field) { f.Constraints.Pattern = expr }
}

// Eager makes an association always inlined
func Eager() FieldOption {
	return func(f *Field) { f.Fetch = FetchEager }
}

// MappedBy marks the association as the inverse side of the named field on
// the target type
func MappedBy(field string) FieldOption {
	return func(f *Field) { f.MappedBy = field }
}

// Hidden keeps the field out of serialized output
func Hidden() FieldOption {
	return func(f *Field) { f.Hidden = true }
}

// TypeBuilder declares an entity type field by field
type TypeBuilder struct {
	t      *EntityType
	errors []error
}

// NewType starts declaring an entity type
func NewType(name string) *TypeBuilder {
	return &TypeBuilder{
		t: &EntityType{
			Name:  name,
			Table: TableName(name),
			index: make(map[string]*Field),
		},
	}
}

// Table overrides the storage table name
func (b *TypeBuilder) Table(name string) *TypeBuilder {
	b.t.Table = name
	return b
}

// Scalar declares a stored value field
func (b *TypeBuilder) Scalar(name string, typ ScalarType, opts ...FieldOption) *TypeBuilder {
	return b.add(&Field{Name: name, Kind: KindScalar, Scalar: typ}, opts)
}

// String declares a string field
func (b *TypeBuilder) String(name string, opts ...FieldOption) *TypeBuilder {
	return b.Scalar(name, TypeString, opts...)
}

// Text declares a long text field
func (b *TypeBuilder) Text(name string, opts ...FieldOption) *TypeBuilder {
	return b.Scalar(name, TypeText, opts...)
}

// Int declares an integer field
func (b *TypeBuilder) Int(name string, opts ...FieldOption) *TypeBuilder {
	return b.Scalar(name, TypeInt, opts...)
}

// Float declares a floating point field
func (b *TypeBuilder) Float(name string, opts ...FieldOption) *TypeBuilder {
	return b.Scalar(name, TypeFloat, opts...)
}

// Bool declares a boolean field
func (b *TypeBuilder) Bool(name string, opts ...FieldOption) *TypeBuilder {
	return b.Scalar(name, TypeBool, opts...)
}

// Timestamp declares a point-in-time field
func (b *TypeBuilder) Timestamp(name string, opts ...FieldOption) *TypeBuilder {
	return b.Scalar(name, TypeTimestamp, opts...)
}

// JSON declares a free-form JSON field
func (b *TypeBuilder) JSON(name string, opts ...FieldOption) *TypeBuilder {
	return b.Scalar(name, TypeJSON, opts...)
}

// ToOne declares a reference to a single entity of the target type
func (b *TypeBuilder) ToOne(name, target string, opts ...FieldOption) *TypeBuilder {
	return b.add(&Field{Name: name, Kind: KindToOne, Target: target}, opts)
}

// ToMany declares a set of references to entities of the target type
func (b *TypeBuilder) ToMany(name, target string, opts ...FieldOption) *TypeBuilder {
	return b.add(&Field{Name: name, Kind: KindToMany, Target: target}, opts)
}

// Virtual declares a read-only attribute computed on serialization
func (b *TypeBuilder) Virtual(name string, typ ScalarType, fn VirtualFunc) *TypeBuilder {
	return b.add(&Field{Name: name, Kind: KindVirtual, Scalar: typ, Virtual: fn}, nil)
}

// Policy restricts access to instances of the type
func (b *TypeBuilder) Policy(p auth.Policy) *TypeBuilder {
	b.t.Policy = p
	return b
}

// PolicyExpand lists association paths loaded before the policy is consulted
func (b *TypeBuilder) PolicyExpand(paths ...string) *TypeBuilder {
	b.t.PolicyExpand = append(b.t.PolicyExpand, paths...)
	return b
}

func (b *TypeBuilder) add(f *Field, opts []FieldOption) *TypeBuilder {
	for _, opt := range opts {
		opt(f)
	}
	if err := b.validateField(f); err != nil {
		b.errors = append(b.errors, fmt.Errorf("%s.%s: %w", b.t.Name, f.Name, err))
		return b
	}
	b.t.Fields = append(b.t.Fields, f)
	b.t.index[f.Name] = f
	return b
}

func (b *TypeBuilder) validateField(f *Field) error {
	if !fieldNamePattern.MatchString(f.Name) {
		return errors.New("field names must be lower snake case")
	}
	if reservedNames[f.Name] || strings.HasSuffix(f.Name, "_ref_id") || strings.HasSuffix(f.Name, "_ref_ids") {
		return errors.New("field name is reserved")
	}
	if _, exists := b.t.index[f.Name]; exists {
		return errors.New("duplicate field")
	}

	switch f.Kind {
	case KindScalar, KindVirtual:
		if !f.Scalar.Valid() {
			return fmt.Errorf("unknown scalar type %q", f.Scalar)
		}
		if f.Kind == KindVirtual && f.Virtual == nil {
			return errors.New("virtual attribute requires a function")
		}
		if f.Constraints.Pattern != "" {
			if !f.Scalar.IsText() {
				return errors.New("pattern constraint requires a text field")
			}
			if _, err := regexp.Compile(f.Constraints.Pattern); err != nil {
				return fmt.Errorf("invalid pattern: %w", err)
			}
		}
		if (f.Constraints.Min != nil || f.Constraints.Max != nil) && !f.Scalar.IsNumeric() {
			return errors.New("min/max constraints require a numeric field")
		}
		if (f.Constraints.MinLength != nil || f.Constraints.MaxLength != nil) && !f.Scalar.IsText() {
			return errors.New("length constraints require a text field")
		}
	case KindToOne, KindToMany:
		if f.Target == "" {
			return errors.New("association requires a target type")
		}
		if f.Kind == KindToMany && f.Constraints.Required {
			return errors.New("to-many associations cannot be required")
		}
	}
	return nil
}

// Build returns the declared type or every declaration error found
func (b *TypeBuilder) Build() (*EntityType, error) {
	if !typeNamePattern.MatchString(b.t.Name) {
		b.errors = append(b.errors, fmt.Errorf("type name %q must be upper camel case", b.t.Name))
	}
	if len(b.errors) > 0 {
		var errMsgs []string
		for _, err := range b.errors {
			errMsgs = append(errMsgs, err.Error())
		}
		return nil, fmt.Errorf("type %s has %d errors:\n%s",
			b.t.Name, len(b.errors), strings.Join(errMsgs, "\n"))
	}
	return b.t, nil
}

// MustBuild is like Build but panics on error. It is meant for types
// declared in code at package initialization.
func (b *TypeBuilder) MustBuild() *EntityType {
	t, err := b.Build()
	if err != nil {
		panic(err)
	}
	return t
}

// TableName derives the default table name of a type: EntryComment becomes
// entry_comments, Entry becomes entries.
func TableName(typeName string) string {
	name := SnakeCase(typeName)
	switch {
	case strings.HasSuffix(name, "s"), strings.HasSuffix(name, "x"):
		return name + "es"
	case strings.HasSuffix(name, "y") && len(name) > 1 && !strings.ContainsRune("aeiou", rune(name[len(name)-2])):
		return name[:len(name)-1] + "ies"
	default:
		return name + "s"
	}
}

// SnakeCase converts an upper camel case identifier to snake case
func SnakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
