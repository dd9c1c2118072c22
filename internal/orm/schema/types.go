// Package schema holds the statically declared entity types and resolves
// them once at startup into immutable Metadata: association ownership and a
// dependency-safe insertion order across all types.
package schema

import (
	"github.com/conduit-lang/objgraph/internal/auth"
	"github.com/conduit-lang/objgraph/internal/orm/entity"
)

// FieldKind distinguishes scalars, associations and virtual attributes
type FieldKind int

const (
	// KindScalar is a value stored on the entity itself
	KindScalar FieldKind = iota
	// KindToOne references at most one other entity
	KindToOne
	// KindToMany references a set of entities
	KindToMany
	// KindVirtual is computed on serialization and never stored
	KindVirtual
)

// String returns the string representation of the field kind
func (k FieldKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindToOne:
		return "to_one"
	case KindToMany:
		return "to_many"
	case KindVirtual:
		return "virtual"
	default:
		return "unknown"
	}
}

// ScalarType is the value type of a scalar or virtual field
type ScalarType string

const (
	TypeString    ScalarType = "string"
	TypeText      ScalarType = "text"
	TypeInt       ScalarType = "int"
	TypeFloat     ScalarType = "float"
	TypeBool      ScalarType = "bool"
	TypeTimestamp ScalarType = "timestamp"
	TypeJSON      ScalarType = "json"
)

// Valid reports whether t is a known scalar type
func (t ScalarType) Valid() bool {
	switch t {
	case TypeString, TypeText, TypeInt, TypeFloat, TypeBool, TypeTimestamp, TypeJSON:
		return true
	}
	return false
}

// IsText reports whether values of t are strings
func (t ScalarType) IsText() bool {
	return t == TypeString || t == TypeText
}

// IsNumeric reports whether values of t are numbers
func (t ScalarType) IsNumeric() bool {
	return t == TypeInt || t == TypeFloat
}

// FetchPolicy controls whether an association is inlined by default
type FetchPolicy int

const (
	// FetchLazy associations serialize as reference tokens unless included
	FetchLazy FetchPolicy = iota
	// FetchEager associations are always loaded and inlined
	FetchEager
)

// String returns the string representation of the fetch policy
func (f FetchPolicy) String() string {
	if f == FetchEager {
		return "eager"
	}
	return "lazy"
}

// Constraints restrict the values a field accepts. Min and Max bound numeric
// values; MinLength and MaxLength bound text length in characters.
type Constraints struct {
	Required  bool
	Min       *float64
	Max       *float64
	MinLength *int
	MaxLength *int
	Pattern   string
}

// VirtualFunc computes a virtual attribute from a loaded entity
type VirtualFunc func(e *entity.Entity) any

// Field describes one field of an entity type
type Field struct {
	Name        string
	Kind        FieldKind
	Scalar      ScalarType
	Constraints Constraints

	// Association settings
	Target   string
	Fetch    FetchPolicy
	MappedBy string

	Virtual VirtualFunc

	// Hidden fields are stored but never serialized
	Hidden bool
}

// IsAssociation reports whether the field references other entities
func (f *Field) IsAssociation() bool {
	return f.Kind == KindToOne || f.Kind == KindToMany
}

// IsEager reports whether the association is always inlined
func (f *Field) IsEager() bool {
	return f.IsAssociation() && f.Fetch == FetchEager
}

// EntityType is a named schema with an ordered set of fields
type EntityType struct {
	Name   string
	Table  string
	Fields []*Field

	// Policy restricts access to instances. Nil means unrestricted.
	Policy auth.Policy
	// PolicyExpand lists association paths the policy needs loaded
	PolicyExpand []string

	index map[string]*Field
}

// Field returns the named field
func (t *EntityType) Field(name string) (*Field, bool) {
	f, ok := t.index[name]
	return f, ok
}

// Scalars returns the stored scalar fields in declaration order
func (t *EntityType) Scalars() []*Field {
	return t.fieldsOf(KindScalar)
}

// Associations returns the association fields in declaration order
func (t *EntityType) Associations() []*Field {
	var out []*Field
	for _, f := range t.Fields {
		if f.IsAssociation() {
			out = append(out, f)
		}
	}
	return out
}

// Virtuals returns the virtual attributes in declaration order
func (t *EntityType) Virtuals() []*Field {
	return t.fieldsOf(KindVirtual)
}

func (t *EntityType) fieldsOf(kind FieldKind) []*Field {
	var out []*Field
	for _, f := range t.Fields {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}
