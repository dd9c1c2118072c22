// Package entity defines the in-memory representation of persistent entities
// shared by the codec, the stores and the commit orchestrator.
package entity

import "time"

// Base holds the fields every persistent entity carries.
type Base struct {
	ID        int64
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsTemporary reports whether the id was assigned by a client and has not
// been persisted yet.
func (b Base) IsTemporary() bool {
	return b.ID < 0
}

// IsNew reports whether the entity has no store-assigned id.
func (b Base) IsNew() bool {
	return b.ID <= 0
}

// Key identifies an entity instance across types
type Key struct {
	Type string
	ID   int64
}

// Entity is a single instance of a registered entity type.
//
// Attributes holds scalar values keyed by field name. A missing key means the
// field was not supplied; a key mapped to nil means the value is null.
// Associations follow the same convention: a present association with no refs
// has been explicitly cleared.
type Entity struct {
	Base
	Type         string
	Unauthorized bool
	Attributes   map[string]any
	Associations map[string]*Association
}

// New creates an empty entity of the given type
func New(typeName string) *Entity {
	return &Entity{
		Type:         typeName,
		Attributes:   make(map[string]any),
		Associations: make(map[string]*Association),
	}
}

// Placeholder creates an entity carrying only its type and id.
func Placeholder(typeName string, id int64) *Entity {
	e := New(typeName)
	e.ID = id
	return e
}

// UnauthorizedPlaceholder creates the redacted stand-in for an entity the
// caller may not read.
func UnauthorizedPlaceholder(typeName string, id int64) *Entity {
	return &Entity{
		Base:         Base{ID: id},
		Type:         typeName,
		Unauthorized: true,
	}
}

// Key returns the type/id key of the entity
func (e *Entity) Key() Key {
	return Key{Type: e.Type, ID: e.ID}
}

// Get returns a scalar attribute and whether it was supplied
func (e *Entity) Get(name string) (any, bool) {
	v, ok := e.Attributes[name]
	return v, ok
}

// Set assigns a scalar attribute
func (e *Entity) Set(name string, value any) {
	if e.Attributes == nil {
		e.Attributes = make(map[string]any)
	}
	e.Attributes[name] = value
}

// Association returns the named association and whether it was supplied
func (e *Entity) Association(name string) (*Association, bool) {
	a, ok := e.Associations[name]
	return a, ok
}

// SetOne assigns a to-one association. A nil ref clears it.
func (e *Entity) SetOne(name string, ref *Ref) {
	a := &Association{}
	if ref != nil {
		a.Refs = []Ref{*ref}
	}
	e.setAssociation(name, a)
}

// SetMany assigns a to-many association
func (e *Entity) SetMany(name string, refs []Ref) {
	if refs == nil {
		refs = []Ref{}
	}
	e.setAssociation(name, &Association{Many: true, Refs: refs})
}

func (e *Entity) setAssociation(name string, a *Association) {
	if e.Associations == nil {
		e.Associations = make(map[string]*Association)
	}
	e.Associations[name] = a
}

// One returns the single reference held by a to-one association
func (e *Entity) One(name string) (Ref, bool) {
	a, ok := e.Associations[name]
	if !ok || len(a.Refs) == 0 {
		return Ref{}, false
	}
	return a.Refs[0], true
}

// Clone returns a copy that shares no maps or slices with e. Loaded
// references are reduced to their ids so the copy never aliases other
// entities.
func (e *Entity) Clone() *Entity {
	c := &Entity{
		Base:         e.Base,
		Type:         e.Type,
		Unauthorized: e.Unauthorized,
		Attributes:   make(map[string]any, len(e.Attributes)),
		Associations: make(map[string]*Association, len(e.Associations)),
	}
	for k, v := range e.Attributes {
		c.Attributes[k] = v
	}
	for k, a := range e.Associations {
		refs := make([]Ref, len(a.Refs))
		for i, r := range a.Refs {
			refs[i] = Unloaded(r.ID)
		}
		c.Associations[k] = &Association{Many: a.Many, Refs: refs}
	}
	return c
}

// Ref is a reference from one entity to another. It is either Unloaded,
// carrying only the id, or Loaded with the referenced instance.
type Ref struct {
	ID     int64
	Target *Entity
}

// Unloaded creates a reference that carries only an id
func Unloaded(id int64) Ref {
	return Ref{ID: id}
}

// Loaded creates a reference to a fetched instance
func Loaded(e *Entity) Ref {
	return Ref{ID: e.ID, Target: e}
}

// IsLoaded reports whether the referenced instance is available
func (r Ref) IsLoaded() bool {
	return r.Target != nil
}

// Association is the value of a to-one or to-many field.
type Association struct {
	Many bool
	Refs []Ref
}

// IDs returns the referenced ids in order
func (a *Association) IDs() []int64 {
	ids := make([]int64, len(a.Refs))
	for i, r := range a.Refs {
		ids[i] = r.ID
	}
	return ids
}

// Empty reports whether the association references nothing
func (a *Association) Empty() bool {
	return a == nil || len(a.Refs) == 0
}
