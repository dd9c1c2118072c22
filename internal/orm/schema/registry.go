package schema

import (
	"fmt"
	"strings"
	"sync"

	"github.com/conduit-lang/objgraph/internal/auth"
)

// Registry collects entity types before they are resolved
type Registry struct {
	types  []*EntityType
	byName map[string]*EntityType
	mu     sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*EntityType)}
}

// Register adds entity types in order. Registration order is the tie-break
// for types the ownership graph leaves unordered.
func (r *Registry) Register(types ...*EntityType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range types {
		if t == nil {
			return fmt.Errorf("cannot register nil entity type")
		}
		if _, exists := r.byName[t.Name]; exists {
			return fmt.Errorf("entity type %s is already registered", t.Name)
		}
		r.byName[t.Name] = t
		r.types = append(r.types, t)
	}
	return nil
}

// Get retrieves a registered type by name
func (r *Registry) Get(name string) (*EntityType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byName[name]
	return t, ok
}

// List returns the registered type names in registration order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.types))
	for i, t := range r.types {
		names[i] = t.Name
	}
	return names
}

// Resolve validates the cross-type references of every registered type and
// computes ownership and insertion order. It fails on dangling targets,
// inconsistent inverse declarations and ownership cycles between types.
func (r *Registry) Resolve() (*Metadata, error) {
	r.mu.RLock()
	types := append([]*EntityType(nil), r.types...)
	r.mu.RUnlock()

	if len(types) == 0 {
		return nil, fmt.Errorf("no entity types registered")
	}

	m := &Metadata{
		types:   types,
		byName:  make(map[string]*EntityType, len(types)),
		rank:    make(map[string]int, len(types)),
		inverse: make(map[fieldKey]*Field),
	}
	for _, t := range types {
		m.byName[t.Name] = t
	}

	var errs []string
	for _, t := range types {
		for _, f := range t.Associations() {
			if err := m.linkAssociation(t, f); err != nil {
				errs = append(errs, fmt.Sprintf("%s.%s: %v", t.Name, f.Name, err))
			}
		}
		for _, path := range t.PolicyExpand {
			if err := m.validatePath(t, path); err != nil {
				errs = append(errs, fmt.Sprintf("%s policy expand %q: %v", t.Name, path, err))
			}
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("schema resolution failed with %d errors:\n%s",
			len(errs), strings.Join(errs, "\n"))
	}

	order, err := newOwnershipGraph(types).insertionOrder()
	if err != nil {
		return nil, err
	}
	for i, name := range order {
		t := m.byName[name]
		m.order = append(m.order, t)
		m.rank[name] = i
	}

	return m, nil
}

func (m *Metadata) linkAssociation(t *EntityType, f *Field) error {
	target, ok := m.byName[f.Target]
	if !ok {
		return fmt.Errorf("unknown target type %s", f.Target)
	}
	if f.MappedBy == "" {
		return nil
	}

	owner, ok := target.Field(f.MappedBy)
	if !ok || !owner.IsAssociation() {
		return fmt.Errorf("mapped by %s.%s which is not an association", target.Name, f.MappedBy)
	}
	if owner.Target != t.Name {
		return fmt.Errorf("mapped by %s.%s which targets %s", target.Name, f.MappedBy, owner.Target)
	}
	if owner.MappedBy != "" {
		return fmt.Errorf("mapped by %s.%s which is itself an inverse side", target.Name, f.MappedBy)
	}
	if prev, exists := m.inverse[fieldKey{target.Name, owner.Name}]; exists {
		return fmt.Errorf("%s.%s already has inverse %s", target.Name, owner.Name, prev.Name)
	}

	m.inverse[fieldKey{t.Name, f.Name}] = owner
	m.inverse[fieldKey{target.Name, owner.Name}] = f
	return nil
}

func (m *Metadata) validatePath(t *EntityType, path string) error {
	current := t
	for _, segment := range strings.Split(path, ".") {
		f, ok := current.Field(segment)
		if !ok || !f.IsAssociation() {
			return fmt.Errorf("%s is not an association of %s", segment, current.Name)
		}
		current = m.byName[f.Target]
		if current == nil {
			return fmt.Errorf("unknown target type %s", f.Target)
		}
	}
	return nil
}

type fieldKey struct {
	typ   string
	field string
}

// Metadata is the resolved, read-only view of all entity types. It is safe
// for concurrent use.
type Metadata struct {
	types   []*EntityType
	byName  map[string]*EntityType
	order   []*EntityType
	rank    map[string]int
	inverse map[fieldKey]*Field
}

// Type returns the named entity type
func (m *Metadata) Type(name string) (*EntityType, bool) {
	t, ok := m.byName[name]
	return t, ok
}

// Types returns all types in registration order
func (m *Metadata) Types() []*EntityType {
	return append([]*EntityType(nil), m.types...)
}

// InsertionOrder returns all types ordered so that every type follows the
// targets of its owned associations
func (m *Metadata) InsertionOrder() []*EntityType {
	return append([]*EntityType(nil), m.order...)
}

// Rank returns the position of the type in the insertion order, or -1
func (m *Metadata) Rank(name string) int {
	r, ok := m.rank[name]
	if !ok {
		return -1
	}
	return r
}

// Owns reports whether the type holds the storage for the association:
// a foreign key column for to-one fields, a join table for to-many fields.
func (m *Metadata) Owns(typeName, field string) bool {
	t, ok := m.byName[typeName]
	if !ok {
		return false
	}
	f, ok := t.Field(field)
	return ok && f.IsAssociation() && f.MappedBy == ""
}

// Inverse returns the field on the target type that forms the other end of
// a bidirectional association
func (m *Metadata) Inverse(typeName, field string) (*Field, bool) {
	f, ok := m.inverse[fieldKey{typeName, field}]
	return f, ok
}

// PolicyFor implements auth.PolicySource
func (m *Metadata) PolicyFor(typeName string) auth.Policy {
	t, ok := m.byName[typeName]
	if !ok {
		return nil
	}
	return t.Policy
}

// Definition describes the wire fields of a type, mapping each field name to
// its scalar type or, for associations, its target type. To-many targets are
// prefixed with "[]".
func (m *Metadata) Definition(typeName string) (map[string]string, bool) {
	t, ok := m.byName[typeName]
	if !ok {
		return nil, false
	}

	def := map[string]string{
		"id":         string(TypeInt),
		"version":    string(TypeInt),
		"created_at": string(TypeTimestamp),
		"updated_at": string(TypeTimestamp),
	}
	for _, f := range t.Fields {
		if f.Hidden {
			continue
		}
		switch f.Kind {
		case KindToOne:
			def[f.Name] = f.Target
		case KindToMany:
			def[f.Name] = "[]" + f.Target
		default:
			def[f.Name] = string(f.Scalar)
		}
	}
	return def, true
}

// Definitions describes every registered type
func (m *Metadata) Definitions() map[string]map[string]string {
	out := make(map[string]map[string]string, len(m.types))
	for _, t := range m.types {
		out[t.Name], _ = m.Definition(t.Name)
	}
	return out
}
