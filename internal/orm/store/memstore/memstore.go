// Package memstore is an in-memory store with relational semantics: owned
// associations are stored as references, inverse sides are derived on read,
// foreign keys are enforced and every update is version checked.
package memstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/conduit-lang/objgraph/internal/orm/entity"
	"github.com/conduit-lang/objgraph/internal/orm/schema"
	"github.com/conduit-lang/objgraph/internal/orm/store"
)

// Store keeps committed state as an immutable snapshot. Writers are
// serialized; each transaction works on a copy that replaces the snapshot
// when it commits.
type Store struct {
	meta    *schema.Metadata
	writeMu sync.Mutex
	mu      sync.RWMutex
	current *state
	now     func() time.Time
}

// New creates an empty store for the resolved types
func New(meta *schema.Metadata) *Store {
	st := &state{
		tables: make(map[string]map[int64]*entity.Entity),
		nextID: make(map[string]int64),
	}
	for _, t := range meta.Types() {
		st.tables[t.Name] = make(map[int64]*entity.Entity)
	}
	return &Store{meta: meta, current: st, now: time.Now}
}

func (s *Store) snapshot() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Store) reader() *view {
	return &view{store: s, st: s.snapshot()}
}

// FindByID implements store.Reader
func (s *Store) FindByID(ctx context.Context, typeName string, id int64, expand []string) (*entity.Entity, error) {
	return s.reader().FindByID(ctx, typeName, id, expand)
}

// FindByIDs implements store.Reader
func (s *Store) FindByIDs(ctx context.Context, typeName string, ids []int64, expand []string) ([]*entity.Entity, error) {
	return s.reader().FindByIDs(ctx, typeName, ids, expand)
}

// FindByExample implements store.Reader
func (s *Store) FindByExample(ctx context.Context, example *entity.Entity, expand []string) ([]*entity.Entity, error) {
	return s.reader().FindByExample(ctx, example, expand)
}

// FindAll implements store.Reader
func (s *Store) FindAll(ctx context.Context, typeName string, expand []string) ([]*entity.Entity, error) {
	return s.reader().FindAll(ctx, typeName, expand)
}

// WithTx implements store.Store
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx := &view{store: s, st: s.snapshot().clone(), writable: true}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = tx.st
	s.mu.Unlock()
	return nil
}

// state maps type name to rows by id. Rows are never mutated once placed
// in a state; writers replace them.
type state struct {
	tables map[string]map[int64]*entity.Entity
	nextID map[string]int64
}

func (st *state) clone() *state {
	c := &state{
		tables: make(map[string]map[int64]*entity.Entity, len(st.tables)),
		nextID: make(map[string]int64, len(st.nextID)),
	}
	for name, rows := range st.tables {
		copied := make(map[int64]*entity.Entity, len(rows))
		for id, row := range rows {
			copied[id] = row
		}
		c.tables[name] = copied
	}
	for name, id := range st.nextID {
		c.nextID[name] = id
	}
	return c
}

// view reads, and when writable mutates, one state
type view struct {
	store    *Store
	st       *state
	writable bool
}

func (v *view) table(typeName string) (map[int64]*entity.Entity, *schema.EntityType, error) {
	t, ok := v.store.meta.Type(typeName)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", store.ErrUnknownType, typeName)
	}
	return v.st.tables[typeName], t, nil
}

// Load implements store.Loader
func (v *view) Load(ctx context.Context, typeName string, ids []int64) (map[int64]*entity.Entity, error) {
	rows, t, err := v.table(typeName)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*entity.Entity, len(ids))
	for _, id := range ids {
		if row, ok := rows[id]; ok {
			out[id] = v.materialize(t, row)
		}
	}
	return out, nil
}

// materialize copies a stored row and derives its inverse associations
func (v *view) materialize(t *schema.EntityType, row *entity.Entity) *entity.Entity {
	e := row.Clone()
	for _, f := range t.Associations() {
		if f.MappedBy == "" {
			if _, ok := e.Associations[f.Name]; !ok {
				if f.Kind == schema.KindToMany {
					e.SetMany(f.Name, nil)
				} else {
					e.SetOne(f.Name, nil)
				}
			}
			continue
		}

		var ids []int64
		for id, other := range v.st.tables[f.Target] {
			if a, ok := other.Associations[f.MappedBy]; ok && containsID(a.Refs, row.ID) {
				ids = append(ids, id)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		if f.Kind == schema.KindToMany {
			refs := make([]entity.Ref, len(ids))
			for i, id := range ids {
				refs[i] = entity.Unloaded(id)
			}
			e.SetMany(f.Name, refs)
		} else if len(ids) > 0 {
			ref := entity.Unloaded(ids[0])
			e.SetOne(f.Name, &ref)
		} else {
			e.SetOne(f.Name, nil)
		}
	}
	return e
}

func (v *view) find(ctx context.Context, typeName string, ids []int64, expand []string) ([]*entity.Entity, error) {
	loaded, err := v.Load(ctx, typeName, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*entity.Entity, 0, len(loaded))
	for _, id := range ids {
		if e, ok := loaded[id]; ok {
			out = append(out, e)
		}
	}
	if err := store.Expand(ctx, v.store.meta, v, out, expand); err != nil {
		return nil, err
	}
	return out, nil
}

func (v *view) FindByID(ctx context.Context, typeName string, id int64, expand []string) (*entity.Entity, error) {
	found, err := v.find(ctx, typeName, []int64{id}, expand)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, store.NotFound(typeName, id)
	}
	return found[0], nil
}

func (v *view) FindByIDs(ctx context.Context, typeName string, ids []int64, expand []string) ([]*entity.Entity, error) {
	return v.find(ctx, typeName, ids, expand)
}

func (v *view) FindByExample(ctx context.Context, example *entity.Entity, expand []string) ([]*entity.Entity, error) {
	rows, t, err := v.table(example.Type)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for id, row := range rows {
		if matches(t, row, example) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return v.find(ctx, example.Type, ids, expand)
}

func (v *view) FindAll(ctx context.Context, typeName string, expand []string) ([]*entity.Entity, error) {
	rows, _, err := v.table(typeName)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return v.find(ctx, typeName, ids, expand)
}

func (v *view) PersistNew(ctx context.Context, e *entity.Entity) (*entity.Entity, error) {
	if !v.writable {
		return nil, fmt.Errorf("persist outside of a transaction")
	}
	rows, t, err := v.table(e.Type)
	if err != nil {
		return nil, err
	}
	if e.ID > 0 {
		return nil, fmt.Errorf("cannot persist %s with assigned id %d", e.Type, e.ID)
	}

	row := entity.New(e.Type)
	if err := v.assign(t, row, e); err != nil {
		return nil, err
	}

	v.st.nextID[e.Type]++
	now := v.store.now().UTC()
	row.ID = v.st.nextID[e.Type]
	row.Version = 1
	row.CreatedAt = now
	row.UpdatedAt = now
	rows[row.ID] = row

	return v.materialize(t, row), nil
}

func (v *view) Update(ctx context.Context, e *entity.Entity, expectedVersion int64) (*entity.Entity, error) {
	if !v.writable {
		return nil, fmt.Errorf("update outside of a transaction")
	}
	rows, t, err := v.table(e.Type)
	if err != nil {
		return nil, err
	}
	current, ok := rows[e.ID]
	if !ok {
		return nil, store.NotFound(e.Type, e.ID)
	}
	if current.Version != expectedVersion {
		return nil, store.StaleVersion(e.Type, e.ID, expectedVersion)
	}

	row := current.Clone()
	if err := v.assign(t, row, e); err != nil {
		return nil, err
	}
	row.Version = current.Version + 1
	row.UpdatedAt = v.store.now().UTC()
	rows[row.ID] = row

	return v.materialize(t, row), nil
}

func (v *view) Delete(ctx context.Context, typeName string, id int64) error {
	if !v.writable {
		return fmt.Errorf("delete outside of a transaction")
	}
	rows, _, err := v.table(typeName)
	if err != nil {
		return err
	}
	if _, ok := rows[id]; !ok {
		return store.NotFound(typeName, id)
	}

	for _, t := range v.store.meta.Types() {
		for _, f := range t.Associations() {
			if f.MappedBy != "" || f.Target != typeName {
				continue
			}
			for otherID, other := range v.st.tables[t.Name] {
				if t.Name == typeName && otherID == id {
					continue
				}
				if a, ok := other.Associations[f.Name]; ok && containsID(a.Refs, id) {
					return fmt.Errorf("%w: %s %d is referenced by %s.%s of %d",
						store.ErrForeignKeyViolation, typeName, id, t.Name, f.Name, otherID)
				}
			}
		}
	}

	delete(rows, id)
	return nil
}

// assign copies the declared scalars and owned associations supplied on src
// onto row, checking that referenced rows exist
func (v *view) assign(t *schema.EntityType, row, src *entity.Entity) error {
	for _, f := range t.Scalars() {
		if value, ok := src.Attributes[f.Name]; ok {
			row.Attributes[f.Name] = value
		}
	}
	for _, f := range t.Associations() {
		if f.MappedBy != "" {
			continue
		}
		a, ok := src.Associations[f.Name]
		if !ok {
			continue
		}
		refs := make([]entity.Ref, 0, len(a.Refs))
		seen := make(map[int64]bool)
		for _, r := range a.Refs {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			if _, exists := v.st.tables[f.Target][r.ID]; !exists && !(f.Target == t.Name && r.ID == row.ID && row.ID > 0) {
				return fmt.Errorf("%w: %s.%s references missing %s %d",
					store.ErrForeignKeyViolation, t.Name, f.Name, f.Target, r.ID)
			}
			refs = append(refs, entity.Unloaded(r.ID))
		}
		if f.Kind == schema.KindToMany {
			row.SetMany(f.Name, refs)
		} else if len(refs) > 0 {
			row.SetOne(f.Name, &refs[0])
		} else {
			row.SetOne(f.Name, nil)
		}
	}
	return nil
}

func matches(t *schema.EntityType, row, example *entity.Entity) bool {
	for _, f := range t.Scalars() {
		want, ok := example.Attributes[f.Name]
		if !ok || want == nil {
			continue
		}
		if !equalValues(row.Attributes[f.Name], want) {
			return false
		}
	}
	for _, f := range t.Associations() {
		if f.Kind != schema.KindToOne || f.MappedBy != "" {
			continue
		}
		want, ok := example.One(f.Name)
		if !ok {
			continue
		}
		got, ok := row.One(f.Name)
		if !ok || got.ID != want.ID {
			return false
		}
	}
	return true
}

func equalValues(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

func containsID(refs []entity.Ref, id int64) bool {
	for _, r := range refs {
		if r.ID == id {
			return true
		}
	}
	return false
}
