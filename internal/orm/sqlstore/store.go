// Package sqlstore implements the entity store on database/sql for
// PostgreSQL (pgx or lib/pq) and SQLite (go-sqlite3).
//
// Each entity type maps to one table holding its scalars and a foreign key
// column per owned to-one association. Owned to-many associations live in
// join tables named <table>_<field>. Inverse sides are never stored.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"github.com/conduit-lang/objgraph/internal/orm/entity"
	"github.com/conduit-lang/objgraph/internal/orm/schema"
	"github.com/conduit-lang/objgraph/internal/orm/store"
)

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a store.Store backed by a SQL database
type Store struct {
	db      *sql.DB
	meta    *schema.Metadata
	dialect Dialect
	layouts map[string]*tableLayout
	txm     *TxManager
	now     func() time.Time
}

// Open opens a database handle for one of the supported drivers
func Open(driver, url string) (*sql.DB, Dialect, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, nil, err
	}
	if dialect == SQLite && !strings.Contains(url, "_foreign_keys") {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "_foreign_keys=on"
	}

	db, err := sql.Open(driver, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == SQLite {
		// SQLite allows a single writer
		db.SetMaxOpenConns(1)
	}
	return db, dialect, nil
}

// New creates a store over an open database
func New(db *sql.DB, meta *schema.Metadata, dialect Dialect) *Store {
	s := &Store{
		db:      db,
		meta:    meta,
		dialect: dialect,
		layouts: make(map[string]*tableLayout),
		txm:     NewTxManager(db, sql.LevelReadCommitted),
		now:     time.Now,
	}
	for _, t := range meta.Types() {
		s.layouts[t.Name] = newLayout(t)
	}
	return s
}

func (s *Store) session(q querier, writable bool) *session {
	return &session{store: s, q: q, writable: writable}
}

// FindByID implements store.Reader
func (s *Store) FindByID(ctx context.Context, typeName string, id int64, expand []string) (*entity.Entity, error) {
	return s.session(s.db, false).FindByID(ctx, typeName, id, expand)
}

// FindByIDs implements store.Reader
func (s *Store) FindByIDs(ctx context.Context, typeName string, ids []int64, expand []string) ([]*entity.Entity, error) {
	return s.session(s.db, false).FindByIDs(ctx, typeName, ids, expand)
}

// FindByExample implements store.Reader
func (s *Store) FindByExample(ctx context.Context, example *entity.Entity, expand []string) ([]*entity.Entity, error) {
	return s.session(s.db, false).FindByExample(ctx, example, expand)
}

// FindAll implements store.Reader
func (s *Store) FindAll(ctx context.Context, typeName string, expand []string) ([]*entity.Entity, error) {
	return s.session(s.db, false).FindAll(ctx, typeName, expand)
}

// WithTx implements store.Store
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.txm.WithTransaction(ctx, func(tx *sql.Tx) error {
		return fn(ctx, s.session(tx, true))
	})
}

// session runs store operations on a database handle or transaction
type session struct {
	store    *Store
	q        querier
	writable bool
}

func (s *session) layout(typeName string) (*tableLayout, error) {
	l, ok := s.store.layouts[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownType, typeName)
	}
	return l, nil
}

// binder accumulates bind arguments and renders their placeholders
type binder struct {
	dialect Dialect
	values  []any
}

func (b *binder) bind(v any) string {
	b.values = append(b.values, v)
	return b.dialect.Placeholder(len(b.values))
}

func (b *binder) bindIDs(ids []int64) string {
	ph := make([]string, len(ids))
	for i, id := range ids {
		ph[i] = b.bind(id)
	}
	return strings.Join(ph, ", ")
}

func quote(ident string) string {
	return `"` + ident + `"`
}

func quoteAll(idents []string) string {
	quoted := make([]string, len(idents))
	for i, id := range idents {
		quoted[i] = quote(id)
	}
	return strings.Join(quoted, ", ")
}

// Load implements store.Loader
func (s *session) Load(ctx context.Context, typeName string, ids []int64) (map[int64]*entity.Entity, error) {
	l, err := s.layout(typeName)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*entity.Entity, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	b := &binder{dialect: s.store.dialect}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s) ORDER BY %s",
		quoteAll(l.columns()), quote(l.table), quote("id"), b.bindIDs(ids), quote("id"))

	rows, err := s.q.QueryContext(ctx, query, b.values...)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := s.scanEntity(rows, l)
		if err != nil {
			return nil, err
		}
		out[e.ID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, ConvertDBError(err)
	}
	if len(out) == 0 {
		return out, nil
	}

	found := make([]int64, 0, len(out))
	for _, id := range ids {
		if _, ok := out[id]; ok {
			found = append(found, id)
		}
	}
	for _, f := range l.joins {
		if err := s.loadJoin(ctx, l, f, found, out); err != nil {
			return nil, err
		}
	}
	for _, f := range l.typ.Associations() {
		if f.MappedBy == "" {
			continue
		}
		if err := s.loadInverse(ctx, l, f, found, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *session) scanEntity(rows *sql.Rows, l *tableLayout) (*entity.Entity, error) {
	cols := l.columns()
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, ConvertDBError(err)
	}

	e := entity.New(l.typ.Name)
	var ok bool
	if e.ID, ok = toInt64(values[0]); !ok {
		return nil, fmt.Errorf("%s: unexpected id value %T", l.table, values[0])
	}
	if e.Version, ok = toInt64(values[1]); !ok {
		return nil, fmt.Errorf("%s: unexpected version value %T", l.table, values[1])
	}
	for i, dst := range []*time.Time{&e.CreatedAt, &e.UpdatedAt} {
		ts, err := fromDB(schema.TypeTimestamp, values[2+i])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", l.table, baseColumns[2+i], err)
		}
		if ts != nil {
			*dst = ts.(time.Time)
		}
	}

	pos := len(baseColumns)
	for _, f := range l.scalars {
		v, err := fromDB(f.Scalar, values[pos])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", l.table, f.Name, err)
		}
		e.Attributes[f.Name] = v
		pos++
	}
	for _, f := range l.foreignKey {
		if id, ok := toInt64(values[pos]); ok {
			ref := entity.Unloaded(id)
			e.SetOne(f.Name, &ref)
		} else {
			e.SetOne(f.Name, nil)
		}
		pos++
	}
	for _, f := range l.joins {
		e.SetMany(f.Name, nil)
	}
	return e, nil
}

func (s *session) loadJoin(ctx context.Context, l *tableLayout, f *schema.Field, ids []int64, out map[int64]*entity.Entity) error {
	b := &binder{dialect: s.store.dialect}
	query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IN (%s) ORDER BY %s, %s",
		quote("owner_id"), quote("target_id"), quote(joinTable(l.typ, f)),
		quote("owner_id"), b.bindIDs(ids), quote("owner_id"), quote("target_id"))

	pairs, err := s.queryPairs(ctx, query, b.values)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		a := out[p[0]].Associations[f.Name]
		a.Refs = append(a.Refs, entity.Unloaded(p[1]))
	}
	return nil
}

// loadInverse derives the inverse side f of an association from the
// storage of its owning field on the target type
func (s *session) loadInverse(ctx context.Context, l *tableLayout, f *schema.Field, ids []int64, out map[int64]*entity.Entity) error {
	owner, ok := s.store.meta.Inverse(l.typ.Name, f.Name)
	if !ok {
		return fmt.Errorf("%s.%s has no owning side", l.typ.Name, f.Name)
	}
	targetLayout, err := s.layout(f.Target)
	if err != nil {
		return err
	}

	b := &binder{dialect: s.store.dialect}
	var query string
	if owner.Kind == schema.KindToOne {
		fk := fkColumn(owner)
		query = fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IN (%s) ORDER BY %s, %s",
			quote(fk), quote("id"), quote(targetLayout.table),
			quote(fk), b.bindIDs(ids), quote(fk), quote("id"))
	} else {
		query = fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IN (%s) ORDER BY %s, %s",
			quote("target_id"), quote("owner_id"), quote(joinTable(targetLayout.typ, owner)),
			quote("target_id"), b.bindIDs(ids), quote("target_id"), quote("owner_id"))
	}

	pairs, err := s.queryPairs(ctx, query, b.values)
	if err != nil {
		return err
	}

	refs := make(map[int64][]entity.Ref)
	for _, p := range pairs {
		refs[p[0]] = append(refs[p[0]], entity.Unloaded(p[1]))
	}
	for _, id := range ids {
		e := out[id]
		if f.Kind == schema.KindToMany {
			e.SetMany(f.Name, refs[id])
		} else if r := refs[id]; len(r) > 0 {
			e.SetOne(f.Name, &r[0])
		} else {
			e.SetOne(f.Name, nil)
		}
	}
	return nil
}

func (s *session) queryPairs(ctx context.Context, query string, args []any) ([][2]int64, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	defer rows.Close()

	var pairs [][2]int64
	for rows.Next() {
		var p [2]int64
		if err := rows.Scan(&p[0], &p[1]); err != nil {
			return nil, ConvertDBError(err)
		}
		pairs = append(pairs, p)
	}
	return pairs, ConvertDBError(rows.Err())
}

func (s *session) queryIDs(ctx context.Context, query string, args []any) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, ConvertDBError(err)
		}
		ids = append(ids, id)
	}
	return ids, ConvertDBError(rows.Err())
}

func (s *session) find(ctx context.Context, typeName string, ids []int64, expand []string) ([]*entity.Entity, error) {
	loaded, err := s.Load(ctx, typeName, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*entity.Entity, 0, len(loaded))
	for _, id := range ids {
		if e, ok := loaded[id]; ok {
			out = append(out, e)
		}
	}
	if err := store.Expand(ctx, s.store.meta, s, out, expand); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *session) FindByID(ctx context.Context, typeName string, id int64, expand []string) (*entity.Entity, error) {
	found, err := s.find(ctx, typeName, []int64{id}, expand)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, store.NotFound(typeName, id)
	}
	return found[0], nil
}

func (s *session) FindByIDs(ctx context.Context, typeName string, ids []int64, expand []string) ([]*entity.Entity, error) {
	return s.find(ctx, typeName, ids, expand)
}

func (s *session) FindByExample(ctx context.Context, example *entity.Entity, expand []string) ([]*entity.Entity, error) {
	l, err := s.layout(example.Type)
	if err != nil {
		return nil, err
	}

	b := &binder{dialect: s.store.dialect}
	var conds []string
	for _, f := range l.scalars {
		v, ok := example.Attributes[f.Name]
		if !ok || v == nil {
			continue
		}
		dbv, err := toDB(f.Scalar, v)
		if err != nil {
			return nil, err
		}
		conds = append(conds, fmt.Sprintf("%s = %s", quote(f.Name), b.bind(dbv)))
	}
	for _, f := range l.foreignKey {
		if r, ok := example.One(f.Name); ok {
			conds = append(conds, fmt.Sprintf("%s = %s", quote(fkColumn(f)), b.bind(r.ID)))
		}
	}

	query := fmt.Sprintf("SELECT %s FROM %s", quote("id"), quote(l.table))
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY " + quote("id")

	ids, err := s.queryIDs(ctx, query, b.values)
	if err != nil {
		return nil, err
	}
	return s.find(ctx, example.Type, ids, expand)
}

func (s *session) FindAll(ctx context.Context, typeName string, expand []string) ([]*entity.Entity, error) {
	l, err := s.layout(typeName)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", quote("id"), quote(l.table), quote("id"))
	ids, err := s.queryIDs(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	return s.find(ctx, typeName, ids, expand)
}

func (s *session) PersistNew(ctx context.Context, e *entity.Entity) (*entity.Entity, error) {
	if !s.writable {
		return nil, fmt.Errorf("persist outside of a transaction")
	}
	l, err := s.layout(e.Type)
	if err != nil {
		return nil, err
	}
	if e.ID > 0 {
		return nil, fmt.Errorf("cannot persist %s with assigned id %d", e.Type, e.ID)
	}

	now := s.store.now().UTC()
	b := &binder{dialect: s.store.dialect}
	cols := []string{"version", "created_at", "updated_at"}
	ph := []string{b.bind(int64(1)), b.bind(now), b.bind(now)}

	assigned, err := s.assignments(l, e, b)
	if err != nil {
		return nil, err
	}
	for _, a := range assigned {
		cols = append(cols, a.column)
		ph = append(ph, a.placeholder)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		quote(l.table), quoteAll(cols), strings.Join(ph, ", "), quote("id"))

	var id int64
	if err := s.q.QueryRowContext(ctx, query, b.values...).Scan(&id); err != nil {
		return nil, fmt.Errorf("failed to insert %s: %w", e.Type, ConvertDBError(err))
	}

	if err := s.writeJoins(ctx, l, id, e, false); err != nil {
		return nil, err
	}
	return s.FindByID(ctx, e.Type, id, nil)
}

func (s *session) Update(ctx context.Context, e *entity.Entity, expectedVersion int64) (*entity.Entity, error) {
	if !s.writable {
		return nil, fmt.Errorf("update outside of a transaction")
	}
	l, err := s.layout(e.Type)
	if err != nil {
		return nil, err
	}

	b := &binder{dialect: s.store.dialect}
	sets := []string{
		fmt.Sprintf("%s = %s + 1", quote("version"), quote("version")),
		fmt.Sprintf("%s = %s", quote("updated_at"), b.bind(s.store.now().UTC())),
	}
	assigned, err := s.assignments(l, e, b)
	if err != nil {
		return nil, err
	}
	for _, a := range assigned {
		sets = append(sets, fmt.Sprintf("%s = %s", quote(a.column), a.placeholder))
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s AND %s = %s",
		quote(l.table), strings.Join(sets, ", "),
		quote("id"), b.bind(e.ID), quote("version"), b.bind(expectedVersion))

	result, err := s.q.ExecContext(ctx, query, b.values...)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s %d: %w", e.Type, e.ID, ConvertDBError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		exists, err := s.exists(ctx, l, e.ID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, store.NotFound(e.Type, e.ID)
		}
		return nil, store.StaleVersion(e.Type, e.ID, expectedVersion)
	}

	if err := s.writeJoins(ctx, l, e.ID, e, true); err != nil {
		return nil, err
	}
	return s.FindByID(ctx, e.Type, e.ID, nil)
}

func (s *session) Delete(ctx context.Context, typeName string, id int64) error {
	if !s.writable {
		return fmt.Errorf("delete outside of a transaction")
	}
	l, err := s.layout(typeName)
	if err != nil {
		return err
	}

	for _, f := range l.joins {
		query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
			quote(joinTable(l.typ, f)), quote("owner_id"), s.store.dialect.Placeholder(1))
		if _, err := s.q.ExecContext(ctx, query, id); err != nil {
			return fmt.Errorf("failed to delete %s.%s links: %w", typeName, f.Name, ConvertDBError(err))
		}
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		quote(l.table), quote("id"), s.store.dialect.Placeholder(1))
	result, err := s.q.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %d: %w", typeName, id, ConvertDBError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.NotFound(typeName, id)
	}
	return nil
}

func (s *session) exists(ctx context.Context, l *tableLayout, id int64) (bool, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s",
		quote(l.table), quote("id"), s.store.dialect.Placeholder(1))
	var n int64
	if err := s.q.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
		return false, ConvertDBError(err)
	}
	return n > 0, nil
}

type assignment struct {
	column      string
	placeholder string
}

// assignments binds the supplied scalars and owned to-one references of e
func (s *session) assignments(l *tableLayout, e *entity.Entity, b *binder) ([]assignment, error) {
	var out []assignment
	for _, f := range l.scalars {
		v, ok := e.Attributes[f.Name]
		if !ok {
			continue
		}
		dbv, err := toDB(f.Scalar, v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", e.Type, f.Name, err)
		}
		out = append(out, assignment{column: f.Name, placeholder: b.bind(dbv)})
	}
	for _, f := range l.foreignKey {
		a, ok := e.Associations[f.Name]
		if !ok {
			continue
		}
		var v any
		if len(a.Refs) > 0 {
			v = a.Refs[0].ID
		}
		out = append(out, assignment{column: fkColumn(f), placeholder: b.bind(v)})
	}
	return out, nil
}

// writeJoins stores the supplied owned to-many associations of e. Existing
// links are replaced when replace is set.
func (s *session) writeJoins(ctx context.Context, l *tableLayout, id int64, e *entity.Entity, replace bool) error {
	d := s.store.dialect
	for _, f := range l.joins {
		a, ok := e.Associations[f.Name]
		if !ok {
			continue
		}
		table := quote(joinTable(l.typ, f))
		if replace {
			query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", table, quote("owner_id"), d.Placeholder(1))
			if _, err := s.q.ExecContext(ctx, query, id); err != nil {
				return fmt.Errorf("failed to clear %s.%s: %w", e.Type, f.Name, ConvertDBError(err))
			}
		}

		seen := make(map[int64]bool)
		insert := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s, %s)",
			table, quote("owner_id"), quote("target_id"), d.Placeholder(1), d.Placeholder(2))
		for _, r := range a.Refs {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			if _, err := s.q.ExecContext(ctx, insert, id, r.ID); err != nil {
				return fmt.Errorf("failed to link %s.%s: %w", e.Type, f.Name, ConvertDBError(err))
			}
		}
	}
	return nil
}
