package sqlstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/objgraph/internal/orm/entity"
	"github.com/conduit-lang/objgraph/internal/orm/schema"
	"github.com/conduit-lang/objgraph/internal/orm/store"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testMetadata(t *testing.T) *schema.Metadata {
	t.Helper()
	r := schema.NewRegistry()
	require.NoError(t, r.Register(
		schema.NewType("Parent").
			String("name", schema.Required()).
			ToMany("children", "Child", schema.MappedBy("parent")).
			ToMany("tags", "Tag").
			MustBuild(),
		schema.NewType("Child").
			Table("children").
			String("name").
			ToOne("parent", "Parent").
			MustBuild(),
		schema.NewType("Tag").String("label").MustBuild(),
	))
	meta, err := r.Resolve()
	require.NoError(t, err)
	return meta
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := New(db, testMetadata(t), Postgres)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func q(sql string) string {
	return regexp.QuoteMeta(sql)
}

const (
	selectParents  = `SELECT "id", "version", "created_at", "updated_at", "name" FROM "parents" WHERE "id" IN ($1) ORDER BY "id"`
	selectTags     = `SELECT "owner_id", "target_id" FROM "parents_tags" WHERE "owner_id" IN ($1) ORDER BY "owner_id", "target_id"`
	selectChildren = `SELECT "parent_id", "id" FROM "children" WHERE "parent_id" IN ($1) ORDER BY "parent_id", "id"`
	selectChild    = `SELECT "id", "version", "created_at", "updated_at", "name", "parent_id" FROM "children" WHERE "id" IN ($1) ORDER BY "id"`
)

func parentRow(id int64, version int64, name string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "version", "created_at", "updated_at", "name"}).
		AddRow(id, version, fixedNow, fixedNow, name)
}

func childRow(id int64, name string, parentID any) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "version", "created_at", "updated_at", "name", "parent_id"}).
		AddRow(id, int64(1), fixedNow, fixedNow, name, parentID)
}

func TestFindByID(t *testing.T) {
	ctx := context.Background()

	t.Run("loads scalars and association ids", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectQuery(q(selectParents)).WithArgs(int64(1)).
			WillReturnRows(parentRow(1, 3, "test"))
		mock.ExpectQuery(q(selectTags)).WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"owner_id", "target_id"}).AddRow(int64(1), int64(4)).AddRow(int64(1), int64(5)))
		mock.ExpectQuery(q(selectChildren)).WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"parent_id", "id"}).AddRow(int64(1), int64(9)))

		p, err := s.FindByID(ctx, "Parent", 1, nil)
		require.NoError(t, err)

		assert.Equal(t, int64(1), p.ID)
		assert.Equal(t, int64(3), p.Version)
		assert.Equal(t, fixedNow, p.CreatedAt)
		assert.Equal(t, "test", p.Attributes["name"])

		tags, _ := p.Association("tags")
		assert.Equal(t, []int64{4, 5}, tags.IDs())
		children, _ := p.Association("children")
		assert.Equal(t, []int64{9}, children.IDs())

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(q(selectParents)).WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "version", "created_at", "updated_at", "name"}))

		_, err := s.FindByID(ctx, "Parent", 2, nil)
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expands to-one", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(q(selectChild)).WithArgs(int64(3)).
			WillReturnRows(childRow(3, "kid", int64(1)))
		mock.ExpectQuery(q(selectParents)).WithArgs(int64(1)).
			WillReturnRows(parentRow(1, 1, "test"))
		mock.ExpectQuery(q(selectTags)).WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"owner_id", "target_id"}))
		mock.ExpectQuery(q(selectChildren)).WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"parent_id", "id"}).AddRow(int64(1), int64(3)))

		c, err := s.FindByID(ctx, "Child", 3, []string{"parent"})
		require.NoError(t, err)

		r, ok := c.One("parent")
		require.True(t, ok)
		require.True(t, r.IsLoaded())
		assert.Equal(t, "test", r.Target.Attributes["name"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("null foreign key", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(q(selectChild)).WithArgs(int64(3)).
			WillReturnRows(childRow(3, "orphan", nil))

		c, err := s.FindByID(ctx, "Child", 3, nil)
		require.NoError(t, err)
		a, ok := c.Association("parent")
		require.True(t, ok)
		assert.True(t, a.Empty())
	})
}

func TestFindByExample(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectQuery(q(`SELECT "id" FROM "children" WHERE "name" = $1 AND "parent_id" = $2 ORDER BY "id"`)).
		WithArgs("kid", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectQuery(q(selectChild)).WithArgs(int64(3)).
		WillReturnRows(childRow(3, "kid", int64(1)))

	example := entity.New("Child")
	example.Set("name", "kid")
	example.Set("ignored", nil)
	r := entity.Unloaded(1)
	example.SetOne("parent", &r)

	found, err := s.FindByExample(ctx, example, nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, int64(3), found[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistNew(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q(`INSERT INTO "children" ("version", "created_at", "updated_at", "name", "parent_id") VALUES ($1, $2, $3, $4, $5) RETURNING "id"`)).
		WithArgs(int64(1), fixedNow, fixedNow, "kid", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectQuery(q(selectChild)).WithArgs(int64(3)).
		WillReturnRows(childRow(3, "kid", int64(1)))
	mock.ExpectCommit()

	c := entity.New("Child")
	c.Set("name", "kid")
	r := entity.Unloaded(1)
	c.SetOne("parent", &r)

	var saved *entity.Entity
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		saved, err = tx.PersistNew(ctx, c)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), saved.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistNewWithJoinTable(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q(`INSERT INTO "parents" ("version", "created_at", "updated_at", "name") VALUES ($1, $2, $3, $4) RETURNING "id"`)).
		WithArgs(int64(1), fixedNow, fixedNow, "test").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec(q(`INSERT INTO "parents_tags" ("owner_id", "target_id") VALUES ($1, $2)`)).
		WithArgs(int64(1), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(`INSERT INTO "parents_tags" ("owner_id", "target_id") VALUES ($1, $2)`)).
		WithArgs(int64(1), int64(5)).
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	p := entity.New("Parent")
	p.Set("name", "test")
	p.SetMany("tags", []entity.Ref{entity.Unloaded(4), entity.Unloaded(4), entity.Unloaded(5)})

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.PersistNew(ctx, p)
		return err
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	update := `UPDATE "children" SET "version" = "version" + 1, "updated_at" = $1, "name" = $2 WHERE "id" = $3 AND "version" = $4`
	count := `SELECT COUNT(*) FROM "children" WHERE "id" = $1`

	change := func() *entity.Entity {
		c := entity.Placeholder("Child", 3)
		c.Set("name", "renamed")
		return c
	}

	t.Run("success", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(q(update)).
			WithArgs(fixedNow, "renamed", int64(3), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(q(selectChild)).WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "version", "created_at", "updated_at", "name", "parent_id"}).
				AddRow(int64(3), int64(2), fixedNow, fixedNow, "renamed", nil))
		mock.ExpectCommit()

		err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			updated, err := tx.Update(ctx, change(), 1)
			if err == nil {
				assert.Equal(t, int64(2), updated.Version)
			}
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(q(update)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q(count)).WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
		mock.ExpectRollback()

		err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			_, err := tx.Update(ctx, change(), 1)
			return err
		})
		assert.ErrorIs(t, err, store.ErrOptimisticLockFailed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(q(update)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q(count)).WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
		mock.ExpectRollback()

		err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			_, err := tx.Update(ctx, change(), 1)
			return err
		})
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes owned links first", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(q(`DELETE FROM "parents_tags" WHERE "owner_id" = $1`)).WithArgs(int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(q(`DELETE FROM "parents" WHERE "id" = $1`)).WithArgs(int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.Delete(ctx, "Parent", 1)
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(q(`DELETE FROM "tags" WHERE "id" = $1`)).WithArgs(int64(8)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.Delete(ctx, "Tag", 8)
		})
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("writes need a transaction", func(t *testing.T) {
		s, _ := newMockStore(t)
		assert.Error(t, s.session(s.db, false).Delete(ctx, "Tag", 1))
	})
}

func TestUnknownType(t *testing.T) {
	s, _ := newMockStore(t)
	_, err := s.FindAll(context.Background(), "Missing", nil)
	assert.ErrorIs(t, err, store.ErrUnknownType)
}

func TestOpen(t *testing.T) {
	_, _, err := Open("mysql", "dsn")
	assert.Error(t, err)

	db, d, err := Open("sqlite3", "file::memory:")
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, SQLite, d)
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}

