package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"

	"github.com/conduit-lang/objgraph/internal/orm/store"
)

func TestConvertDBError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, store.ErrNotFound},
		{"pgx unique", &pgconn.PgError{Code: "23505", Detail: "Key (name)=(x) already exists."}, store.ErrUniqueViolation},
		{"pgx foreign key", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23503"}), store.ErrForeignKeyViolation},
		{"pgx check", &pgconn.PgError{Code: "23514"}, store.ErrCheckViolation},
		{"pgx not null", &pgconn.PgError{Code: "23502", ColumnName: "name"}, store.ErrNotNullViolation},
		{"pq unique", &pq.Error{Code: "23505"}, store.ErrUniqueViolation},
		{"pq foreign key", &pq.Error{Code: "23503"}, store.ErrForeignKeyViolation},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, store.ErrUniqueViolation},
		{"sqlite foreign key", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}, store.ErrForeignKeyViolation},
		{"sqlite not null", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintNotNull}, store.ErrNotNullViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ConvertDBError(tt.err), tt.want)
		})
	}

	t.Run("passes through other errors", func(t *testing.T) {
		other := errors.New("connection reset")
		assert.Equal(t, other, ConvertDBError(other))

		unmapped := &pgconn.PgError{Code: "08006"}
		assert.Equal(t, unmapped, ConvertDBError(unmapped))
	})

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, ConvertDBError(nil))
	})
}
