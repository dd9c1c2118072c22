package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/conduit-lang/objgraph/internal/orm/schema"
)

// GenerateDDL returns the CREATE statements for every type. Entity tables
// follow the insertion order so referenced tables always exist first; join
// tables come last.
func GenerateDDL(meta *schema.Metadata, d Dialect) []string {
	var stmts, joins, indexes []string
	for _, t := range meta.InsertionOrder() {
		l := newLayout(t)
		stmts = append(stmts, createTable(l, meta, d))
		for _, f := range l.foreignKey {
			indexes = append(indexes, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s);",
				quote("idx_"+l.table+"_"+fkColumn(f)), quote(l.table), quote(fkColumn(f))))
		}
		for _, f := range l.joins {
			joins = append(joins, createJoinTable(l, f, meta))
			indexes = append(indexes, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s);",
				quote("idx_"+joinTable(t, f)+"_target_id"), quote(joinTable(t, f)), quote("target_id")))
		}
	}
	stmts = append(stmts, joins...)
	return append(stmts, indexes...)
}

func createTable(l *tableLayout, meta *schema.Metadata, d Dialect) string {
	ts := d.ColumnType(schema.TypeTimestamp)
	cols := []string{
		fmt.Sprintf("%s %s", quote("id"), d.PrimaryKey()),
		fmt.Sprintf("%s BIGINT NOT NULL DEFAULT 1", quote("version")),
		fmt.Sprintf("%s %s NOT NULL", quote("created_at"), ts),
		fmt.Sprintf("%s %s NOT NULL", quote("updated_at"), ts),
	}
	for _, f := range l.scalars {
		col := fmt.Sprintf("%s %s", quote(f.Name), d.ColumnType(f.Scalar))
		if f.Constraints.Required {
			col += " NOT NULL"
		}
		cols = append(cols, col)
	}
	for _, f := range l.foreignKey {
		target, _ := meta.Type(f.Target)
		col := fmt.Sprintf("%s BIGINT", quote(fkColumn(f)))
		if f.Constraints.Required {
			col += " NOT NULL"
		}
		col += fmt.Sprintf(" REFERENCES %s (%s)", quote(target.Table), quote("id"))
		cols = append(cols, col)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", quote(l.table), strings.Join(cols, ",\n  "))
}

func createJoinTable(l *tableLayout, f *schema.Field, meta *schema.Metadata) string {
	target, _ := meta.Type(f.Target)
	cols := []string{
		fmt.Sprintf("%s BIGINT NOT NULL REFERENCES %s (%s) ON DELETE CASCADE", quote("owner_id"), quote(l.table), quote("id")),
		fmt.Sprintf("%s BIGINT NOT NULL REFERENCES %s (%s)", quote("target_id"), quote(target.Table), quote("id")),
		fmt.Sprintf("PRIMARY KEY (%s, %s)", quote("owner_id"), quote("target_id")),
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", quote(joinTable(l.typ, f)), strings.Join(cols, ",\n  "))
}

// Migrate creates every table that does not exist yet in one transaction
func Migrate(ctx context.Context, db *sql.DB, meta *schema.Metadata, d Dialect) error {
	return NewTxManager(db, sql.LevelDefault).WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range GenerateDDL(meta, d) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute %q: %w", firstLine(stmt), ConvertDBError(err))
			}
		}
		return nil
	})
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
