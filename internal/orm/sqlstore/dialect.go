package sqlstore

import (
	"fmt"

	"github.com/conduit-lang/objgraph/internal/orm/schema"
)

// Dialect captures the SQL differences between supported databases
type Dialect interface {
	Name() string
	// Placeholder returns the bind parameter for the n-th argument (1-based)
	Placeholder(n int) string
	ColumnType(t schema.ScalarType) string
	PrimaryKey() string
}

// DialectFor returns the dialect for a database/sql driver name
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "pgx", "postgres":
		return Postgres, nil
	case "sqlite3":
		return SQLite, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

type postgresDialect struct{}

// Postgres is the dialect for the pgx and lib/pq drivers
var Postgres Dialect = postgresDialect{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgresDialect) PrimaryKey() string { return "BIGSERIAL PRIMARY KEY" }

func (postgresDialect) ColumnType(t schema.ScalarType) string {
	switch t {
	case schema.TypeString:
		return "VARCHAR(255)"
	case schema.TypeText:
		return "TEXT"
	case schema.TypeInt:
		return "BIGINT"
	case schema.TypeFloat:
		return "DOUBLE PRECISION"
	case schema.TypeBool:
		return "BOOLEAN"
	case schema.TypeTimestamp:
		return "TIMESTAMP WITH TIME ZONE"
	case schema.TypeJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

type sqliteDialect struct{}

// SQLite is the dialect for the go-sqlite3 driver
var SQLite Dialect = sqliteDialect{}

func (sqliteDialect) Name() string { return "sqlite3" }

func (sqliteDialect) Placeholder(n int) string { return "?" }

func (sqliteDialect) PrimaryKey() string { return "INTEGER PRIMARY KEY AUTOINCREMENT" }

func (sqliteDialect) ColumnType(t schema.ScalarType) string {
	switch t {
	case schema.TypeInt:
		return "INTEGER"
	case schema.TypeFloat:
		return "REAL"
	case schema.TypeBool:
		return "BOOLEAN"
	case schema.TypeTimestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}
