// Package sql implements dataengine.Connector over PostgreSQL via pgx.
package sql

import (
	"fmt"

	de "github.com/dataengine/dataengine"
)

// Dialect names the SQL connector family a DatabaseType maps to. Only
// PostgreSQL is wired to a live Connector in this repo; the MySQL column
// mapping is carried here for parity with the source material's own dialect
// switch, not because any connector here speaks it. MSSQL and SQLite have no
// mapping: ToDatabaseType panics for them.
type Dialect int

const (
	DialectMySQL Dialect = iota
	DialectPostgreSQL
	DialectMSSQL
	DialectSQLite
)

// DatabaseType is the resolved physical column type for one Dialect.
type DatabaseType struct {
	Name      string
	Length    int  // m: display width or max length, 0 if unset
	Unsigned  bool // u
	Precision int  // datetime fractional-seconds precision
}

func (t DatabaseType) String() string {
	if t.Length > 0 {
		return fmt.Sprintf("%s(%d)", t.Name, t.Length)
	}
	if t.Precision > 0 {
		return fmt.Sprintf("%s(%d)", t.Name, t.Precision)
	}
	return t.Name
}

// ToDatabaseType resolves a FieldType to its physical column type for the
// given dialect, directly ported from the source material's
// to_database_type match (see DESIGN.md's Open Question (b) decision):
// MySQL carries the full mapping, PostgreSQL is derived from it column
// family by column family, and
// MSSQL/SQLite stay literal panics since nothing here defines or exercises
// them.
func ToDatabaseType(ft de.FieldType, dialect Dialect) DatabaseType {
	switch dialect {
	case DialectMySQL:
		return mysqlType(ft)
	case DialectPostgreSQL:
		return postgresType(ft)
	case DialectMSSQL:
		panic("sql: MSSQL column mapping is unimplemented")
	case DialectSQLite:
		panic("sql: SQLite column mapping is unimplemented")
	default:
		panic("sql: unknown dialect")
	}
}

func mysqlType(ft de.FieldType) DatabaseType {
	switch ft.Kind {
	case de.TypeUndefined:
		return DatabaseType{Name: "UNDEFINED"}
	case de.TypeBool:
		return DatabaseType{Name: "BOOL"}
	case de.TypeI8:
		return DatabaseType{Name: "TINYINT"}
	case de.TypeI16:
		return DatabaseType{Name: "SMALLINT"}
	case de.TypeI32:
		return DatabaseType{Name: "INT"}
	case de.TypeI64, de.TypeI128:
		return DatabaseType{Name: "BIGINT"}
	case de.TypeU8:
		return DatabaseType{Name: "TINYINT", Unsigned: true}
	case de.TypeU16:
		return DatabaseType{Name: "SMALLINT", Unsigned: true}
	case de.TypeU32:
		return DatabaseType{Name: "INT", Unsigned: true}
	case de.TypeU64, de.TypeU128:
		return DatabaseType{Name: "BIGINT", Unsigned: true}
	case de.TypeF32:
		return DatabaseType{Name: "REAL"}
	case de.TypeF64:
		return DatabaseType{Name: "DOUBLE"}
	case de.TypeString:
		return DatabaseType{Name: "VARCHAR", Length: 191}
	case de.TypeDate:
		return DatabaseType{Name: "DATE"}
	case de.TypeDateTime:
		return DatabaseType{Name: "DATETIME", Precision: 3}
	case de.TypeDecimal:
		return DatabaseType{Name: "DECIMAL"}
	default:
		return DatabaseType{Name: "UNDEFINED"}
	}
}

// postgresType derives the PostgreSQL column family from the same structural
// mapping MySQL uses, substituting Postgres's own integer/timestamp
// vocabulary (see DESIGN.md's Open Question (b) decision): String keeps
// MySQL's varchar(191) sizing and DateTime keeps its 3-digit fractional
// seconds precision, both carried over verbatim rather than widened to
// Postgres's unbounded TEXT/TIMESTAMPTZ.
func postgresType(ft de.FieldType) DatabaseType {
	switch ft.Kind {
	case de.TypeUndefined:
		return DatabaseType{Name: "UNDEFINED"}
	case de.TypeBool:
		return DatabaseType{Name: "BOOLEAN"}
	case de.TypeI8, de.TypeI16:
		return DatabaseType{Name: "SMALLINT"}
	case de.TypeI32:
		return DatabaseType{Name: "INTEGER"}
	case de.TypeI64, de.TypeI128:
		return DatabaseType{Name: "BIGINT"}
	case de.TypeU8, de.TypeU16:
		return DatabaseType{Name: "SMALLINT"}
	case de.TypeU32:
		return DatabaseType{Name: "BIGINT"}
	case de.TypeU64, de.TypeU128:
		return DatabaseType{Name: "NUMERIC"}
	case de.TypeF32:
		return DatabaseType{Name: "REAL"}
	case de.TypeF64:
		return DatabaseType{Name: "DOUBLE PRECISION"}
	case de.TypeString:
		return DatabaseType{Name: "VARCHAR", Length: 191}
	case de.TypeDate:
		return DatabaseType{Name: "DATE"}
	case de.TypeDateTime:
		return DatabaseType{Name: "TIMESTAMP", Precision: 3}
	case de.TypeDecimal:
		return DatabaseType{Name: "NUMERIC"}
	case de.TypeObjectID:
		return DatabaseType{Name: "TEXT"}
	default:
		return DatabaseType{Name: "JSONB"}
	}
}
