package sqlstore

import (
	"fmt"
	"strings"
)

// Dialect captures the SQL differences between backends.
type Dialect struct {
	Name string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Ident quotes an identifier.
	Ident func(s string) string
	// Column types.
	KeyType   string
	TextType  string
	FloatType string
	IntType   string
	// TopOne selects "SELECT TOP 1" instead of "LIMIT 1".
	TopOne bool
	// CreateTable wraps a table body into an idempotent CREATE statement.
	CreateTable func(table, body string) string
	// CreateIndex renders an idempotent CREATE INDEX statement, or "" when
	// indexes are declared inline with the table.
	CreateIndex func(name, table string, cols []string, unique bool) string
	// Conflict selects how insertOnce skips rows that violate a unique key.
	Conflict ConflictStyle
}

// ConflictStyle is a backend's idiom for "insert unless the key exists".
type ConflictStyle int

const (
	OrIgnore  ConflictStyle = iota // INSERT OR IGNORE
	DoNothing                      // ON CONFLICT DO NOTHING
	Ignore                         // INSERT IGNORE
	NotExists                      // INSERT ... SELECT ... WHERE NOT EXISTS
)

func question(int) string { return "?" }

func quoteWith(open, close string) func(string) string {
	return func(s string) string {
		return open + strings.ReplaceAll(s, close, close+close) + close
	}
}

func ifNotExistsTable(table, body string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, body)
}

func ifNotExistsIndex(ident func(string) string) func(string, string, []string, bool) string {
	return func(name, table string, cols []string, unique bool) string {
		u := ""
		if unique {
			u = "UNIQUE "
		}
		return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)", u, ident(name), ident(table), joinIdent(ident, cols))
	}
}

func joinIdent(ident func(string) string, cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = ident(c)
	}
	return strings.Join(q, ", ")
}

// SQLite is the modernc.org/sqlite dialect.
var SQLite = Dialect{
	Name:        "sqlite",
	Placeholder: question,
	Ident:       quoteWith(`"`, `"`),
	KeyType:     "TEXT",
	TextType:    "TEXT",
	FloatType:   "REAL",
	IntType:     "INTEGER",
	CreateTable: ifNotExistsTable,
	CreateIndex: ifNotExistsIndex(quoteWith(`"`, `"`)),
	Conflict:    OrIgnore,
}

// Postgres is the PostgreSQL dialect.
var Postgres = Dialect{
	Name:        "postgres",
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	Ident:       quoteWith(`"`, `"`),
	KeyType:     "TEXT",
	TextType:    "TEXT",
	FloatType:   "DOUBLE PRECISION",
	IntType:     "INTEGER",
	CreateTable: ifNotExistsTable,
	CreateIndex: ifNotExistsIndex(quoteWith(`"`, `"`)),
	Conflict:    DoNothing,
}

// MySQL is the MySQL/MariaDB dialect. Indexed columns need a bounded type.
var MySQL = Dialect{
	Name:        "mysql",
	Placeholder: question,
	Ident:       quoteWith("`", "`"),
	KeyType:     "VARCHAR(255)",
	TextType:    "LONGTEXT",
	FloatType:   "DOUBLE",
	IntType:     "INT",
	CreateTable: ifNotExistsTable,
	// MySQL has no CREATE INDEX IF NOT EXISTS; indexes are declared inline.
	CreateIndex: func(string, string, []string, bool) string { return "" },
	Conflict:    Ignore,
}

// MSSQL is the SQL Server dialect.
var MSSQL = Dialect{
	Name:        "mssql",
	Placeholder: func(n int) string { return fmt.Sprintf("@p%d", n) },
	Ident:       quoteWith("[", "]"),
	KeyType:     "NVARCHAR(255)",
	TextType:    "NVARCHAR(MAX)",
	FloatType:   "FLOAT",
	IntType:     "INT",
	TopOne:      true,
	Conflict:    NotExists,
	CreateTable: func(table, body string) string {
		return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s)",
			strings.Trim(table, "[]"), table, body)
	},
	CreateIndex: func(name, table string, cols []string, unique bool) string {
		u := ""
		if unique {
			u = "UNIQUE "
		}
		id := quoteWith("[", "]")
		return fmt.Sprintf("IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'%s') CREATE %sINDEX %s ON %s (%s)",
			name, u, id(name), id(table), joinIdent(id, cols))
	},
}

// binds renders n placeholders starting at from, comma separated.
func (d Dialect) binds(from, n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = d.Placeholder(from + i)
	}
	return strings.Join(p, ", ")
}

// first rewrites "SELECT <cols> FROM ..." to return at most one row.
func (d Dialect) first(selectCols, rest string) string {
	if d.TopOne {
		return "SELECT TOP 1 " + selectCols + " " + rest
	}
	return "SELECT " + selectCols + " " + rest + " LIMIT 1"
}

// insertOnce renders an INSERT of cols that silently skips rows whose key
// columns already exist. Bind parameters follow cols order.
func (d Dialect) insertOnce(table string, cols, key []string) string {
	t := d.Ident(table)
	c := joinIdent(d.Ident, cols)
	v := d.binds(1, len(cols))
	switch d.Conflict {
	case OrIgnore:
		return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)", t, c, v)
	case DoNothing:
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING", t, c, v)
	case Ignore:
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", t, c, v)
	}
	// Named parameters may be referenced twice.
	conds := make([]string, len(key))
	for i, k := range key {
		for j, col := range cols {
			if col == k {
				conds[i] = fmt.Sprintf("%s = %s", d.Ident(k), d.Placeholder(j+1))
			}
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s WHERE NOT EXISTS (SELECT 1 FROM %s WHERE %s)",
		t, c, v, t, strings.Join(conds, " AND "))
}
