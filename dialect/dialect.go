// Package dialect isolates the SQL fragments that differ between the
// supported database engines.
package dialect

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// Kind identifies a database engine
type Kind string

const (
	MySQL  Kind = "mysql"
	Pgsql  Kind = "pgsql"
	SQLite Kind = "sqlite"
)

// ParseKind maps a configured driver name onto a Kind
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql", "mariadb":
		return MySQL, nil
	case "pgsql", "postgres", "postgresql":
		return Pgsql, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported driver %q", name)
	}
}

// Dialect renders engine-specific SQL fragments
type Dialect interface {
	// Kind returns the engine kind
	Kind() Kind
	// DriverName returns the database/sql driver name
	DriverName() string
	// QuoteIdentifier quotes a table or column name, part by part
	QuoteIdentifier(name string) string
	// Placeholder returns the positional placeholder for the n-th argument (1-based)
	Placeholder(n int) string
	// LikeOperator returns the case-insensitive match operator
	LikeOperator() string
	// AutoincrementClause returns the column definition of an auto-increment key
	AutoincrementClause() string
	// SupportsReturning reports whether INSERT ... RETURNING is available
	SupportsReturning() bool
	// LimitOffset renders the LIMIT/OFFSET tail; zero values are omitted
	LimitOffset(limit, offset int) string
}

// New returns the dialect for kind
func New(kind Kind) (Dialect, error) {
	switch kind {
	case MySQL:
		return mysqlDialect{}, nil
	case Pgsql:
		return pgsqlDialect{}, nil
	case SQLite:
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", kind)
	}
}

// MustNew is like New but panics on an unknown kind
func MustNew(kind Kind) Dialect {
	d, err := New(kind)
	if err != nil {
		panic(err)
	}
	return d
}

func quoteParts(name string, quote func(string) string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p == "*" {
			continue
		}
		parts[i] = quote(p)
	}
	return strings.Join(parts, ".")
}

type mysqlDialect struct{}

func (mysqlDialect) Kind() Kind         { return MySQL }
func (mysqlDialect) DriverName() string { return "mysql" }

func (mysqlDialect) QuoteIdentifier(name string) string {
	return quoteParts(name, func(s string) string {
		return "`" + strings.ReplaceAll(s, "`", "``") + "`"
	})
}

func (mysqlDialect) Placeholder(int) string      { return "?" }
func (mysqlDialect) LikeOperator() string        { return "LIKE" }
func (mysqlDialect) AutoincrementClause() string { return "INT AUTO_INCREMENT PRIMARY KEY" }
func (mysqlDialect) SupportsReturning() bool     { return false }

func (mysqlDialect) LimitOffset(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf("LIMIT %d", limit)
	case offset > 0:
		// MySQL has no OFFSET without LIMIT
		return fmt.Sprintf("LIMIT 18446744073709551615 OFFSET %d", offset)
	}
	return ""
}

type pgsqlDialect struct{}

func (pgsqlDialect) Kind() Kind         { return Pgsql }
func (pgsqlDialect) DriverName() string { return "postgres" }

func (pgsqlDialect) QuoteIdentifier(name string) string {
	return quoteParts(name, pq.QuoteIdentifier)
}

func (pgsqlDialect) Placeholder(n int) string    { return "$" + strconv.Itoa(n) }
func (pgsqlDialect) LikeOperator() string        { return "ILIKE" }
func (pgsqlDialect) AutoincrementClause() string { return "SERIAL PRIMARY KEY" }
func (pgsqlDialect) SupportsReturning() bool     { return true }

func (pgsqlDialect) LimitOffset(limit, offset int) string {
	var parts []string
	if limit > 0 {
		parts = append(parts, fmt.Sprintf("LIMIT %d", limit))
	}
	if offset > 0 {
		parts = append(parts, fmt.Sprintf("OFFSET %d", offset))
	}
	return strings.Join(parts, " ")
}

type sqliteDialect struct{}

func (sqliteDialect) Kind() Kind         { return SQLite }
func (sqliteDialect) DriverName() string { return "sqlite3" }

func (sqliteDialect) QuoteIdentifier(name string) string {
	return quoteParts(name, func(s string) string {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	})
}

func (sqliteDialect) Placeholder(int) string      { return "?" }
func (sqliteDialect) LikeOperator() string        { return "LIKE" }
func (sqliteDialect) AutoincrementClause() string { return "INTEGER PRIMARY KEY AUTOINCREMENT" }

// SQLite gained RETURNING in 3.35; LastInsertId covers every version.
func (sqliteDialect) SupportsReturning() bool { return false }

func (sqliteDialect) LimitOffset(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf("LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf("LIMIT -1 OFFSET %d", offset)
	}
	return ""
}
