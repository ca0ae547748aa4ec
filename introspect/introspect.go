// Package introspect reads live table definitions (columns, declared types,
// primary and foreign keys) from mysql, pgsql and sqlite databases.
package introspect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/satishbabariya/recordkit/dialect"
	"github.com/satishbabariya/recordkit/query/sqlgen"
)

// ErrTableNotFound is returned when a table has no visible columns
var ErrTableNotFound = errors.New("table not found")

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Inspector reads table definitions for one dialect
type Inspector interface {
	Tables(ctx context.Context, q Querier) ([]string, error)
	Describe(ctx context.Context, q Querier, table string) (*Table, error)
}

// Table is the live definition of one table
type Table struct {
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
}

// Column is one table column
type Column struct {
	Name          string
	Type          string // declared type as reported by the server
	Nullable      bool
	Default       *string
	PrimaryKey    int // 1-based position within the primary key, 0 if not part of it
	AutoIncrement bool
}

// ForeignKey is a foreign key constraint
type ForeignKey struct {
	Name              string
	Columns           []string
	ReferencedTable   string
	ReferencedColumns []string
	OnDelete          string
	OnUpdate          string
}

// IsInteger reports whether the declared type stores whole numbers
func (c Column) IsInteger() bool {
	t := strings.ToUpper(c.Type)
	return strings.Contains(t, "INT") || strings.Contains(t, "SERIAL")
}

// IsTemporal reports whether the declared type is a date or time type
func (c Column) IsTemporal() bool {
	t := strings.ToUpper(c.Type)
	return strings.Contains(t, "DATE") || strings.Contains(t, "TIME")
}

// ColumnNames returns the column names in table order
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by name
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether the table has the named column
func (t *Table) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// PrimaryKey returns the primary key columns in key order
func (t *Table) PrimaryKey() []string {
	var pk []Column
	for _, c := range t.Columns {
		if c.PrimaryKey > 0 {
			pk = append(pk, c)
		}
	}
	sort.Slice(pk, func(i, j int) bool { return pk[i].PrimaryKey < pk[j].PrimaryKey })
	names := make([]string, len(pk))
	for i, c := range pk {
		names[i] = c.Name
	}
	return names
}

// New returns the Inspector for a dialect. schema selects the mysql database
// or pgsql schema; empty means the connection's current one.
func New(kind dialect.Kind, schema string) (Inspector, error) {
	switch kind {
	case dialect.MySQL:
		return &mysqlInspector{schema: schema}, nil
	case dialect.Pgsql:
		return &postgresInspector{schema: schema}, nil
	case dialect.SQLite:
		return &sqliteInspector{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", kind)
	}
}

// Cache memoizes table definitions for the lifetime of a connection
type Cache struct {
	inspector Inspector
	mu        sync.RWMutex
	tables    map[string]*Table
	group     singleflight.Group
}

// NewCache creates a Cache backed by inspector
func NewCache(inspector Inspector) *Cache {
	return &Cache{inspector: inspector, tables: make(map[string]*Table)}
}

// Table returns the cached definition of name, describing it through q on
// first use
func (c *Cache) Table(ctx context.Context, q Querier, name string) (*Table, error) {
	c.mu.RLock()
	t, ok := c.tables[name]
	c.mu.RUnlock()
	if ok {
		return t, nil
	}

	v, err, _ := c.group.Do(name, func() (any, error) {
		t, err := c.inspector.Describe(ctx, q, name)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.tables[name] = t
		c.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Table), nil
}

// Forget drops one table so the next lookup describes it again
func (c *Cache) Forget(name string) {
	c.mu.Lock()
	delete(c.tables, name)
	c.mu.Unlock()
}

// Reset drops every cached table
func (c *Cache) Reset() {
	c.mu.Lock()
	c.tables = make(map[string]*Table)
	c.mu.Unlock()
}

func checkTable(name string) error {
	return sqlgen.CheckIdentifier(name, "table")
}

func scanNames(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// groupForeignKeys folds one-row-per-column results into constraints,
// keeping first-seen order
func groupForeignKeys(order []string, byName map[string]*ForeignKey) []ForeignKey {
	fks := make([]ForeignKey, 0, len(order))
	for _, name := range order {
		fks = append(fks, *byName[name])
	}
	return fks
}
