// Package sqlgen compiles conditions and generates write statements for the
// supported dialects.
package sqlgen

import (
	"errors"
	"fmt"
	"strings"

	"github.com/satishbabariya/recordkit/dialect"
)

// ErrNoColumns is returned when a write has nothing to write
var ErrNoColumns = errors.New("no columns to write")

// Generator builds INSERT, UPDATE and DELETE statements for one dialect
type Generator struct {
	d dialect.Dialect
}

// NewGenerator creates a new SQL generator for the given dialect
func NewGenerator(d dialect.Dialect) *Generator {
	return &Generator{d: d}
}

// Dialect returns the generator's dialect
func (g *Generator) Dialect() dialect.Dialect {
	return g.d
}

// Insert builds a single-row INSERT. When returning is set and the dialect
// supports it, the statement ends with RETURNING <returning>.
func (g *Generator) Insert(table string, columns []string, row map[string]any, returning string) (Statement, error) {
	stmt, err := g.InsertMany(table, columns, []map[string]any{row})
	if err != nil {
		return stmt, err
	}
	if returning != "" && g.d.SupportsReturning() {
		quoted, err := Quote(g.d, returning, "returning")
		if err != nil {
			return Statement{}, err
		}
		stmt.SQL += " RETURNING " + quoted
	}
	return stmt, nil
}

// InsertMany builds one multi-row INSERT over columns. A column missing
// from a row is written as NULL.
func (g *Generator) InsertMany(table string, columns []string, rows []map[string]any) (Statement, error) {
	if len(columns) == 0 || len(rows) == 0 {
		return Statement{}, ErrNoColumns
	}
	qt, err := Quote(g.d, table, "insert table")
	if err != nil {
		return Statement{}, err
	}
	quoted := make([]string, len(columns))
	for i, col := range columns {
		if quoted[i], err = Quote(g.d, col, "insert column"); err != nil {
			return Statement{}, err
		}
	}

	var stmt Statement
	tuples := make([]string, len(rows))
	for r, row := range rows {
		placeholders := make([]string, len(columns))
		for i, col := range columns {
			name := fmt.Sprintf("r%d_%d_%s", r, i, paramSuffix(col))
			placeholders[i] = ":" + name
			stmt.Params = append(stmt.Params, Param{Name: name, Value: row[col]})
		}
		tuples[r] = "(" + strings.Join(placeholders, ", ") + ")"
	}
	stmt.SQL = fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", qt, strings.Join(quoted, ", "), strings.Join(tuples, ", "))
	return stmt, nil
}

// Update builds an UPDATE over columns. An empty condition updates every row.
func (g *Generator) Update(table string, columns []string, values map[string]any, where Condition) (Statement, error) {
	if len(columns) == 0 {
		return Statement{}, ErrNoColumns
	}
	qt, err := Quote(g.d, table, "update table")
	if err != nil {
		return Statement{}, err
	}

	var stmt Statement
	sets := make([]string, len(columns))
	for i, col := range columns {
		qc, err := Quote(g.d, col, "update column")
		if err != nil {
			return Statement{}, err
		}
		name := fmt.Sprintf("v%d_%s", i, paramSuffix(col))
		sets[i] = fmt.Sprintf("%s = :%s", qc, name)
		stmt.Params = append(stmt.Params, Param{Name: name, Value: values[col]})
	}
	stmt.SQL = fmt.Sprintf("UPDATE %s SET %s", qt, strings.Join(sets, ", "))

	frag, err := Compile(where, g.d, 0)
	if err != nil {
		return Statement{}, err
	}
	if frag.SQL != "" {
		stmt.SQL += " WHERE " + frag.SQL
		stmt.Params = append(stmt.Params, frag.Params...)
	}
	return stmt, nil
}

// Delete builds a DELETE. An empty condition deletes nothing.
func (g *Generator) Delete(table string, where Condition) (Statement, error) {
	qt, err := Quote(g.d, table, "delete table")
	if err != nil {
		return Statement{}, err
	}
	frag, err := Compile(where, g.d, 0)
	if err != nil {
		return Statement{}, err
	}
	if frag.SQL == "" {
		return Statement{SQL: fmt.Sprintf("DELETE FROM %s WHERE 1 = 0", qt)}, nil
	}
	return Statement{SQL: fmt.Sprintf("DELETE FROM %s WHERE %s", qt, frag.SQL), Params: frag.Params}, nil
}
