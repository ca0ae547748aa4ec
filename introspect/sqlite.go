package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// sqliteInspector reads definitions with PRAGMA statements
type sqliteInspector struct{}

func (i *sqliteInspector) Tables(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table'
		  AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	return scanNames(rows)
}

func (i *sqliteInspector) Describe(ctx context.Context, q Querier, table string) (*Table, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	columns, err := i.columns(ctx, q, table)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect columns for %s: %w", table, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	fks, err := i.foreignKeys(ctx, q, table)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect foreign keys for %s: %w", table, err)
	}
	return &Table{Name: table, Columns: columns, ForeignKeys: fks}, nil
}

func (i *sqliteInspector) columns(ctx context.Context, q Querier, table string) ([]Column, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var (
			cid     int
			col     Column
			notNull int
			dflt    sql.NullString
		)
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &dflt, &col.PrimaryKey); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		col.Nullable = notNull == 0
		if dflt.Valid && dflt.String != "" {
			col.Default = &dflt.String
		}
		// only an INTEGER PRIMARY KEY aliases the rowid
		if col.PrimaryKey == 1 && strings.EqualFold(col.Type, "INTEGER") {
			col.AutoIncrement = true
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// a rowid alias is only automatic when it is the sole key column
	pkCount := 0
	for _, c := range columns {
		if c.PrimaryKey > 0 {
			pkCount++
		}
	}
	if pkCount > 1 {
		for n := range columns {
			columns[n].AutoIncrement = false
		}
	}
	return columns, nil
}

func (i *sqliteInspector) foreignKeys(ctx context.Context, q Querier, table string) ([]ForeignKey, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to query foreign keys: %w", err)
	}
	defer rows.Close()

	byName := make(map[string]*ForeignKey)
	var order []string
	for rows.Next() {
		var (
			id, seq                   int
			refTable, from            string
			to                        sql.NullString
			onUpdate, onDelete, match string
		)
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key: %w", err)
		}
		name := fmt.Sprintf("%s_fk_%d", table, id)
		fk, ok := byName[name]
		if !ok {
			fk = &ForeignKey{Name: name, ReferencedTable: refTable, OnUpdate: onUpdate, OnDelete: onDelete}
			byName[name] = fk
			order = append(order, name)
		}
		fk.Columns = append(fk.Columns, from)
		fk.ReferencedColumns = append(fk.ReferencedColumns, to.String)
	}
	return groupForeignKeys(order, byName), rows.Err()
}
