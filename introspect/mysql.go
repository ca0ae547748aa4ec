package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// mysqlInspector reads definitions from information_schema
type mysqlInspector struct {
	schema string
}

func (i *mysqlInspector) Tables(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = COALESCE(NULLIF(?, ''), DATABASE())
		  AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`, i.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	return scanNames(rows)
}

func (i *mysqlInspector) Describe(ctx context.Context, q Querier, table string) (*Table, error) {
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

func (i *mysqlInspector) columns(ctx context.Context, q Querier, table string) ([]Column, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT
			c.column_name,
			c.column_type,
			c.is_nullable,
			c.column_default,
			c.extra,
			COALESCE(k.ordinal_position, 0)
		FROM information_schema.columns c
		LEFT JOIN information_schema.key_column_usage k
		  ON k.table_schema = c.table_schema
		 AND k.table_name = c.table_name
		 AND k.column_name = c.column_name
		 AND k.constraint_name = 'PRIMARY'
		WHERE c.table_schema = COALESCE(NULLIF(?, ''), DATABASE())
		  AND c.table_name = ?
		ORDER BY c.ordinal_position
	`, i.schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var (
			col        Column
			isNullable string
			dflt       sql.NullString
			extra      string
		)
		if err := rows.Scan(&col.Name, &col.Type, &isNullable, &dflt, &extra, &col.PrimaryKey); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		col.Nullable = isNullable == "YES"
		if dflt.Valid && dflt.String != "" {
			col.Default = &dflt.String
		}
		col.AutoIncrement = strings.Contains(strings.ToLower(extra), "auto_increment")
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func (i *mysqlInspector) foreignKeys(ctx context.Context, q Querier, table string) ([]ForeignKey, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT
			k.constraint_name,
			k.column_name,
			k.referenced_table_name,
			k.referenced_column_name,
			r.delete_rule,
			r.update_rule
		FROM information_schema.key_column_usage k
		JOIN information_schema.referential_constraints r
		  ON r.constraint_schema = k.table_schema
		 AND r.constraint_name = k.constraint_name
		WHERE k.table_schema = COALESCE(NULLIF(?, ''), DATABASE())
		  AND k.table_name = ?
		  AND k.referenced_table_name IS NOT NULL
		ORDER BY k.constraint_name, k.ordinal_position
	`, i.schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query foreign keys: %w", err)
	}
	defer rows.Close()

	byName := make(map[string]*ForeignKey)
	var order []string
	for rows.Next() {
		var name, column, refTable, refColumn, onDelete, onUpdate string
		if err := rows.Scan(&name, &column, &refTable, &refColumn, &onDelete, &onUpdate); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key: %w", err)
		}
		fk, ok := byName[name]
		if !ok {
			fk = &ForeignKey{Name: name, ReferencedTable: refTable, OnDelete: onDelete, OnUpdate: onUpdate}
			byName[name] = fk
			order = append(order, name)
		}
		fk.Columns = append(fk.Columns, column)
		fk.ReferencedColumns = append(fk.ReferencedColumns, refColumn)
	}
	return groupForeignKeys(order, byName), rows.Err()
}
