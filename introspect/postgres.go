package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// postgresInspector reads definitions from information_schema
type postgresInspector struct {
	schema string
}

func (i *postgresInspector) Tables(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema())
		  AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`, i.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	return scanNames(rows)
}

func (i *postgresInspector) Describe(ctx context.Context, q Querier, table string) (*Table, error) {
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

func (i *postgresInspector) columns(ctx context.Context, q Querier, table string) ([]Column, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable,
			c.column_default,
			COALESCE(k.ordinal_position, 0)
		FROM information_schema.columns c
		LEFT JOIN information_schema.table_constraints tc
		  ON tc.table_schema = c.table_schema
		 AND tc.table_name = c.table_name
		 AND tc.constraint_type = 'PRIMARY KEY'
		LEFT JOIN information_schema.key_column_usage k
		  ON k.constraint_schema = tc.constraint_schema
		 AND k.constraint_name = tc.constraint_name
		 AND k.column_name = c.column_name
		WHERE c.table_schema = COALESCE(NULLIF($1, ''), current_schema())
		  AND c.table_name = $2
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
		)
		if err := rows.Scan(&col.Name, &col.Type, &isNullable, &dflt, &col.PrimaryKey); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		col.Nullable = isNullable == "YES"
		if dflt.Valid && dflt.String != "" {
			col.Default = &dflt.String
		}
		col.AutoIncrement = isSequenceDefault(dflt.String)
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func (i *postgresInspector) foreignKeys(ctx context.Context, q Querier, table string) ([]ForeignKey, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT
			tc.constraint_name,
			kcu.column_name,
			ccu.table_name,
			ccu.column_name,
			rc.delete_rule,
			rc.update_rule
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_schema = tc.constraint_schema
		 AND kcu.constraint_name = tc.constraint_name
		JOIN information_schema.constraint_column_usage ccu
		  ON ccu.constraint_schema = tc.constraint_schema
		 AND ccu.constraint_name = tc.constraint_name
		JOIN information_schema.referential_constraints rc
		  ON rc.constraint_schema = tc.constraint_schema
		 AND rc.constraint_name = tc.constraint_name
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema = COALESCE(NULLIF($1, ''), current_schema())
		  AND tc.table_name = $2
		ORDER BY tc.constraint_name, kcu.ordinal_position
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

// isSequenceDefault detects SERIAL and identity-style defaults
func isSequenceDefault(dflt string) bool {
	return strings.HasPrefix(strings.ToLower(dflt), "nextval(")
}
