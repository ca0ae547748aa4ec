package activerecord

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/satishbabariya/recordkit/introspect"
	"github.com/satishbabariya/recordkit/query/sqlgen"
	"github.com/satishbabariya/recordkit/runtime"
)

// filter keeps keys that are fillable and exist in the live table
func (m *Model) filter(table *introspect.Table, data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if len(m.desc.fillableSet) > 0 && !m.desc.fillableSet[k] {
			continue
		}
		if !table.HasColumn(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// assignKey generates a UUID key when the entity uses them and none was given
func (m *Model) assignKey(row map[string]any) {
	if m.desc.keyStrategy != KeyUUID {
		return
	}
	col := m.desc.primaryKey[0]
	if v, ok := row[col]; !ok || v == nil || v == "" {
		row[col] = uuid.NewString()
	}
}

// beforeSave injects audit columns then runs the BeforeSave hook
func (m *Model) beforeSave(ctx context.Context, table *introspect.Table, data map[string]any, insert bool) bool {
	if a := m.desc.audit; a.Enabled {
		now := m.now()
		set := func(column string, value func(introspect.Column) any) {
			col, ok := table.Column(column)
			if !ok {
				return
			}
			if _, supplied := data[column]; supplied {
				return
			}
			data[column] = value(col)
		}
		stamp := func(col introspect.Column) any { return m.timestamp(col, now) }

		if insert {
			set(a.CreatedAt, stamp)
		}
		set(a.UpdatedAt, stamp)

		if m.actor != nil {
			if id, ok := m.actor(ctx); ok {
				actor := func(introspect.Column) any { return id }
				if insert {
					set(a.CreatedBy, actor)
				}
				set(a.UpdatedBy, actor)
			}
		}
	}
	return m.hooks.BeforeSave(ctx, data, insert)
}

func (m *Model) timestamp(col introspect.Column, now time.Time) any {
	a := m.desc.audit
	switch a.Format {
	case TimestampEpoch:
		return now.Unix()
	case TimestampDatetime:
		return now.Format(a.Layout)
	}
	if col.IsInteger() {
		return now.Unix()
	}
	return now.Format(a.Layout)
}

func (m *Model) generator() *sqlgen.Generator {
	return sqlgen.NewGenerator(m.exec.Dialect())
}

// persistenceError logs a failed write and wraps the driver error
func (m *Model) persistenceError(op string, err error) error {
	m.logger.Error(op+" failed", "error", err)
	return runtime.NewPersistenceError(op, m.desc.table, err)
}

// Create inserts data and returns the new key. Keys outside the fillable set
// or the live table are dropped. A vetoed insert returns nil without error.
// Composite keys are returned in their "v1_v2" form.
func (m *Model) Create(ctx context.Context, data map[string]any) (any, error) {
	table, err := m.table(ctx)
	if err != nil {
		return nil, err
	}
	row := m.filter(table, data)
	m.assignKey(row)
	if !m.beforeSave(ctx, table, row, true) {
		m.logger.Debug("insert vetoed")
		return nil, nil
	}
	if len(row) == 0 {
		return nil, m.persistenceError("create", sqlgen.ErrNoColumns)
	}

	pk := m.desc.primaryKey
	returning := ""
	if len(pk) == 1 {
		if _, supplied := row[pk[0]]; !supplied {
			returning = pk[0]
		}
	}

	stmt, err := m.generator().Insert(m.desc.table, slices.Sorted(maps.Keys(row)), row, returning)
	if err != nil {
		return nil, err
	}

	var id any
	switch {
	case returning != "" && m.exec.Dialect().SupportsReturning():
		rows, err := m.exec.Query(ctx, stmt)
		if err != nil {
			return nil, m.persistenceError("create", err)
		}
		if len(rows) > 0 {
			id = rows[0].Value(returning)
		}
	default:
		res, err := m.exec.Exec(ctx, stmt)
		if err != nil {
			return nil, m.persistenceError("create", err)
		}
		if returning != "" {
			if n, err := res.LastInsertId(); err == nil {
				id = n
			}
		} else {
			id = m.keyValue(row)
		}
	}

	saved := maps.Clone(row)
	if returning != "" {
		saved[returning] = id
	}
	m.hooks.AfterSave(ctx, true, saved)
	m.counts.invalidate(m.desc.table)
	return id, nil
}

// keyValue returns the key of a row, joining composite keys with "_"
func (m *Model) keyValue(row map[string]any) any {
	pk := m.desc.primaryKey
	if len(pk) == 1 {
		return row[pk[0]]
	}
	parts := make([]string, len(pk))
	for i, col := range pk {
		parts[i] = fmt.Sprint(row[col])
	}
	return strings.Join(parts, "_")
}

// Update writes data to the row with key id and reports whether a row
// changed. Key columns are never updated.
func (m *Model) Update(ctx context.Context, id any, data map[string]any) (bool, error) {
	cond, err := m.keyCondition(id)
	if errors.Is(err, runtime.ErrIncompleteKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	table, err := m.table(ctx)
	if err != nil {
		return false, err
	}
	row := m.filter(table, data)
	for _, col := range m.desc.primaryKey {
		delete(row, col)
	}
	if len(row) == 0 {
		return false, nil
	}
	if !m.beforeSave(ctx, table, row, false) {
		m.logger.Debug("update vetoed", "id", id)
		return false, nil
	}

	stmt, err := m.generator().Update(m.desc.table, slices.Sorted(maps.Keys(row)), row, cond)
	if err != nil {
		return false, err
	}
	res, err := m.exec.Exec(ctx, stmt)
	if err != nil {
		return false, m.persistenceError("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, m.persistenceError("update", err)
	}
	if n == 0 {
		return false, nil
	}

	saved := maps.Clone(row)
	maps.Copy(saved, cond)
	m.hooks.AfterSave(ctx, false, saved)
	m.counts.invalidate(m.desc.table)
	return true, nil
}

// BatchInsert inserts rows in one statement. Each row is filtered and passed
// through BeforeSave on its own; vetoed rows are dropped. The column set is
// taken from the first surviving row. It returns false when no row survives.
func (m *Model) BatchInsert(ctx context.Context, rows []map[string]any) (bool, error) {
	table, err := m.table(ctx)
	if err != nil {
		return false, err
	}

	survivors := make([]map[string]any, 0, len(rows))
	for _, data := range rows {
		row := m.filter(table, data)
		m.assignKey(row)
		if len(row) == 0 || !m.beforeSave(ctx, table, row, true) {
			continue
		}
		survivors = append(survivors, row)
	}
	if len(survivors) == 0 {
		return false, nil
	}

	stmt, err := m.generator().InsertMany(m.desc.table, slices.Sorted(maps.Keys(survivors[0])), survivors)
	if err != nil {
		return false, err
	}
	if _, err := m.exec.Exec(ctx, stmt); err != nil {
		return false, m.persistenceError("batch insert", err)
	}
	m.counts.invalidate(m.desc.table)
	return true, nil
}

// UpdateAll writes data to every row matching cond and returns the number of
// affected rows. An empty condition updates the whole table.
func (m *Model) UpdateAll(ctx context.Context, data map[string]any, cond sqlgen.Condition) (int64, error) {
	table, err := m.table(ctx)
	if err != nil {
		return 0, err
	}
	row := m.filter(table, data)
	if len(row) == 0 {
		return 0, nil
	}
	if !m.beforeSave(ctx, table, row, false) {
		m.logger.Debug("bulk update vetoed")
		return 0, nil
	}

	stmt, err := m.generator().Update(m.desc.table, slices.Sorted(maps.Keys(row)), row, cond)
	if err != nil {
		return 0, err
	}
	res, err := m.exec.Exec(ctx, stmt)
	if err != nil {
		return 0, m.persistenceError("update all", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, m.persistenceError("update all", err)
	}
	if n > 0 {
		m.counts.invalidate(m.desc.table)
	}
	return n, nil
}

// Delete removes the row with key id after BeforeDelete allows it and
// reports whether a row was removed
func (m *Model) Delete(ctx context.Context, id any) (bool, error) {
	if !m.hooks.BeforeDelete(ctx, id) {
		m.logger.Debug("delete vetoed", "id", id)
		return false, nil
	}
	cond, err := m.keyCondition(id)
	if errors.Is(err, runtime.ErrIncompleteKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	stmt, err := m.generator().Delete(m.desc.table, cond)
	if err != nil {
		return false, err
	}
	res, err := m.exec.Exec(ctx, stmt)
	if err != nil {
		return false, m.persistenceError("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, m.persistenceError("delete", err)
	}
	if n == 0 {
		return false, nil
	}
	m.hooks.AfterDelete(ctx, id)
	m.counts.invalidate(m.desc.table)
	return true, nil
}
