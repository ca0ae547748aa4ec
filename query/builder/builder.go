// Package builder provides a fluent query builder API.
package builder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/satishbabariya/recordkit/query/executor"
	"github.com/satishbabariya/recordkit/query/sqlgen"
	"github.com/satishbabariya/recordkit/record"
	"github.com/satishbabariya/recordkit/runtime"
)

// Order is one ORDER BY entry
type Order struct {
	Column    string
	Direction string
}

// Asc orders by column ascending
func Asc(column string) Order { return Order{Column: column, Direction: "ASC"} }

// Desc orders by column descending
func Desc(column string) Order { return Order{Column: column, Direction: "DESC"} }

// direction normalizes anything but "desc" to ASC
func (o Order) direction() string {
	if strings.EqualFold(strings.TrimSpace(o.Direction), "desc") {
		return "DESC"
	}
	return "ASC"
}

// Query accumulates a SELECT. It is mutable and not safe for concurrent use;
// terminal methods always reflect the latest state.
type Query struct {
	exec     *executor.Executor
	selects  []selectItem
	distinct bool
	from     tableRef
	joins    []join
	where    sqlgen.Condition
	groupBy  []string
	having   sqlgen.Condition
	orderBy  []Order
	limit    int
	offset   int
	errs     []error
}

type selectItem struct {
	col sqlgen.SelectColumn
	raw string
}

// New creates a query bound to an executor
func New(exec *executor.Executor) *Query {
	return &Query{exec: exec}
}

// Clone returns an independent copy
func (q *Query) Clone() *Query {
	c := *q
	c.selects = append([]selectItem(nil), q.selects...)
	c.joins = append([]join(nil), q.joins...)
	c.groupBy = append([]string(nil), q.groupBy...)
	c.orderBy = append([]Order(nil), q.orderBy...)
	c.errs = append([]error(nil), q.errs...)
	return &c
}

// Select replaces the projection. Entries are "col", "t.col", "*", "t.*"
// or any of those with "AS alias".
func (q *Query) Select(columns ...string) *Query {
	q.selects = nil
	return q.AddSelect(columns...)
}

// AddSelect appends to the projection
func (q *Query) AddSelect(columns ...string) *Query {
	for _, c := range columns {
		sc, err := sqlgen.ParseSelectColumn(c)
		if err != nil {
			q.errs = append(q.errs, err)
			continue
		}
		q.selects = append(q.selects, selectItem{col: sc})
	}
	return q
}

// SelectRaw appends a trusted expression to the projection
func (q *Query) SelectRaw(expr string) *Query {
	q.selects = append(q.selects, selectItem{raw: expr})
	return q
}

// Distinct marks the query SELECT DISTINCT
func (q *Query) Distinct() *Query {
	q.distinct = true
	return q
}

// From sets the source table, optionally aliased ("posts p" or "posts AS p")
func (q *Query) From(table string) *Query {
	ref, err := parseTableRef(table)
	if err != nil {
		q.errs = append(q.errs, err)
		return q
	}
	q.from = ref
	return q
}

// Table returns the source table name
func (q *Query) Table() string {
	return q.from.name
}

// Where replaces the condition set
func (q *Query) Where(cond sqlgen.Condition) *Query {
	q.where = cond
	return q
}

// AndWhere combines cond with the current condition using AND
func (q *Query) AndWhere(cond sqlgen.Condition) *Query {
	q.where = sqlgen.Merge(q.where, cond)
	return q
}

// OrWhere combines cond with the current condition using OR
func (q *Query) OrWhere(cond sqlgen.Condition) *Query {
	switch {
	case sqlgen.IsEmpty(cond):
	case sqlgen.IsEmpty(q.where):
		q.where = cond
	default:
		q.where = sqlgen.Or(q.where, cond)
	}
	return q
}

// Condition returns the current WHERE condition
func (q *Query) Condition() sqlgen.Condition {
	return q.where
}

// GroupBy sets the GROUP BY columns
func (q *Query) GroupBy(columns ...string) *Query {
	for _, c := range columns {
		if err := sqlgen.CheckIdentifier(c, "group by"); err != nil {
			q.errs = append(q.errs, err)
			continue
		}
		q.groupBy = append(q.groupBy, c)
	}
	return q
}

// Having sets the HAVING condition
func (q *Query) Having(cond sqlgen.Condition) *Query {
	q.having = cond
	return q
}

// OrderBy appends ORDER BY entries
func (q *Query) OrderBy(orders ...Order) *Query {
	for _, o := range orders {
		if err := sqlgen.CheckIdentifier(o.Column, "order by"); err != nil {
			q.errs = append(q.errs, err)
			continue
		}
		q.orderBy = append(q.orderBy, o)
	}
	return q
}

// Limit sets the row limit; zero means none
func (q *Query) Limit(n int) *Query {
	q.limit = max(n, 0)
	return q
}

// Offset sets the row offset; zero means none
func (q *Query) Offset(n int) *Query {
	q.offset = max(n, 0)
	return q
}

// Build compiles the query
func (q *Query) Build() (sqlgen.Statement, error) {
	if len(q.errs) > 0 {
		return sqlgen.Statement{}, errors.Join(q.errs...)
	}
	if q.from.name == "" {
		return sqlgen.Statement{}, fmt.Errorf("%w: query has no source table", runtime.ErrInvalidCondition)
	}
	d := q.exec.Dialect()

	var b strings.Builder
	b.WriteString("SELECT ")
	if q.distinct {
		b.WriteString("DISTINCT ")
	}
	if len(q.selects) == 0 {
		b.WriteString("*")
	} else {
		cols := make([]string, len(q.selects))
		for i, s := range q.selects {
			if s.raw != "" {
				cols[i] = s.raw
			} else {
				cols[i] = s.col.Render(d)
			}
		}
		b.WriteString(strings.Join(cols, ", "))
	}
	b.WriteString(" FROM ")
	b.WriteString(q.from.render(d))

	for _, j := range q.joins {
		b.WriteByte(' ')
		b.WriteString(j.render(d))
	}

	where, err := sqlgen.Compile(q.where, d, 0)
	if err != nil {
		return sqlgen.Statement{}, err
	}
	params := where.Params
	if where.SQL != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where.SQL)
	}

	if len(q.groupBy) > 0 {
		cols := make([]string, len(q.groupBy))
		for i, c := range q.groupBy {
			cols[i] = d.QuoteIdentifier(c)
		}
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(cols, ", "))
	}

	having, err := sqlgen.Compile(q.having, d, where.Next)
	if err != nil {
		return sqlgen.Statement{}, err
	}
	if having.SQL != "" {
		b.WriteString(" HAVING ")
		b.WriteString(having.SQL)
		params = append(params, having.Params...)
	}

	if len(q.orderBy) > 0 {
		parts := make([]string, len(q.orderBy))
		for i, o := range q.orderBy {
			parts[i] = d.QuoteIdentifier(o.Column) + " " + o.direction()
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(parts, ", "))
	}

	if tail := d.LimitOffset(q.limit, q.offset); tail != "" {
		b.WriteByte(' ')
		b.WriteString(tail)
	}
	return sqlgen.Statement{SQL: b.String(), Params: params}, nil
}

// All returns every matching row
func (q *Query) All(ctx context.Context) ([]*record.Record, error) {
	stmt, err := q.Build()
	if err != nil {
		return nil, err
	}
	return q.exec.Query(ctx, stmt)
}

// One returns the first matching row or nil
func (q *Query) One(ctx context.Context) (*record.Record, error) {
	rows, err := q.Clone().Limit(1).All(ctx)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Scalar returns the first column of the first row, or nil without rows
func (q *Query) Scalar(ctx context.Context) (any, error) {
	row, err := q.One(ctx)
	if err != nil || row == nil || row.Len() == 0 {
		return nil, err
	}
	return row.Value(row.Keys()[0]), nil
}

// Column returns the first column of every row
func (q *Query) Column(ctx context.Context) ([]any, error) {
	rows, err := q.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		if keys := row.Keys(); len(keys) > 0 {
			out = append(out, row.Value(keys[0]))
		}
	}
	return out, nil
}

// CountStatement compiles the COUNT query for expr without touching q
func (q *Query) CountStatement(expr string) (sqlgen.Statement, error) {
	if expr == "" {
		expr = "*"
	}
	if expr != "*" {
		if err := sqlgen.CheckIdentifier(expr, "count"); err != nil {
			return sqlgen.Statement{}, err
		}
	}
	d := q.exec.Dialect()

	c := q.Clone()
	c.orderBy = nil
	c.limit, c.offset = 0, 0

	if c.distinct || len(c.groupBy) > 0 {
		inner, err := c.Build()
		if err != nil {
			return sqlgen.Statement{}, err
		}
		return sqlgen.Statement{
			SQL:    fmt.Sprintf("SELECT COUNT(*) AS %s FROM (%s) %s", d.QuoteIdentifier("aggregate"), inner.SQL, d.QuoteIdentifier("counted")),
			Params: inner.Params,
		}, nil
	}

	target := "*"
	if expr != "*" {
		target = d.QuoteIdentifier(expr)
	}
	c.selects = []selectItem{{raw: fmt.Sprintf("COUNT(%s) AS %s", target, d.QuoteIdentifier("aggregate"))}}
	return c.Build()
}

// Count returns the number of matching rows. expr defaults to "*".
func (q *Query) Count(ctx context.Context, expr ...string) (int64, error) {
	e := "*"
	if len(expr) > 0 {
		e = expr[0]
	}
	stmt, err := q.CountStatement(e)
	if err != nil {
		return 0, err
	}
	rows, err := q.exec.Query(ctx, stmt)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return ToInt64(rows[0].Value("aggregate"))
}

// Exists reports whether any row matches
func (q *Query) Exists(ctx context.Context) (bool, error) {
	row, err := q.One(ctx)
	return row != nil, err
}

// ToInt64 converts a driver aggregate value to int64
func ToInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("unexpected count value %T", v)
}
