package builder

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/satishbabariya/recordkit/dialect"
	"github.com/satishbabariya/recordkit/query/sqlgen"
	"github.com/satishbabariya/recordkit/runtime"
)

var (
	// onClauseRe matches one "a.b = c.d" comparison
	onClauseRe = regexp.MustCompile(`^\s*([A-Za-z0-9_.-]+)\s*(=|!=|<>|<=|>=|<|>)\s*([A-Za-z0-9_.-]+)\s*$`)
	andRe      = regexp.MustCompile(`(?i)\s+AND\s+`)
)

type tableRef struct {
	name  string
	alias string
}

func parseTableRef(src string) (tableRef, error) {
	fields := strings.Fields(src)
	var ref tableRef
	switch {
	case len(fields) == 1:
		ref.name = fields[0]
	case len(fields) == 2:
		ref.name, ref.alias = fields[0], fields[1]
	case len(fields) == 3 && strings.EqualFold(fields[1], "AS"):
		ref.name, ref.alias = fields[0], fields[2]
	default:
		return ref, runtime.NewInvalidIdentifier(src, "table")
	}
	if err := sqlgen.CheckIdentifier(ref.name, "table"); err != nil {
		return ref, err
	}
	if ref.alias != "" && (!sqlgen.ValidIdentifier(ref.alias) || strings.Contains(ref.alias, ".")) {
		return ref, runtime.NewInvalidIdentifier(ref.alias, "table alias")
	}
	return ref, nil
}

func (t tableRef) render(d dialect.Dialect) string {
	if t.alias == "" {
		return d.QuoteIdentifier(t.name)
	}
	return d.QuoteIdentifier(t.name) + " " + d.QuoteIdentifier(t.alias)
}

type onClause struct {
	left, op, right string
}

type join struct {
	kind  string
	table tableRef
	on    []onClause
}

func (j join) render(d dialect.Dialect) string {
	parts := make([]string, len(j.on))
	for i, c := range j.on {
		parts[i] = fmt.Sprintf("%s %s %s", d.QuoteIdentifier(c.left), c.op, d.QuoteIdentifier(c.right))
	}
	return fmt.Sprintf("%s JOIN %s ON %s", j.kind, j.table.render(d), strings.Join(parts, " AND "))
}

// parseOn accepts column comparisons joined by AND, e.g. "posts.user_id = users.id"
func parseOn(on string) ([]onClause, error) {
	var out []onClause
	for _, part := range andRe.Split(strings.TrimSpace(on), -1) {
		m := onClauseRe.FindStringSubmatch(part)
		if m == nil {
			return nil, runtime.NewInvalidIdentifier(on, "join condition")
		}
		for _, id := range []string{m[1], m[3]} {
			if err := sqlgen.CheckIdentifier(id, "join condition"); err != nil {
				return nil, err
			}
		}
		out = append(out, onClause{left: m[1], op: m[2], right: m[3]})
	}
	return out, nil
}

// Join adds an INNER JOIN
func (q *Query) Join(table, on string) *Query {
	return q.addJoin("INNER", table, on)
}

// InnerJoin adds an INNER JOIN
func (q *Query) InnerJoin(table, on string) *Query {
	return q.addJoin("INNER", table, on)
}

// LeftJoin adds a LEFT JOIN
func (q *Query) LeftJoin(table, on string) *Query {
	return q.addJoin("LEFT", table, on)
}

// RightJoin adds a RIGHT JOIN
func (q *Query) RightJoin(table, on string) *Query {
	return q.addJoin("RIGHT", table, on)
}

func (q *Query) addJoin(kind, table, on string) *Query {
	ref, err := parseTableRef(table)
	if err != nil {
		q.errs = append(q.errs, err)
		return q
	}
	clauses, err := parseOn(on)
	if err != nil {
		q.errs = append(q.errs, err)
		return q
	}
	q.joins = append(q.joins, join{kind: kind, table: ref, on: clauses})
	return q
}
