package activerecord

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/satishbabariya/recordkit/query/builder"
	"github.com/satishbabariya/recordkit/query/executor"
	"github.com/satishbabariya/recordkit/query/sqlgen"
	"github.com/satishbabariya/recordkit/record"
	"github.com/satishbabariya/recordkit/runtime"
)

// pivotKeyColumn carries the parent key of belongsToMany rows until they are
// grouped
const pivotKeyColumn = "__pivot_key"

// relationSpec is the merged request for one base relation
type relationSpec struct {
	name    string
	all     bool
	columns []string
	nested  []string
}

// parseRelationSpecs groups specifiers by base relation in first-seen order.
// "author:id,name" narrows the projection, "comments.author" loads author on
// every comment. A base requested without columns anywhere loads all columns.
func parseRelationSpecs(specs []string) []*relationSpec {
	var out []*relationSpec
	byName := make(map[string]*relationSpec)

	for _, s := range specs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		base, rest, nested := strings.Cut(s, ".")

		var cols []string
		if name, list, ok := strings.Cut(base, ":"); ok {
			base = name
			if !nested {
				cols = splitColumns(list)
			}
		}

		sp, ok := byName[base]
		if !ok {
			sp = &relationSpec{name: base}
			byName[base] = sp
			out = append(out, sp)
		}
		switch {
		case nested:
			sp.nested = append(sp.nested, rest)
		case len(cols) == 0:
			sp.all = true
		default:
			for _, c := range cols {
				if !slices.Contains(sp.columns, c) {
					sp.columns = append(sp.columns, c)
				}
			}
		}
	}

	for _, sp := range out {
		if len(sp.columns) == 0 {
			sp.all = true
		}
	}
	return out
}

func splitColumns(list string) []string {
	var cols []string
	for _, c := range strings.Split(list, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}

func specNames(specs []*relationSpec) map[string]bool {
	names := make(map[string]bool, len(specs))
	for _, sp := range specs {
		names[sp.name] = true
	}
	return names
}

// keysPerQuery bounds the IN list of one relation query, below the 999 bind
// parameter limit of older sqlite builds
var keysPerQuery = 500

// loader attaches related rows with one query per relation and key chunk
type loader struct {
	exec     *executor.Executor
	registry *Registry
}

// attach loads every spec onto rows in order. Any failure aborts the call.
func (l *loader) attach(ctx context.Context, parent *Descriptor, rows []*record.Record, specs []*relationSpec) error {
	if len(rows) == 0 {
		return nil
	}
	for _, sp := range specs {
		rel, ok := parent.Relation(sp.name)
		if !ok {
			return fmt.Errorf("%w: %s.%s", runtime.ErrUnknownRelation, parent.table, sp.name)
		}
		if err := l.load(ctx, rel, sp, rows); err != nil {
			return fmt.Errorf("load relation %s.%s: %w", parent.table, rel.Name, err)
		}
	}
	return nil
}

func (l *loader) load(ctx context.Context, rel Relation, sp *relationSpec, rows []*record.Record) error {
	keys := distinctKeys(rows, rel.LocalKey)
	if len(keys) == 0 {
		setRelation(rel, rows, nil)
		return nil
	}

	related, _ := l.registry.Lookup(rel.Table)
	var nested []*relationSpec
	if len(sp.nested) > 0 {
		if related == nil {
			return fmt.Errorf("%w: %s is not registered for nested loading", runtime.ErrUnknownRelation, rel.Table)
		}
		nested = parseRelationSpecs(sp.nested)
	}

	var (
		fetched  []*record.Record
		groupKey string
	)
	for chunk := range slices.Chunk(keys, keysPerQuery) {
		rows, key, err := l.fetch(ctx, rel, sp, related, nested, chunk)
		if err != nil {
			return err
		}
		fetched, groupKey = append(fetched, rows...), key
	}
	if len(nested) > 0 {
		if err := l.attach(ctx, related, fetched, nested); err != nil {
			return err
		}
	}

	groups := make(map[string][]*record.Record)
	for _, r := range fetched {
		k := keyString(r.Value(groupKey))
		groups[k] = append(groups[k], r)
		if groupKey == pivotKeyColumn {
			r.Delete(pivotKeyColumn)
		}
	}
	stripHidden(related, fetched, specNames(nested))

	setRelation(rel, rows, groups)
	return nil
}

// fetch runs the single query for a relation and returns the rows with the
// column they are grouped by
func (l *loader) fetch(ctx context.Context, rel Relation, sp *relationSpec, related *Descriptor, nested []*relationSpec, keys []any) ([]*record.Record, string, error) {
	cols := sp.columns
	if sp.all {
		cols = rel.Columns
	}
	if len(cols) > 0 {
		// nested relations read their local key from these rows
		for _, n := range nested {
			if nr, ok := related.Relation(n.name); ok {
				cols = appendMissing(cols, nr.LocalKey)
			}
		}
	}

	q := builder.New(l.exec)
	switch rel.Kind {
	case BelongsToManyKind:
		selects := []string{rel.PivotTable + "." + rel.PivotLocalKey + " AS " + pivotKeyColumn}
		if len(cols) == 0 {
			selects = append(selects, rel.Table+".*")
		}
		for _, c := range cols {
			selects = append(selects, rel.Table+"."+c)
		}
		q.Select(selects...).
			From(rel.Table).
			InnerJoin(rel.PivotTable, rel.PivotTable+"."+rel.PivotForeignKey+" = "+rel.Table+"."+rel.ForeignKey).
			Where(sqlgen.Map{rel.PivotTable + "." + rel.PivotLocalKey: keys})
		if related != nil {
			for _, pk := range related.primaryKey {
				q.OrderBy(builder.Asc(rel.Table + "." + pk))
			}
		}
		rows, err := q.All(ctx)
		return rows, pivotKeyColumn, err

	default:
		if len(cols) > 0 {
			cols = appendMissing(cols, rel.ForeignKey)
		}
		q.Select(cols...).
			From(rel.Table).
			Where(sqlgen.Map{rel.ForeignKey: keys})
		if related != nil {
			for _, pk := range related.primaryKey {
				q.OrderBy(builder.Asc(pk))
			}
		}
		rows, err := q.All(ctx)
		return rows, rel.ForeignKey, err
	}
}

// setRelation attaches grouped rows to each parent under the relation name;
// belongsTo attaches a single record or nil
func setRelation(rel Relation, rows []*record.Record, groups map[string][]*record.Record) {
	for _, row := range rows {
		var list []*record.Record
		if v, ok := row.Get(rel.LocalKey); ok && v != nil {
			list = groups[keyString(v)]
		}
		if rel.Kind == BelongsToKind {
			if len(list) > 0 {
				row.Set(rel.Name, list[0])
			} else {
				row.Set(rel.Name, nil)
			}
			continue
		}
		if list == nil {
			list = []*record.Record{}
		}
		row.Set(rel.Name, list)
	}
}

// distinctKeys collects the non-null values of column in first-seen order
func distinctKeys(rows []*record.Record, column string) []any {
	seen := make(map[string]bool)
	var keys []any
	for _, row := range rows {
		v, ok := row.Get(column)
		if !ok || v == nil {
			continue
		}
		k := keyString(v)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, v)
		}
	}
	return keys
}

// keyString normalizes key values so int64(1), "1" and []byte("1") match
func keyString(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}

func appendMissing(cols []string, col string) []string {
	if slices.Contains(cols, col) {
		return cols
	}
	return append(slices.Clone(cols), col)
}
