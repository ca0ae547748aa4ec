package builder

import "github.com/satishbabariya/recordkit/query/sqlgen"

// WhereBuilder builds operator-tuple conditions fluently
type WhereBuilder struct {
	items      []sqlgen.Condition
	combinator string
}

// NewWhereBuilder creates a builder joining its conditions with AND
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{combinator: "AND"}
}

// AnyOf creates a builder joining its conditions with OR
func AnyOf() *WhereBuilder {
	return &WhereBuilder{combinator: "OR"}
}

func (w *WhereBuilder) add(op, field string, value any) *WhereBuilder {
	w.items = append(w.items, sqlgen.Where(op, field, value))
	return w
}

// Equals adds an equality condition
func (w *WhereBuilder) Equals(field string, value any) *WhereBuilder {
	return w.add("=", field, value)
}

// NotEquals adds a not-equals condition
func (w *WhereBuilder) NotEquals(field string, value any) *WhereBuilder {
	return w.add("!=", field, value)
}

// GreaterThan adds a greater-than condition
func (w *WhereBuilder) GreaterThan(field string, value any) *WhereBuilder {
	return w.add(">", field, value)
}

// LessThan adds a less-than condition
func (w *WhereBuilder) LessThan(field string, value any) *WhereBuilder {
	return w.add("<", field, value)
}

// GreaterOrEqual adds a greater-or-equal condition
func (w *WhereBuilder) GreaterOrEqual(field string, value any) *WhereBuilder {
	return w.add(">=", field, value)
}

// LessOrEqual adds a less-or-equal condition
func (w *WhereBuilder) LessOrEqual(field string, value any) *WhereBuilder {
	return w.add("<=", field, value)
}

// In adds an IN condition
func (w *WhereBuilder) In(field string, values any) *WhereBuilder {
	return w.add("IN", field, values)
}

// NotIn adds a NOT IN condition
func (w *WhereBuilder) NotIn(field string, values any) *WhereBuilder {
	return w.add("NOT IN", field, values)
}

// Like adds a LIKE condition; a pattern without % matches anywhere
func (w *WhereBuilder) Like(field, pattern string) *WhereBuilder {
	return w.add("LIKE", field, pattern)
}

// Between adds a BETWEEN condition
func (w *WhereBuilder) Between(field string, lo, hi any) *WhereBuilder {
	return w.add("BETWEEN", field, []any{lo, hi})
}

// IsNull adds an IS NULL condition
func (w *WhereBuilder) IsNull(field string) *WhereBuilder {
	return w.add("IS NULL", field, nil)
}

// IsNotNull adds an IS NOT NULL condition
func (w *WhereBuilder) IsNotNull(field string) *WhereBuilder {
	return w.add("IS NOT NULL", field, nil)
}

// Group nests another builder
func (w *WhereBuilder) Group(sub *WhereBuilder) *WhereBuilder {
	w.items = append(w.items, sub.Build())
	return w
}

// Build returns the accumulated condition
func (w *WhereBuilder) Build() sqlgen.Condition {
	return sqlgen.Group{Combinator: w.combinator, Items: append([]sqlgen.Condition(nil), w.items...)}
}
