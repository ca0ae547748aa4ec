// Package sqlgen provides WHERE clause building logic.
package sqlgen

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/satishbabariya/recordkit/dialect"
	"github.com/satishbabariya/recordkit/runtime"
)

// Fragment is a compiled condition. Next is the seed to pass to the next
// Compile call so parameter names stay unique within one statement.
type Fragment struct {
	SQL    string
	Params []Param
	Next   int
}

// Compile renders cond as a WHERE/HAVING body with named placeholders of the
// form :p<seed>_<column>. An empty condition yields an empty fragment.
func Compile(cond Condition, d dialect.Dialect, seed int) (Fragment, error) {
	c := &compiler{d: d, seed: seed}
	sql, _, err := c.compile(cond)
	if err != nil {
		return Fragment{Next: seed}, err
	}
	return Fragment{SQL: sql, Params: c.params, Next: c.seed}, nil
}

type compiler struct {
	d      dialect.Dialect
	seed   int
	params []Param
}

// bind registers value and returns its placeholder
func (c *compiler) bind(column, suffix string, value any) string {
	name := fmt.Sprintf("p%d_%s%s", c.seed, paramSuffix(column), suffix)
	c.seed++
	c.params = append(c.params, Param{Name: name, Value: value})
	return ":" + name
}

// compile returns the SQL and whether it holds more than one clause
func (c *compiler) compile(cond Condition) (string, bool, error) {
	switch v := cond.(type) {
	case nil:
		return "", false, nil
	case Map:
		return c.compileMap(v)
	case Op:
		sql, err := c.compileOp(v)
		return sql, false, err
	case *Op:
		if v == nil {
			return "", false, nil
		}
		sql, err := c.compileOp(*v)
		return sql, false, err
	case Group:
		return c.compileGroup(v)
	case Not:
		inner, _, err := c.compile(v.Cond)
		if err != nil || inner == "" {
			return "", false, err
		}
		return "NOT (" + inner + ")", false, nil
	case Expr:
		if strings.TrimSpace(v.SQL) == "" {
			return "", false, nil
		}
		c.params = append(c.params, v.Params...)
		return v.SQL, true, nil
	default:
		return "", false, fmt.Errorf("%w: unsupported condition type %T", runtime.ErrInvalidCondition, cond)
	}
}

func (c *compiler) compileMap(m Map) (string, bool, error) {
	if len(m) == 0 {
		return "", false, nil
	}
	keys := m.sortedKeys()
	for _, col := range keys {
		if err := CheckIdentifier(col, "condition"); err != nil {
			return "", false, err
		}
	}
	parts := make([]string, 0, len(keys))
	for _, col := range keys {
		quoted := c.d.QuoteIdentifier(col)
		value := m[col]
		if value == nil {
			parts = append(parts, quoted+" IS NULL")
			continue
		}
		if list, ok := listValues(value); ok {
			parts = append(parts, c.in(col, quoted, list, false))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s = %s", quoted, c.bind(col, "", value)))
	}
	return strings.Join(parts, " AND "), len(parts) > 1, nil
}

func (c *compiler) compileOp(op Op) (string, error) {
	if err := CheckIdentifier(op.Column, "condition"); err != nil {
		return "", err
	}
	operator := normalizeOperator(op.Operator)
	quoted := c.d.QuoteIdentifier(op.Column)

	switch operator {
	case "=", "!=", "<>", ">", ">=", "<", "<=":
		if op.Value == nil {
			switch operator {
			case "=":
				return quoted + " IS NULL", nil
			case "!=", "<>":
				return quoted + " IS NOT NULL", nil
			}
			return "", fmt.Errorf("%w: %s %s NULL", runtime.ErrInvalidCondition, op.Column, operator)
		}
		return fmt.Sprintf("%s %s %s", quoted, operator, c.bind(op.Column, "", op.Value)), nil

	case "LIKE", "NOT LIKE", "ILIKE", "NOT ILIKE":
		pattern := fmt.Sprint(op.Value)
		if !strings.Contains(pattern, "%") {
			pattern = "%" + pattern + "%"
		}
		if c.d.Kind() != dialect.Pgsql {
			operator = strings.Replace(operator, "ILIKE", "LIKE", 1)
		}
		return fmt.Sprintf("%s %s %s", quoted, operator, c.bind(op.Column, "", pattern)), nil

	case "IN", "NOT IN":
		list, ok := listValues(op.Value)
		if !ok {
			list = []any{op.Value}
		}
		return c.in(op.Column, quoted, list, operator == "NOT IN"), nil

	case "BETWEEN", "NOT BETWEEN":
		bounds, ok := listValues(op.Value)
		if !ok || len(bounds) != 2 {
			return "", fmt.Errorf("%w: %s on %s needs exactly two bounds", runtime.ErrInvalidCondition, operator, op.Column)
		}
		lo := c.bind(op.Column, "_lo", bounds[0])
		hi := c.bind(op.Column, "_hi", bounds[1])
		return fmt.Sprintf("%s %s %s AND %s", quoted, operator, lo, hi), nil

	case "IS NULL", "IS NOT NULL":
		return quoted + " " + operator, nil
	}
	return "", fmt.Errorf("%w: %q", runtime.ErrUnsupportedOperator, op.Operator)
}

func (c *compiler) compileGroup(g Group) (string, bool, error) {
	combinator := normalizeOperator(g.Combinator)
	if combinator == "" {
		combinator = "AND"
	}
	if combinator != "AND" && combinator != "OR" {
		return "", false, fmt.Errorf("%w: combinator %q", runtime.ErrInvalidCondition, g.Combinator)
	}

	type part struct {
		sql      string
		compound bool
	}
	var parts []part
	for _, item := range g.Items {
		sql, compound, err := c.compile(item)
		if err != nil {
			return "", false, err
		}
		if sql != "" {
			parts = append(parts, part{sql, compound})
		}
	}

	switch len(parts) {
	case 0:
		return "", false, nil
	case 1:
		return parts[0].sql, parts[0].compound, nil
	}
	rendered := make([]string, len(parts))
	for i, p := range parts {
		if p.compound {
			rendered[i] = "(" + p.sql + ")"
		} else {
			rendered[i] = p.sql
		}
	}
	return strings.Join(rendered, " "+combinator+" "), true, nil
}

// in renders an IN list; an empty list never matches (or always matches for NOT IN)
func (c *compiler) in(column, quoted string, list []any, negate bool) string {
	if len(list) == 0 {
		if negate {
			return "1 = 1"
		}
		return "1 = 0"
	}
	placeholders := make([]string, len(list))
	for i, v := range list {
		placeholders[i] = c.bind(column, "", v)
	}
	keyword := "IN"
	if negate {
		keyword = "NOT IN"
	}
	return fmt.Sprintf("%s %s (%s)", quoted, keyword, strings.Join(placeholders, ", "))
}

func normalizeOperator(op string) string {
	return strings.ToUpper(strings.Join(strings.Fields(op), " "))
}

// paramSuffix turns a validated identifier into a placeholder-safe suffix
func paramSuffix(column string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(column)
}

// listValues expands slices and arrays (except []byte) into []any
func listValues(v any) ([]any, bool) {
	switch vv := v.(type) {
	case nil, []byte:
		return nil, false
	case []any:
		return vv, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
