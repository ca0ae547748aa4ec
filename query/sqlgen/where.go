// Package sqlgen provides WHERE clause structures.
package sqlgen

import (
	"sort"
	"strings"
)

// Condition is a declarative filter compiled into a WHERE or HAVING fragment.
// It is one of Map, Op, Group, Not or Expr.
type Condition interface {
	isCondition()
}

// Map is a flat column -> value condition. A slice value becomes IN, a nil
// value becomes IS NULL and anything else becomes equality. Entries are
// joined with AND in column order.
type Map map[string]any

// Op is an operator tuple such as (">=", "age", 18) or ("LIKE", "name", "an").
type Op struct {
	Operator string
	Column   string
	Value    any
}

// Group combines conditions with AND or OR.
type Group struct {
	Combinator string
	Items      []Condition
}

// Not negates a condition.
type Not struct {
	Cond Condition
}

// Expr is a trusted SQL fragment with its own named parameters. It is never
// validated and must not carry caller input in SQL.
type Expr struct {
	SQL    string
	Params []Param
}

func (Map) isCondition()   {}
func (Op) isCondition()    {}
func (Group) isCondition() {}
func (Not) isCondition()   {}
func (Expr) isCondition()  {}

// Where builds an operator tuple
func Where(operator, column string, value any) Op {
	return Op{Operator: operator, Column: column, Value: value}
}

// And joins conditions with AND
func And(items ...Condition) Group {
	return Group{Combinator: "AND", Items: items}
}

// Or joins conditions with OR
func Or(items ...Condition) Group {
	return Group{Combinator: "OR", Items: items}
}

// Raw builds a trusted expression
func Raw(sql string, params ...Param) Expr {
	return Expr{SQL: sql, Params: params}
}

// sortedKeys returns the map's columns in a deterministic order
func (m Map) sortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsEmpty reports whether cond compiles to nothing
func IsEmpty(cond Condition) bool {
	switch c := cond.(type) {
	case nil:
		return true
	case Map:
		return len(c) == 0
	case Group:
		for _, item := range c.Items {
			if !IsEmpty(item) {
				return false
			}
		}
		return true
	case Not:
		return IsEmpty(c.Cond)
	case Expr:
		return strings.TrimSpace(c.SQL) == ""
	}
	return false
}

// Merge ANDs two conditions, dropping empty ones
func Merge(a, b Condition) Condition {
	switch {
	case IsEmpty(a):
		return b
	case IsEmpty(b):
		return a
	}
	return And(a, b)
}
