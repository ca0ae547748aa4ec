// Package filter parses textual filter expressions into conditions, e.g.
//
//	status IN ('active', 'pending') AND (age >= 18 OR role = 'admin')
//
// Supported predicates are comparisons, [NOT] LIKE/ILIKE, [NOT] IN,
// [NOT] BETWEEN and IS [NOT] NULL combined with AND, OR, NOT and parentheses.
// Keywords are case-insensitive; strings use single quotes with '' escapes.
package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/satishbabariya/recordkit/query/sqlgen"
	"github.com/satishbabariya/recordkit/runtime"
)

// Lexer defines the token types of filter expressions.
var Lexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Keyword", Pattern: `(?i)\b(AND|OR|NOT|IN|IS|NULL|LIKE|ILIKE|BETWEEN|TRUE|FALSE)\b`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)?`},
	{Name: "String", Pattern: `'(?:''|[^'])*'`},
	{Name: "Number", Pattern: `-?\d+(?:\.\d+)?`},
	{Name: "Operator", Pattern: `<>|!=|<=|>=|=|<|>`},
	{Name: "Punct", Pattern: `[(),]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

// Expression is the root of a parsed filter.
type Expression struct {
	Pos lexer.Position
	Or  []*AndExpr `@@ ( "OR" @@ )*`
}

// AndExpr is a conjunction of terms.
type AndExpr struct {
	Terms []*Term `@@ ( "AND" @@ )*`
}

// Term is a negation, a parenthesized expression or a predicate.
type Term struct {
	Not       *Term       `  "NOT" @@`
	Group     *Expression `| "(" @@ ")"`
	Predicate *Predicate  `| @@`
}

// Predicate tests one column.
type Predicate struct {
	Pos    lexer.Position
	Column string `@Ident`
	Test   *Test  `@@`
}

// Test is the right-hand side of a predicate.
type Test struct {
	Null    *NullTest   `  @@`
	Compare *Comparison `| @@`
	Between *Between    `| @@`
	In      *InList     `| @@`
	Like    *Like       `| @@`
}

// NullTest is IS [NOT] NULL.
type NullTest struct {
	Not bool `"IS" @"NOT"? "NULL"`
}

// Comparison is an operator and its right-hand value.
type Comparison struct {
	Operator string `@Operator`
	Value    *Value `@@`
}

// Between holds the inclusive bounds of a range test.
type Between struct {
	Not  bool   `@"NOT"? "BETWEEN"`
	Low  *Value `@@`
	High *Value `"AND" @@`
}

// InList is a parenthesized value list.
type InList struct {
	Not    bool     `@"NOT"? "IN"`
	Values []*Value `"(" @@ ( "," @@ )* ")"`
}

// Like is a pattern match; ILIKE is case-insensitive on PostgreSQL.
type Like struct {
	Not      bool   `@"NOT"?`
	Operator string `@("LIKE" | "ILIKE")`
	Pattern  *Value `@@`
}

// Value is a literal.
type Value struct {
	String *string `  @String`
	Number *string `| @Number`
	Bool   *string `| @("TRUE" | "FALSE")`
	Null   bool    `| @"NULL"`
}

var parser = participle.MustBuild[Expression](
	participle.Lexer(Lexer),
	participle.Elide("Whitespace"),
	participle.CaseInsensitive("Keyword"),
	participle.UseLookahead(4),
)

// ParseExpression parses expr into its syntax tree.
func ParseExpression(expr string) (*Expression, error) {
	return parser.ParseString("", expr)
}

// Parse parses expr into a condition. An empty expression yields nil.
func Parse(expr string) (sqlgen.Condition, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	ast, err := ParseExpression(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", runtime.ErrInvalidCondition, err)
	}
	return ast.Condition()
}

// MustParse is Parse that panics on error.
func MustParse(expr string) sqlgen.Condition {
	cond, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return cond
}

// Condition converts the tree into a condition.
func (e *Expression) Condition() (sqlgen.Condition, error) {
	items := make([]sqlgen.Condition, 0, len(e.Or))
	for _, a := range e.Or {
		c, err := a.condition()
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	if len(items) == 1 {
		return items[0], nil
	}
	return sqlgen.Or(items...), nil
}

func (a *AndExpr) condition() (sqlgen.Condition, error) {
	items := make([]sqlgen.Condition, 0, len(a.Terms))
	for _, t := range a.Terms {
		c, err := t.condition()
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	if len(items) == 1 {
		return items[0], nil
	}
	return sqlgen.And(items...), nil
}

func (t *Term) condition() (sqlgen.Condition, error) {
	switch {
	case t.Not != nil:
		c, err := t.Not.condition()
		if err != nil {
			return nil, err
		}
		return sqlgen.Not{Cond: c}, nil
	case t.Group != nil:
		return t.Group.Condition()
	default:
		return t.Predicate.condition()
	}
}

func (p *Predicate) condition() (sqlgen.Condition, error) {
	t := p.Test
	switch {
	case t.Null != nil:
		if t.Null.Not {
			return sqlgen.Where("IS NOT NULL", p.Column, nil), nil
		}
		return sqlgen.Where("IS NULL", p.Column, nil), nil

	case t.Compare != nil:
		v, err := t.Compare.Value.literal()
		if err != nil {
			return nil, err
		}
		if v == nil && t.Compare.Operator != "=" && t.Compare.Operator != "!=" && t.Compare.Operator != "<>" {
			return nil, fmt.Errorf("%w: %s %s NULL at %s", runtime.ErrInvalidCondition, p.Column, t.Compare.Operator, p.Pos)
		}
		return sqlgen.Where(t.Compare.Operator, p.Column, v), nil

	case t.Between != nil:
		lo, err := t.Between.Low.literal()
		if err != nil {
			return nil, err
		}
		hi, err := t.Between.High.literal()
		if err != nil {
			return nil, err
		}
		return sqlgen.Where(negate(t.Between.Not, "BETWEEN"), p.Column, []any{lo, hi}), nil

	case t.In != nil:
		values := make([]any, len(t.In.Values))
		for i, v := range t.In.Values {
			lit, err := v.literal()
			if err != nil {
				return nil, err
			}
			values[i] = lit
		}
		return sqlgen.Where(negate(t.In.Not, "IN"), p.Column, values), nil

	case t.Like != nil:
		v, err := t.Like.Pattern.literal()
		if err != nil {
			return nil, err
		}
		return sqlgen.Where(negate(t.Like.Not, strings.ToUpper(t.Like.Operator)), p.Column, fmt.Sprint(v)), nil
	}
	return nil, fmt.Errorf("%w: incomplete predicate on %s", runtime.ErrInvalidCondition, p.Column)
}

func negate(not bool, operator string) string {
	if not {
		return "NOT " + operator
	}
	return operator
}

func (v *Value) literal() (any, error) {
	switch {
	case v.String != nil:
		s := *v.String
		return strings.ReplaceAll(s[1:len(s)-1], "''", "'"), nil
	case v.Number != nil:
		if !strings.Contains(*v.Number, ".") {
			return strconv.ParseInt(*v.Number, 10, 64)
		}
		return strconv.ParseFloat(*v.Number, 64)
	case v.Bool != nil:
		return strings.EqualFold(*v.Bool, "TRUE"), nil
	}
	return nil, nil
}
