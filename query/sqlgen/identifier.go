package sqlgen

import (
	"regexp"
	"strings"

	"github.com/satishbabariya/recordkit/dialect"
	"github.com/satishbabariya/recordkit/runtime"
)

// validIdentifierRe matches one part of a table or column name.
var validIdentifierRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// maxIdentifierLength caps each dotted part; 64 is the MySQL limit.
const maxIdentifierLength = 64

// ValidIdentifier reports whether name is a plain or table-qualified identifier
func ValidIdentifier(name string) bool {
	if name == "" {
		return false
	}
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return false
	}
	for _, p := range parts {
		if len(p) > maxIdentifierLength || !validIdentifierRe.MatchString(p) {
			return false
		}
	}
	return true
}

// CheckIdentifier returns an InvalidIdentifierError when name fails validation
func CheckIdentifier(name, context string) error {
	if !ValidIdentifier(name) {
		return runtime.NewInvalidIdentifier(name, context)
	}
	return nil
}

// Quote validates and quotes an identifier
func Quote(d dialect.Dialect, name, context string) (string, error) {
	if err := CheckIdentifier(name, context); err != nil {
		return "", err
	}
	return d.QuoteIdentifier(name), nil
}

// SelectColumn is a parsed projection entry
type SelectColumn struct {
	Table  string
	Column string // "*" for all columns
	Alias  string
}

// ParseSelectColumn parses "col", "t.col", "*", "t.*" and "t.col AS alias"
func ParseSelectColumn(expr string) (SelectColumn, error) {
	var sc SelectColumn
	src := strings.TrimSpace(expr)
	if fields := strings.Fields(src); len(fields) == 3 && strings.EqualFold(fields[1], "AS") {
		if !ValidIdentifier(fields[2]) || strings.Contains(fields[2], ".") {
			return sc, runtime.NewInvalidIdentifier(expr, "select alias")
		}
		sc.Alias = fields[2]
		src = fields[0]
	}
	if src == "*" {
		sc.Column = "*"
		return sc, nil
	}
	if table, ok := strings.CutSuffix(src, ".*"); ok {
		if !ValidIdentifier(table) || strings.Contains(table, ".") {
			return sc, runtime.NewInvalidIdentifier(expr, "select")
		}
		sc.Table, sc.Column = table, "*"
		return sc, nil
	}
	if !ValidIdentifier(src) {
		return sc, runtime.NewInvalidIdentifier(expr, "select")
	}
	if table, col, ok := strings.Cut(src, "."); ok {
		sc.Table, sc.Column = table, col
	} else {
		sc.Column = src
	}
	return sc, nil
}

// Render quotes the projection for d
func (sc SelectColumn) Render(d dialect.Dialect) string {
	var b strings.Builder
	if sc.Table != "" {
		b.WriteString(d.QuoteIdentifier(sc.Table))
		b.WriteByte('.')
	}
	if sc.Column == "*" {
		b.WriteByte('*')
	} else {
		b.WriteString(d.QuoteIdentifier(sc.Column))
	}
	if sc.Alias != "" {
		b.WriteString(" AS ")
		b.WriteString(d.QuoteIdentifier(sc.Alias))
	}
	return b.String()
}

// Name is the key the column appears under in a result row
func (sc SelectColumn) Name() string {
	if sc.Alias != "" {
		return sc.Alias
	}
	return sc.Column
}
