package sqlgen

import (
	"fmt"
	"strings"

	"github.com/satishbabariya/recordkit/dialect"
	"github.com/satishbabariya/recordkit/runtime"
)

// Param is one named binding
type Param struct {
	Name  string
	Value any
}

// Statement is SQL with :name placeholders plus its ordered bindings
type Statement struct {
	SQL    string
	Params []Param
}

// Lookup returns the value bound to name
func (s Statement) Lookup(name string) (any, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// Bindings returns the parameters as a map
func (s Statement) Bindings() map[string]any {
	out := make(map[string]any, len(s.Params))
	for _, p := range s.Params {
		out[p.Name] = p.Value
	}
	return out
}

// Positional rewrites the named placeholders into the dialect's positional
// form and returns the arguments in order. Quoted regions and :: casts are
// left untouched.
func (s Statement) Positional(d dialect.Dialect) (string, []any, error) {
	values := s.Bindings()
	var (
		b    strings.Builder
		args []any
		src  = s.SQL
	)
	b.Grow(len(src))

	for i := 0; i < len(src); i++ {
		ch := src[i]
		switch ch {
		case '\'', '"', '`':
			end := closingQuote(src, i)
			b.WriteString(src[i:end])
			i = end - 1
			continue
		case ':':
			if i+1 < len(src) && src[i+1] == ':' {
				b.WriteString("::")
				i++
				continue
			}
			j := i + 1
			for j < len(src) && isNameByte(src[j], j == i+1) {
				j++
			}
			if j == i+1 {
				b.WriteByte(ch)
				continue
			}
			name := src[i+1 : j]
			v, ok := values[name]
			if !ok {
				return "", nil, fmt.Errorf("%w: unbound parameter :%s", runtime.ErrInvalidCondition, name)
			}
			args = append(args, v)
			b.WriteString(d.Placeholder(len(args)))
			i = j - 1
			continue
		}
		b.WriteByte(ch)
	}
	return b.String(), args, nil
}

// closingQuote returns the index just past the quoted region starting at i.
// Doubled quote characters are treated as escapes.
func closingQuote(src string, i int) int {
	q := src[i]
	for j := i + 1; j < len(src); j++ {
		if src[j] != q {
			continue
		}
		if j+1 < len(src) && src[j+1] == q {
			j++
			continue
		}
		return j + 1
	}
	return len(src)
}

func isNameByte(c byte, first bool) bool {
	switch {
	case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return !first
	}
	return false
}
