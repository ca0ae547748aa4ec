package client

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/satishbabariya/recordkit/record"
)

// Decode maps records onto structs. Columns match the field's db tag, then
// the field name case-insensitively; unmatched columns are ignored.
func Decode[T any](rows []*record.Record) ([]T, error) {
	out := make([]T, 0, len(rows))
	for i, r := range rows {
		var v T
		if err := decodeInto(reflect.ValueOf(&v).Elem(), r); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// DecodeOne maps a single record; a nil record yields nil
func DecodeOne[T any](r *record.Record) (*T, error) {
	if r == nil {
		return nil, nil
	}
	var v T
	if err := decodeInto(reflect.ValueOf(&v).Elem(), r); err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeInto(val reflect.Value, r *record.Record) error {
	if val.Kind() != reflect.Struct {
		return fmt.Errorf("decode target must be a struct, got %s", val.Kind())
	}
	typ := val.Type()
	for _, col := range r.Keys() {
		field, ok := findFieldByName(typ, col)
		if !ok {
			continue
		}
		if err := assign(val.FieldByIndex(field.Index), r.Value(col)); err != nil {
			return fmt.Errorf("column %s: %w", col, err)
		}
	}
	return nil
}

// findFieldByName finds a struct field by database column name (db tag or field name)
func findFieldByName(typ reflect.Type, colName string) (reflect.StructField, bool) {
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		if tag, _, _ := strings.Cut(field.Tag.Get("db"), ","); tag != "" {
			if tag == colName {
				return field, true
			}
			continue
		}
		if strings.EqualFold(field.Name, colName) || strings.EqualFold(field.Name, strings.ReplaceAll(colName, "_", "")) {
			return field, true
		}
	}
	return reflect.StructField{}, false
}

var timeType = reflect.TypeOf(time.Time{})

// assign converts a driver value onto dst; nil leaves dst zeroed
func assign(dst reflect.Value, v any) error {
	if v == nil {
		dst.SetZero()
		return nil
	}
	if dst.Kind() == reflect.Pointer {
		p := reflect.New(dst.Type().Elem())
		if err := assign(p.Elem(), v); err != nil {
			return err
		}
		dst.Set(p)
		return nil
	}

	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	src := reflect.ValueOf(v)
	if dst.Type() == timeType {
		if s, ok := v.(string); ok {
			t, err := parseTime(s)
			if err != nil {
				return err
			}
			dst.Set(reflect.ValueOf(t))
			return nil
		}
	}
	if s, ok := v.(string); ok && dst.Kind() != reflect.String && dst.Kind() != reflect.Interface {
		return fmt.Errorf("cannot assign string %q to %s", s, dst.Type())
	}
	if dst.Kind() == reflect.String && src.Kind() != reflect.String {
		dst.SetString(fmt.Sprint(v))
		return nil
	}
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}
	if src.Type().ConvertibleTo(dst.Type()) {
		dst.Set(src.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", v, dst.Type())
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
