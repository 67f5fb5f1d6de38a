package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// ErrUnknownField is returned when a named field does not exist on a value.
var ErrUnknownField = errors.New("unknown field")

// Criteria maps field names to the values a record must carry to match.
type Criteria map[string]any

// Matches reports whether every criterion equals the corresponding field of e.
// An empty Criteria matches everything.
func (c Criteria) Matches(e Entity) bool {
	for name, want := range c {
		got, ok := FieldValue(e, name)
		if !ok || !ValuesEqual(got, want) {
			return false
		}
	}
	return true
}

type fieldInfo struct {
	name   string
	goName string
	index  []int
}

var fieldCache sync.Map // reflect.Type -> []fieldInfo

// fieldsOf lists the addressable fields of a struct type by their JSON names,
// flattening embedded structs. Shallower fields shadow deeper ones.
func fieldsOf(t reflect.Type) []fieldInfo {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.([]fieldInfo)
	}
	fields := collectFields(t, nil, map[string]bool{})
	fieldCache.Store(t, fields)
	return fields
}

func collectFields(t reflect.Type, prefix []int, seen map[string]bool) []fieldInfo {
	var out []fieldInfo
	var embedded []reflect.StructField
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				embedded = append(embedded, f)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, fieldInfo{name: name, goName: f.Name, index: appendIndex(prefix, f.Index...)})
	}
	for _, f := range embedded {
		ft := f.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		out = append(out, collectFields(ft, appendIndex(prefix, f.Index...), seen)...)
	}
	return out
}

func appendIndex(prefix []int, idx ...int) []int {
	out := make([]int, 0, len(prefix)+len(idx))
	out = append(out, prefix...)
	return append(out, idx...)
}

func structValue(v any) (reflect.Value, bool) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return reflect.Value{}, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	return rv, true
}

func lookupField(t reflect.Type, name string) (fieldInfo, bool) {
	fields := fieldsOf(t)
	for _, f := range fields {
		if f.name == name {
			return f, true
		}
	}
	for _, f := range fields {
		if f.goName == name {
			return f, true
		}
	}
	return fieldInfo{}, false
}

// FieldValue reads a field by JSON name or Go field name. Values behind a nil
// embedded pointer read as nil.
func FieldValue(v any, name string) (any, bool) {
	rv, ok := structValue(v)
	if !ok {
		return nil, false
	}
	f, ok := lookupField(rv.Type(), name)
	if !ok {
		return nil, false
	}
	fv, err := rv.FieldByIndexErr(f.index)
	if err != nil {
		return nil, true
	}
	return fv.Interface(), true
}

// FieldValues returns every field of v keyed by JSON name.
func FieldValues(v any) map[string]any {
	rv, ok := structValue(v)
	if !ok {
		return map[string]any{}
	}
	fields := fieldsOf(rv.Type())
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		fv, err := rv.FieldByIndexErr(f.index)
		if err != nil {
			out[f.name] = nil
			continue
		}
		out[f.name] = fv.Interface()
	}
	return out
}

// HasField reports whether values of v's type carry the named field.
func HasField(v any, name string) bool {
	rv, ok := structValue(v)
	if !ok {
		return false
	}
	_, ok = lookupField(rv.Type(), name)
	return ok
}

// SetFieldValue assigns value to the named field of the struct behind the
// pointer v, converting between numeric kinds and wrapping in pointers as
// needed. A nil value stores the field's zero value.
func SetFieldValue(v any, name string, value any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("set field %q: target must be a non-nil pointer, got %T", name, v)
	}
	sv, ok := structValue(v)
	if !ok {
		return fmt.Errorf("set field %q: target %T is not a struct", name, v)
	}
	f, ok := lookupField(sv.Type(), name)
	if !ok {
		return fmt.Errorf("%w: %s on %T", ErrUnknownField, name, v)
	}
	dst, err := sv.FieldByIndexErr(f.index)
	if err != nil {
		return fmt.Errorf("set field %q: %w", name, err)
	}
	if err := assign(dst, value); err != nil {
		return fmt.Errorf("set field %q on %T: %w", name, v, err)
	}
	return nil
}

func assign(dst reflect.Value, value any) error {
	if value == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	src := reflect.ValueOf(value)
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}
	if src.Kind() == reflect.Pointer {
		if src.IsNil() {
			dst.Set(reflect.Zero(dst.Type()))
			return nil
		}
		return assign(dst, src.Elem().Interface())
	}
	if dst.Kind() == reflect.Pointer {
		elem := reflect.New(dst.Type().Elem())
		if err := assign(elem.Elem(), value); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}
	if convertible(src.Kind(), dst.Kind()) && src.Type().ConvertibleTo(dst.Type()) {
		dst.Set(src.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %s to %s", src.Type(), dst.Type())
}

func convertible(src, dst reflect.Kind) bool {
	switch {
	case isNumeric(src) && isNumeric(dst):
		return true
	case src == reflect.String && dst == reflect.String:
		return true
	}
	return false
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// NormalizeValue folds integer widths to int64, floats to float64, named
// string types to string, and dereferences pointers, so values read from
// differently typed fields compare equal.
func NormalizeValue(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if u := rv.Uint(); u <= 1<<63-1 {
			return int64(u)
		}
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}
	return rv.Interface()
}

// ValuesEqual compares two field values after normalization.
func ValuesEqual(a, b any) bool {
	return reflect.DeepEqual(NormalizeValue(a), NormalizeValue(b))
}

// copyValue detaches slices and maps one level deep so snapshots are not
// mutated through the live entity.
func copyValue(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		cp := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		reflect.Copy(cp, rv)
		return cp.Interface()
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		cp := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			cp.SetMapIndex(iter.Key(), iter.Value())
		}
		return cp.Interface()
	}
	return v
}
