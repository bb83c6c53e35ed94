// Package query composes query strings from structured values.
//
// Nested values use bracket notation (a[b]=c) and slices are serialized
// according to an [ArrayFormat]. Map keys are emitted in sorted order and
// struct fields in declaration order, so output is deterministic.
package query

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ArrayFormat selects how slice values are serialized.
type ArrayFormat string

const (
	// Indices serializes as ids[0]=1&ids[1]=2.
	Indices ArrayFormat = "indices"
	// Brackets serializes as ids[]=1&ids[]=2.
	Brackets ArrayFormat = "brackets"
	// Repeat serializes as ids=1&ids=2.
	Repeat ArrayFormat = "repeat"
	// Comma serializes as ids=1,2.
	Comma ArrayFormat = "comma"
)

// ErrUnsupportedType is returned for values that have no query representation.
var ErrUnsupportedType = errors.New("unsupported query value type")

// ParseArrayFormat validates s as an [ArrayFormat]. An empty string yields [Brackets].
func ParseArrayFormat(s string) (ArrayFormat, error) {
	switch f := ArrayFormat(strings.ToLower(s)); f {
	case "":
		return Brackets, nil
	case Indices, Brackets, Repeat, Comma:
		return f, nil
	default:
		return "", fmt.Errorf("unknown array format %q", s)
	}
}

// DateSerializer renders a time value for the query string.
type DateSerializer func(time.Time) string

// ISODate renders t in UTC with millisecond precision, e.g. 2024-01-01T00:00:00.000Z.
func ISODate(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// Encoder serializes structured values into a query string.
// The zero value uses [Brackets] and [ISODate].
type Encoder struct {
	Format ArrayFormat
	Date   DateSerializer
}

type pair struct {
	key string
	val string
	raw bool // val is already escaped
}

var (
	timeType          = reflect.TypeFor[time.Time]()
	valuesType        = reflect.TypeFor[url.Values]()
	numberType        = reflect.TypeFor[json.Number]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
)

// Encode serializes v. Supported roots are nil, [url.Values], maps with
// string keys and structs (or pointers to them). Struct fields are named by
// their `query` tag, falling back to the `json` tag and then the field name;
// "-" skips a field and ",omitempty" drops zero values.
func (e Encoder) Encode(v any) (string, error) {
	if v == nil {
		return "", nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return "", nil
		}
		rv = rv.Elem()
	}

	if rv.Type() == valuesType {
		return e.encodeValues(rv.Interface().(url.Values)), nil
	}

	switch rv.Kind() {
	case reflect.Map, reflect.Struct:
	default:
		return "", fmt.Errorf("root %s: %w", rv.Type(), ErrUnsupportedType)
	}

	var pairs []pair
	if err := e.walk(&pairs, "", rv); err != nil {
		return "", err
	}

	return join(pairs), nil
}

func (e Encoder) encodeValues(vals url.Values) string {
	var pairs []pair
	for _, k := range slices.Sorted(maps.Keys(vals)) {
		vs := vals[k]
		switch len(vs) {
		case 0:
			continue
		case 1:
			pairs = append(pairs, pair{key: k, val: vs[0]})
			continue
		}
		elems := make([]reflect.Value, len(vs))
		for i := range vs {
			elems[i] = reflect.ValueOf(vs[i])
		}
		_ = e.walkList(&pairs, k, elems)
	}

	return join(pairs)
}

func (e Encoder) walk(pairs *[]pair, prefix string, rv reflect.Value) error {
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	if s, ok, err := e.scalar(rv); ok || err != nil {
		if err != nil {
			return fmt.Errorf("key %q: %w", prefix, err)
		}
		*pairs = append(*pairs, pair{key: prefix, val: s})
		return nil
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("key %q: map key %s: %w", prefix, rv.Type().Key(), ErrUnsupportedType)
		}
		keys := rv.MapKeys()
		slices.SortFunc(keys, func(a, b reflect.Value) int { return strings.Compare(a.String(), b.String()) })
		for _, k := range keys {
			if err := e.walk(pairs, child(prefix, k.String()), rv.MapIndex(k)); err != nil {
				return err
			}
		}
		return nil

	case reflect.Struct:
		rt := rv.Type()
		for i := range rt.NumField() {
			f := rt.Field(i)
			if !f.IsExported() {
				continue
			}
			name, omitEmpty, skip := fieldName(f)
			if skip {
				continue
			}
			fv := rv.Field(i)
			if omitEmpty && fv.IsZero() {
				continue
			}
			if err := e.walk(pairs, child(prefix, name), fv); err != nil {
				return err
			}
		}
		return nil

	case reflect.Slice, reflect.Array:
		elems := make([]reflect.Value, rv.Len())
		for i := range elems {
			elems[i] = rv.Index(i)
		}
		return e.walkList(pairs, prefix, elems)
	}

	return fmt.Errorf("key %q: %s: %w", prefix, rv.Type(), ErrUnsupportedType)
}

func (e Encoder) walkList(pairs *[]pair, prefix string, elems []reflect.Value) error {
	if len(elems) == 0 {
		return nil
	}

	switch e.format() {
	case Comma:
		parts := make([]string, 0, len(elems))
		for _, el := range elems {
			s, ok, err := e.scalar(indirect(el))
			if err != nil {
				return fmt.Errorf("key %q: %w", prefix, err)
			}
			if !ok {
				// Non-scalar members fall back to repeated keys.
				if err := e.walk(pairs, prefix, el); err != nil {
					return err
				}
				continue
			}
			parts = append(parts, escape(s))
		}
		if len(parts) > 0 {
			*pairs = append(*pairs, pair{key: prefix, val: strings.Join(parts, ","), raw: true})
		}
		return nil

	case Indices:
		for i, el := range elems {
			if err := e.walk(pairs, prefix+"["+strconv.Itoa(i)+"]", el); err != nil {
				return err
			}
		}
		return nil

	case Repeat:
		for _, el := range elems {
			if err := e.walk(pairs, prefix, el); err != nil {
				return err
			}
		}
		return nil

	default:
		for _, el := range elems {
			if err := e.walk(pairs, prefix+"[]", el); err != nil {
				return err
			}
		}
		return nil
	}
}

// scalar renders rv when it is a leaf value. ok is false for containers.
func (e Encoder) scalar(rv reflect.Value) (string, bool, error) {
	if !rv.IsValid() {
		return "", false, nil
	}

	switch rv.Type() {
	case timeType:
		return e.date(rv.Interface().(time.Time)), true, nil
	case numberType:
		return rv.String(), true, nil
	}

	if rv.Kind() != reflect.Pointer && rv.Type().Implements(textMarshalerType) {
		b, err := rv.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return "", false, err
		}
		return string(b), true, nil
	}

	switch rv.Kind() {
	case reflect.String:
		return rv.String(), true, nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), true, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), true, nil
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 32), true, nil
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), true, nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return string(rv.Bytes()), true, nil
		}
	}

	return "", false, nil
}

func (e Encoder) format() ArrayFormat {
	if e.Format == "" {
		return Brackets
	}
	return e.Format
}

func (e Encoder) date(t time.Time) string {
	if e.Date == nil {
		return ISODate(t)
	}
	return e.Date(t)
}

// Append adds the encoded query qs to path. It uses "?" when path has no
// query yet, "&" when it already carries one, and nothing when path ends
// with a bare "?".
func Append(path, qs string) string {
	if qs == "" {
		return path
	}

	switch i := strings.IndexByte(path, '?'); {
	case i == -1:
		return path + "?" + qs
	case i < len(path)-1:
		return path + "&" + qs
	default:
		return path + qs
	}
}

func join(pairs []pair) string {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(escape(p.key))
		b.WriteByte('=')
		if p.raw {
			b.WriteString(p.val)
			continue
		}
		b.WriteString(escape(p.val))
	}

	return b.String()
}

func child(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "[" + key + "]"
}

func indirect(rv reflect.Value) reflect.Value {
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}

func fieldName(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag, ok := f.Tag.Lookup("query")
	if !ok {
		tag = f.Tag.Get("json")
	}
	if tag == "-" {
		return "", false, true
	}

	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}

	return name, slices.Contains(strings.Split(opts, ","), "omitempty"), false
}

// escape percent-encodes s for a query component. Unreserved characters
// and the sub-delimiters that are unambiguous inside a query (":", "@",
// "/", "?", "[" and "]") are left as is.
func escape(s string) string {
	const hex = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if keep(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&15])
	}

	return b.String()
}

func keep(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}

	switch c {
	case '-', '_', '.', '~', ':', '@', '/', '?', '[', ']':
		return true
	}

	return false
}
