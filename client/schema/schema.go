// Package schema validates request and response payloads against Go types
// annotated with `validate` struct tags.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var validate *validator.Validate
var translator ut.Translator

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	var ok bool
	translator, ok = ut.New(en.New(), en.New()).GetTranslator("en")
	if !ok {
		panic("schema: failed to get 'en' translator")
	}

	if err := en_translations.RegisterDefaultTranslations(validate, translator); err != nil {
		panic(err)
	}

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}

		return name
	})
}

// Schema parses a value into its validated form or reports why it cannot.
type Schema interface {
	Parse(v any) (any, error)
}

// Func adapts an ordinary function to a [Schema].
type Func func(v any) (any, error)

// Parse calls f(v).
func (f Func) Parse(v any) (any, error) {
	return f(v)
}

// Of is a [Schema] producing values of type T.
type Of[T any] struct{}

// For returns the [Schema] for T.
func For[T any]() Of[T] {
	return Of[T]{}
}

// Parse converts v into a T and checks its `validate` tags.
//
// v may already be a T or *T, raw JSON ([]byte, [json.RawMessage]), or any
// JSON-encodable value, which is re-decoded into T. Unknown fields are
// ignored.
func (Of[T]) Parse(v any) (any, error) {
	var out T

	switch x := v.(type) {
	case T:
		out = x
	case *T:
		if x == nil {
			return nil, FieldErrors{{Err: "value is required"}}
		}
		out = *x
	case json.RawMessage:
		if err := decode(x, &out); err != nil {
			return nil, err
		}
	case []byte:
		if err := decode(x, &out); err != nil {
			return nil, err
		}
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal for validation: %w", err)
		}
		if err := decode(b, &out); err != nil {
			return nil, err
		}
	}

	if err := Validate(out); err != nil {
		return nil, err
	}

	return out, nil
}

// Validate checks val's `validate` tags. Values that are not structs, or
// pointers to structs, are accepted as is.
func Validate(val any) error {
	rv := reflect.ValueOf(val)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	if err := validate.Struct(val); err != nil {
		var verrors validator.ValidationErrors
		if !errors.As(err, &verrors) {
			return err
		}

		var fields FieldErrors
		for _, verror := range verrors {
			field := FieldError{
				Field: fieldPath(verror.Namespace()),
				Err:   customErrForTag(verror.Tag(), verror),
			}
			fields = append(fields, field)
		}
		return fields
	}

	return nil
}

func decode(data []byte, dst any) error {
	d := json.NewDecoder(bytes.NewReader(data))
	if err := d.Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return FieldErrors{{
				Field: typeErr.Field,
				Err:   fmt.Sprintf("Invalid input: expected %s, received %s", typeName(typeErr.Type), typeErr.Value),
			}}
		}

		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return FieldErrors{{Err: "Invalid JSON: " + syntaxErr.Error()}}
		}

		return FieldErrors{{Err: "Invalid input: " + err.Error()}}
	}

	return nil
}

func typeName(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	default:
		return t.String()
	}
}

// fieldPath drops the root type name from a validator namespace.
func fieldPath(ns string) string {
	_, path, ok := strings.Cut(ns, ".")
	if !ok {
		return ns
	}
	return path
}

func customErrForTag(tag string, verror validator.FieldError) string {
	switch tag {
	case "required":
		return "This field is required"
	default:
		return verror.Translate(translator)
	}
}
