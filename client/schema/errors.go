package schema

import (
	"errors"
	"strings"
)

// FieldError represents a single validation error for a specific field.
type FieldError struct {
	Field string `json:"field"`
	Err   string `json:"error"`
}

// FieldErrors represents a collection of field errors.
type FieldErrors []FieldError

// Error implements the error interface, returning a human-readable
// summary of all field errors.
func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, f := range fe {
		if f.Field == "" {
			parts[i] = f.Err
			continue
		}
		parts[i] = f.Field + ": " + f.Err
	}
	return strings.Join(parts, "; ")
}

// Fields returns the fields that failed validation.
func (fe FieldErrors) Fields() map[string]string {
	m := make(map[string]string, len(fe))
	for _, fld := range fe {
		m[fld.Field] = fld.Err
	}
	return m
}

// Prettify renders err as a multi-line, human-readable report:
//
//	✖ This field is required
//	  → at name
//
// Errors that are not [FieldErrors] are rendered with their message.
func Prettify(err error) string {
	if err == nil {
		return ""
	}

	var fe FieldErrors
	if !errors.As(err, &fe) {
		return "✖ " + err.Error()
	}

	var b strings.Builder
	for i, f := range fe {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("✖ ")
		b.WriteString(f.Err)
		if f.Field != "" {
			b.WriteString("\n  → at ")
			b.WriteString(f.Field)
		}
	}

	return b.String()
}
