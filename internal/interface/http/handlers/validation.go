package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned by DecodeAndValidate for malformed or invalid bodies.
type ValidationError struct {
	Message string
	Fields  []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Message)
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names instead of Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validator returns the shared request validator.
func Validator() *validator.Validate {
	return validate
}

// DecodeAndValidate reads a JSON body into dst and validates it.
// An empty body is treated as an empty object.
func DecodeAndValidate(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return &ValidationError{Message: "invalid JSON body", Fields: []FieldError{{Message: err.Error()}}}
	}

	if err := validate.Struct(dst); err != nil {
		return &ValidationError{Message: "validation failed", Fields: FormatValidationErrors(err)}
	}
	return nil
}

// FormatValidationErrors converts validator errors into field messages.
func FormatValidationErrors(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		var msg string
		switch fe.Tag() {
		case "required":
			msg = fe.Field() + " is required"
		case "min":
			msg = fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
		case "max":
			msg = fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
		case "oneof":
			msg = fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
		default:
			msg = fe.Field() + " is invalid"
		}
		out = append(out, FieldError{Field: fe.Field(), Message: msg})
	}
	return out
}
