package tool

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// ValidationError reports the first contract violation found in a tool input.
type ValidationError struct {
	Field      string
	Constraint string
	Message    string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Constraint names reported by ValidationError.
const (
	ConstraintObject   = "object"
	ConstraintRequired = "required"
	ConstraintType     = "type"
	ConstraintNonEmpty = "non_empty"
	ConstraintURL      = "url"
	ConstraintInteger  = "integer"
	ConstraintMin      = "min"
	ConstraintMax      = "max"
)

// Validate checks input against schema and returns the coerced input: only
// declared fields are kept, numbers are normalized to float64 (integers to
// int), and defaults are applied to absent optional fields. An explicit null
// is a type error, not an absent field.
//
// A nil input is treated as an empty object. On failure the returned error is
// a *ToolError with code VALIDATION_FAILED wrapping a *ValidationError.
func Validate(schema map[string]FieldSpec, input any) (map[string]any, error) {
	raw, err := asObject(input)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make(map[string]any, len(schema))
	for _, name := range names {
		spec := schema[name]
		value, present := raw[name]
		if !present {
			if spec.Default != nil {
				out[name] = spec.Default
				continue
			}
			if spec.Required {
				return nil, validationFailure(name, ConstraintRequired, "is required")
			}
			continue
		}

		coerced, err := validateField(name, spec, value)
		if err != nil {
			return nil, err
		}
		out[name] = coerced
	}
	return out, nil
}

func asObject(input any) (map[string]any, error) {
	switch v := input.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case json.RawMessage:
		if len(v) == 0 {
			return map[string]any{}, nil
		}
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return nil, validationFailure("", ConstraintObject, "input must be a JSON object")
		}
		return asObject(decoded)
	default:
		return nil, validationFailure("", ConstraintObject, "input must be an object")
	}
}

func validateField(name string, spec FieldSpec, value any) (any, error) {
	switch spec.Type {
	case TypeString:
		return validateString(name, spec, value)
	case TypeInteger, TypeNumber:
		return validateNumber(name, spec, value)
	default:
		return value, nil
	}
}

func validateString(name string, spec FieldSpec, value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, validationFailure(name, ConstraintType, fmt.Sprintf("expected string, got %s", describeType(value)))
	}
	if spec.NonEmpty && s == "" {
		return nil, validationFailure(name, ConstraintNonEmpty, "must not be empty")
	}
	if spec.Format == FormatURL && !isAbsoluteURL(s) {
		return nil, validationFailure(name, ConstraintURL, fmt.Sprintf("invalid url %q", s))
	}
	return s, nil
}

func isAbsoluteURL(raw string) bool {
	if strings.TrimSpace(raw) != raw || raw == "" {
		return false
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return parsed.Scheme != "" && parsed.Host != ""
}

func validateNumber(name string, spec FieldSpec, value any) (any, error) {
	n, ok := toFloat(value)
	if !ok {
		return nil, validationFailure(name, ConstraintType, fmt.Sprintf("expected %s, got %s", spec.Type, describeType(value)))
	}
	if spec.Type == TypeInteger && n != math.Trunc(n) {
		return nil, validationFailure(name, ConstraintInteger, fmt.Sprintf("expected integer, got %v", n))
	}
	if spec.Min != nil && n < *spec.Min {
		return nil, validationFailure(name, ConstraintMin, fmt.Sprintf("must be >= %v, got %v", *spec.Min, n))
	}
	if spec.Max != nil && n > *spec.Max {
		return nil, validationFailure(name, ConstraintMax, fmt.Sprintf("must be <= %v, got %v", *spec.Max, n))
	}
	if spec.Type == TypeInteger {
		return int(n), nil
	}
	return n, nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	case float32:
		f := float64(v)
		return f, !math.IsNaN(f) && !math.IsInf(f, 0)
	case json.Number:
		f, err := strconv.ParseFloat(v.String(), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	}
	return 0, false
}

func describeType(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	if _, ok := toFloat(value); ok {
		return "number"
	}
	return fmt.Sprintf("%T", value)
}

func validationFailure(field, constraint, message string) error {
	verr := &ValidationError{Field: field, Constraint: constraint, Message: message}
	toolErr := NewToolError(ToolErrorCodeValidationFailed, verr.Error(), verr)
	if field != "" {
		toolErr = withToolErrorDetails(toolErr, map[string]any{
			"field":      field,
			"constraint": constraint,
		})
	}
	return toolErr
}
