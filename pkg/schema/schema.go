// Package schema provides a small, composable set of value validators used
// to check an untyped args map (taski.RunCtx.ValidateArgs) against
// declared shape before a task ever reads from it.
package schema

import (
	"fmt"
	"reflect"
)

// ValidationError reports a single validation failure and the path (map
// keys / indices) that led to it, outermost segment first: each enclosing
// Array/Object validator prepends its own segment as the error unwinds.
type ValidationError struct {
	Message string
	Path    []string
}

func (e *ValidationError) Error() string {
	if len(e.Path) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s at path %v", e.Message, e.Path)
}

// at returns a copy of e with segment prepended to Path, used while an
// error unwinds back up through nested Array/Object validators.
func (e *ValidationError) at(segment string) *ValidationError {
	path := make([]string, 0, len(e.Path)+1)
	path = append(path, segment)
	path = append(path, e.Path...)
	return &ValidationError{Message: e.Message, Path: path}
}

func fail(format string, args ...any) (any, error) {
	return nil, &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// withPath prepends segment to err's path if it's a *ValidationError,
// otherwise returns it unchanged.
func withPath(err error, segment string) error {
	ve, ok := err.(*ValidationError)
	if !ok {
		return err
	}
	return ve.at(segment)
}

// Schema validates a value, returning a (possibly coerced) copy of it on
// success.
type Schema interface {
	Validate(value any) (any, error)
}

// StringSchema validates strings by length bounds.
type StringSchema struct {
	MinLength int
	MaxLength int
}

// String creates an unconstrained string schema.
func String() *StringSchema {
	return &StringSchema{}
}

// Min sets the minimum accepted length and returns the schema for chaining.
func (s *StringSchema) Min(n int) *StringSchema {
	s.MinLength = n
	return s
}

// Max sets the maximum accepted length and returns the schema for chaining.
func (s *StringSchema) Max(n int) *StringSchema {
	s.MaxLength = n
	return s
}

func (s *StringSchema) Validate(value any) (any, error) {
	str, ok := value.(string)
	if !ok {
		return fail("value is not a string")
	}
	if s.MinLength > 0 && len(str) < s.MinLength {
		return fail("string length %d is below the minimum of %d", len(str), s.MinLength)
	}
	if s.MaxLength > 0 && len(str) > s.MaxLength {
		return fail("string length %d exceeds the maximum of %d", len(str), s.MaxLength)
	}
	return str, nil
}

// NumberSchema validates any numeric kind, normalizing it to float64.
type NumberSchema struct {
	Min, Max       float64
	hasMin, hasMax bool
	Positive       bool
	Negative       bool
	Integer        bool
}

// Number creates an unconstrained number schema.
func Number() *NumberSchema {
	return &NumberSchema{}
}

// Range constrains the accepted value to [min, max] and returns the
// schema for chaining.
func (s *NumberSchema) Range(min, max float64) *NumberSchema {
	s.Min, s.hasMin = min, true
	s.Max, s.hasMax = max, true
	return s
}

// asFloat64 coerces any of Go's numeric kinds to float64 via reflection,
// replacing the original type-switch-per-kind listing with one reflect
// path shared by every integer/float width.
func asFloat64(value any) (float64, bool) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	default:
		return 0, false
	}
}

func (s *NumberSchema) Validate(value any) (any, error) {
	num, ok := asFloat64(value)
	if !ok {
		return fail("value is not a number")
	}
	if s.hasMin && num < s.Min {
		return fail("number %g is below the minimum of %g", num, s.Min)
	}
	if s.hasMax && num > s.Max {
		return fail("number %g exceeds the maximum of %g", num, s.Max)
	}
	if s.Positive && num <= 0 {
		return fail("number must be positive")
	}
	if s.Negative && num >= 0 {
		return fail("number must be negative")
	}
	if s.Integer && num != float64(int64(num)) {
		return fail("number must be an integer")
	}
	return num, nil
}

// BooleanSchema validates booleans.
type BooleanSchema struct{}

// Boolean creates a boolean schema.
func Boolean() *BooleanSchema {
	return &BooleanSchema{}
}

func (s *BooleanSchema) Validate(value any) (any, error) {
	b, ok := value.(bool)
	if !ok {
		return fail("value is not a boolean")
	}
	return b, nil
}

// ArraySchema validates a slice or array, optionally validating each item
// against ItemSchema.
type ArraySchema struct {
	ItemSchema         Schema
	MinItems, MaxItems int
}

// Array creates an array schema that validates each item against item,
// which may be nil to accept items of any shape.
func Array(item Schema) *ArraySchema {
	return &ArraySchema{ItemSchema: item}
}

func (s *ArraySchema) Validate(value any) (any, error) {
	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Slice && val.Kind() != reflect.Array {
		return fail("value is not an array")
	}

	n := val.Len()
	if s.MinItems > 0 && n < s.MinItems {
		return fail("array length %d is below the minimum of %d", n, s.MinItems)
	}
	if s.MaxItems > 0 && n > s.MaxItems {
		return fail("array length %d exceeds the maximum of %d", n, s.MaxItems)
	}
	if s.ItemSchema == nil {
		return value, nil
	}

	out := reflect.MakeSlice(val.Type(), 0, n)
	for i := 0; i < n; i++ {
		validated, err := s.ItemSchema.Validate(val.Index(i).Interface())
		if err != nil {
			return nil, withPath(err, fmt.Sprintf("[%d]", i))
		}
		out = reflect.Append(out, reflect.ValueOf(validated))
	}
	return out.Interface(), nil
}

// ObjectSchema validates a map[string]any or struct's named fields.
type ObjectSchema struct {
	Properties map[string]Schema
	Required   []string
}

// Object creates an object schema over the given property schemas. Use
// Object(...).MustHave(...) to mark properties required.
func Object(properties map[string]Schema) *ObjectSchema {
	return &ObjectSchema{Properties: properties}
}

// MustHave marks the given property names required and returns the schema
// for chaining.
func (s *ObjectSchema) MustHave(names ...string) *ObjectSchema {
	s.Required = append(s.Required, names...)
	return s
}

func (s *ObjectSchema) required(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

func (s *ObjectSchema) Validate(value any) (any, error) {
	val := reflect.ValueOf(value)
	switch val.Kind() {
	case reflect.Map:
		return s.validateMap(val)
	case reflect.Struct:
		return s.validateStruct(val)
	default:
		return fail("value is not an object")
	}
}

func (s *ObjectSchema) validateMap(val reflect.Value) (any, error) {
	out := reflect.MakeMap(val.Type())
	for name, propSchema := range s.Properties {
		key := reflect.ValueOf(name)
		prop := val.MapIndex(key)
		if !prop.IsValid() {
			if s.required(name) {
				return fail("required property %q is missing", name)
			}
			continue
		}
		validated, err := propSchema.Validate(prop.Interface())
		if err != nil {
			return nil, withPath(err, name)
		}
		out.SetMapIndex(key, reflect.ValueOf(validated))
	}
	return out.Interface(), nil
}

func (s *ObjectSchema) validateStruct(val reflect.Value) (any, error) {
	out := reflect.New(val.Type()).Elem()
	for name, propSchema := range s.Properties {
		field := val.FieldByName(name)
		if !field.IsValid() {
			if s.required(name) {
				return fail("required property %q is missing", name)
			}
			continue
		}
		validated, err := propSchema.Validate(field.Interface())
		if err != nil {
			return nil, withPath(err, name)
		}
		out.FieldByName(name).Set(reflect.ValueOf(validated))
	}
	return out.Interface(), nil
}

// CustomSchema accepts any value unchanged; Custom's type parameter exists
// only to let a caller spell out the expected Go type at the call site.
type CustomSchema struct{}

// Custom creates a schema that accepts any value.
func Custom[T any]() Schema {
	return &CustomSchema{}
}

func (s *CustomSchema) Validate(value any) (any, error) {
	return value, nil
}
