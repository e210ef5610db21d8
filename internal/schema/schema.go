// Package schema implements the StandardSchema-shaped validator used to
// check tag values and flow input/output against a descriptor.
//
// Validation is synchronous by construction: Validator.Validate returns a
// value directly, never a channel or future, so an asynchronous validator
// cannot be plugged in without also changing this signature — which is the
// behavior spec'd for the schema adapter (asynchronous validation is
// rejected, not merely discouraged).
package schema

import (
	"fmt"
	"reflect"
)

// Issue describes a single validation failure, optionally scoped to a path
// within a nested value (object property, array index).
type Issue struct {
	Message string
	Path    []string
}

func (i Issue) String() string {
	if len(i.Path) > 0 {
		return fmt.Sprintf("%s at %v", i.Message, i.Path)
	}
	return i.Message
}

// Result is what Validate returns: either Value is usable, or Issues is
// non-empty and Value must be ignored.
type Result struct {
	Value  any
	Issues []Issue
}

func (r Result) OK() bool { return len(r.Issues) == 0 }

// Validator validates an untyped value against a schema descriptor.
type Validator interface {
	Validate(value any) Result
}

// Func adapts a plain validation function (the common case: a tag backed
// by a Go type with no further constraint) into a Validator.
type Func func(value any) (any, error)

func (f Func) Validate(value any) Result {
	v, err := f(value)
	if err != nil {
		return Result{Issues: []Issue{{Message: err.Error()}}}
	}
	return Result{Value: v}
}

// Any accepts every value unchanged. Used by tags and flow boundaries that
// declare no constraint.
func Any() Validator { return anyValidator{} }

type anyValidator struct{}

func (anyValidator) Validate(value any) Result { return Result{Value: value} }

// Typed rejects any value that does not already have the concrete type T.
// This is the default validator synthesized by NewTag[T] when the caller
// supplies no explicit schema.
func Typed[T any]() Validator {
	return Func(func(value any) (any, error) {
		if value == nil {
			var zero T
			return zero, nil
		}
		typed, ok := value.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("expected %T, got %T", zero, value)
		}
		return typed, nil
	})
}

// String validates strings against length constraints.
type String struct {
	MinLength int
	MaxLength int
}

func (s *String) Validate(value any) Result {
	str, ok := value.(string)
	if !ok {
		return Result{Issues: []Issue{{Message: "value is not a string"}}}
	}
	var issues []Issue
	if s.MinLength > 0 && len(str) < s.MinLength {
		issues = append(issues, Issue{Message: fmt.Sprintf("length %d below minimum %d", len(str), s.MinLength)})
	}
	if s.MaxLength > 0 && len(str) > s.MaxLength {
		issues = append(issues, Issue{Message: fmt.Sprintf("length %d above maximum %d", len(str), s.MaxLength)})
	}
	if len(issues) > 0 {
		return Result{Issues: issues}
	}
	return Result{Value: str}
}

// Number validates numeric values against range constraints, accepting any
// Go numeric kind; the checks run on a float64 copy and the value is
// returned unchanged.
type Number struct {
	Min, Max         float64
	HasMin, HasMax   bool
	IntegerOnly      bool
}

func (n *Number) Validate(value any) Result {
	num, ok := toFloat64(value)
	if !ok {
		return Result{Issues: []Issue{{Message: "value is not a number"}}}
	}
	var issues []Issue
	if n.HasMin && num < n.Min {
		issues = append(issues, Issue{Message: fmt.Sprintf("%v below minimum %v", num, n.Min)})
	}
	if n.HasMax && num > n.Max {
		issues = append(issues, Issue{Message: fmt.Sprintf("%v above maximum %v", num, n.Max)})
	}
	if n.IntegerOnly && float64(int64(num)) != num {
		issues = append(issues, Issue{Message: "value must be an integer"})
	}
	if len(issues) > 0 {
		return Result{Issues: issues}
	}
	return Result{Value: value}
}

func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// Object validates a map[string]any against required keys and per-key schemas.
type Object struct {
	Properties map[string]Validator
	Required   []string
}

func (o *Object) Validate(value any) Result {
	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Map {
		return Result{Issues: []Issue{{Message: "value is not an object"}}}
	}

	var issues []Issue
	out := make(map[string]any, val.Len())

	for _, key := range val.MapKeys() {
		k := fmt.Sprint(key.Interface())
		propVal := val.MapIndex(key).Interface()
		if v, ok := o.Properties[k]; ok {
			res := v.Validate(propVal)
			if !res.OK() {
				for _, iss := range res.Issues {
					iss.Path = append([]string{k}, iss.Path...)
					issues = append(issues, iss)
				}
				continue
			}
			out[k] = res.Value
		} else {
			out[k] = propVal
		}
	}

	for _, req := range o.Required {
		if _, ok := out[req]; !ok {
			issues = append(issues, Issue{Message: fmt.Sprintf("required property %q missing", req)})
		}
	}

	if len(issues) > 0 {
		return Result{Issues: issues}
	}
	return Result{Value: out}
}
