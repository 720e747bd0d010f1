package config

import (
	"cmp"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"
)

// Type is a predicate describing acceptable values for a configuration leaf.
type Type struct {
	// Name describes the type in error messages.
	Name string
	// Match reports whether a value is acceptable.
	Match func(v any) bool
}

// TypeOf returns a Type accepting values of dynamic type T.
func TypeOf[T any]() Type {
	return Type{
		Name: reflect.TypeFor[T]().String(),
		Match: func(v any) bool {
			_, ok := v.(T)
			return ok
		},
	}
}

var (
	String   = TypeOf[string]()
	Bool     = TypeOf[bool]()
	Duration = TypeOf[time.Duration]()
	Strings  = TypeOf[[]string]()
	// Func accepts functions of any signature.
	Func = Type{
		Name: "function",
		Match: func(v any) bool {
			return v != nil && reflect.TypeOf(v).Kind() == reflect.Func
		},
	}
	// Int accepts integers of any size. Decoders disagree on which integer
	// type they produce.
	Int = Type{Name: "integer", Match: isInt}
	// Float accepts floating-point numbers and integers.
	Float = Type{
		Name: "number",
		Match: func(v any) bool {
			switch v.(type) {
			case float32, float64:
				return true
			}
			return isInt(v)
		},
	}
)

func isInt(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// OneOf returns a Type accepting exactly the given values.
func OneOf(vals ...any) Type {
	s := make([]string, len(vals))
	for i, v := range vals {
		s[i] = fmt.Sprint(v)
	}
	return Type{
		Name: "one of " + strings.Join(s, ", "),
		Match: func(v any) bool {
			for _, x := range vals {
				t := reflect.TypeOf(x)
				if reflect.TypeOf(v) == t && (t == nil || t.Comparable()) && v == x {
					return true
				}
			}
			return false
		},
	}
}

// Range returns a Type accepting values of type T in the closed interval
// [lo, hi]. Integers of other sizes are converted when T is an integer type.
func Range[T cmp.Ordered](lo, hi T) Type {
	return Type{
		Name: fmt.Sprintf("%v..%v", lo, hi),
		Match: func(v any) bool {
			x, ok := convert[T](v)
			if !ok {
				return false
			}
			return lo <= x && x <= hi
		},
	}
}

// Pattern returns a Type accepting strings matched by re.
func Pattern(re *regexp.Regexp) Type {
	return Type{
		Name: "matching " + re.String(),
		Match: func(v any) bool {
			s, ok := v.(string)
			return ok && re.MatchString(s)
		},
	}
}

// matches reports whether v is acceptable for types.
// An empty list of types accepts anything.
func matches(types []Type, v any) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if t.Match(v) {
			return true
		}
	}
	return false
}

func typeNames(types []Type) string {
	s := make([]string, len(types))
	for i, t := range types {
		s[i] = t.Name
	}
	return strings.Join(s, " or ")
}

// convert converts v to T if it is a T or a number convertible to T.
func convert[T any](v any) (T, bool) {
	if x, ok := v.(T); ok {
		return x, true
	}
	var zero T
	if v == nil {
		return zero, false
	}
	rv := reflect.ValueOf(v)
	t := reflect.TypeFor[T]()
	if !numeric(rv.Kind()) || !numeric(t.Kind()) || !rv.CanConvert(t) {
		return zero, false
	}
	if isFloat(rv.Kind()) && !isFloat(t.Kind()) {
		// Don't truncate.
		return zero, false
	}
	x := rv.Convert(t)
	if !isFloat(t.Kind()) && !x.Convert(rv.Type()).Equal(rv) {
		// Out of range for T.
		return zero, false
	}
	return x.Interface().(T), true
}

func numeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}
