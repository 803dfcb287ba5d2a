package serializer

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"
)

// Placeholder replaces values that have no JSON-safe representation
// (functions, channels, complex numbers, NaN, failing marshalers).
const Placeholder = "[unserializable]"

// Truncated replaces values nested deeper than the normalizer's MaxDepth.
const Truncated = "[...]"

// DefaultMaxDepth bounds recursion; pointer cycles end here too.
const DefaultMaxDepth = 10

// Normalizer converts arbitrary application values into a tree made only of
// nil, bool, int64, uint64, float64, string, []any and map[string]any.
// It never fails: anything it cannot represent becomes Placeholder.
type Normalizer struct {
	MaxDepth int
}

var defaultNormalizer = Normalizer{MaxDepth: DefaultMaxDepth}

// Normalize runs the default normalizer over v.
func Normalize(v any) any {
	return defaultNormalizer.Normalize(v)
}

// NormalizeMap normalizes every value of m. A nil map stays nil.
func NormalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out, _ := defaultNormalizer.Normalize(m).(map[string]any)
	return out
}

// NormalizeSlice normalizes every element of s. A nil slice stays nil.
func NormalizeSlice(s []any) []any {
	if s == nil {
		return nil
	}
	out, _ := defaultNormalizer.Normalize(s).([]any)
	return out
}

// Normalize converts v into its JSON-safe form.
func (n Normalizer) Normalize(v any) any {
	depth := n.MaxDepth
	if depth <= 0 {
		depth = DefaultMaxDepth
	}
	return n.normalize(reflect.ValueOf(v), depth)
}

var (
	timeType      = reflect.TypeOf(time.Time{})
	durationType  = reflect.TypeOf(time.Duration(0))
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
	marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
)

func (n Normalizer) normalize(v reflect.Value, depth int) any {
	if !v.IsValid() {
		return nil
	}
	if depth < 0 {
		return Truncated
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
	}

	t := v.Type()
	switch {
	case t == timeType:
		return v.Interface().(time.Time).Format(time.RFC3339Nano)
	case t == durationType:
		return v.Interface().(time.Duration).String()
	case t.Implements(errorType) && v.CanInterface():
		return v.Interface().(error).Error()
	case t.Implements(marshalerType) && v.CanInterface() && t.Kind() != reflect.Interface:
		return n.viaJSON(v.Interface(), depth)
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Placeholder
		}
		return f
	case reflect.String:
		return v.String()
	case reflect.Pointer:
		// every pointer hop counts, so cycles through pointers and
		// interfaces alone still hit the depth limit
		return n.normalize(v.Elem(), depth-1)
	case reflect.Interface:
		return n.normalize(v.Elem(), depth)
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if t.Elem().Kind() == reflect.Uint8 {
			b := v.Bytes()
			if utf8.Valid(b) {
				return string(b)
			}
			return Placeholder
		}
		return n.sequence(v, depth)
	case reflect.Array:
		return n.sequence(v, depth)
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[mapKey(iter.Key())] = n.normalize(iter.Value(), depth-1)
		}
		return out
	case reflect.Struct:
		return n.structFields(v, depth)
	default:
		// func, chan, complex, unsafe pointer
		return Placeholder
	}
}

func (n Normalizer) sequence(v reflect.Value, depth int) []any {
	out := make([]any, v.Len())
	for i := range out {
		out[i] = n.normalize(v.Index(i), depth-1)
	}
	return out
}

func (n Normalizer) structFields(v reflect.Value, depth int) map[string]any {
	t := v.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		out[name] = n.normalize(v.Field(i), depth-1)
	}
	return out
}

func (n Normalizer) viaJSON(v any, depth int) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return Placeholder
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Placeholder
	}
	return n.normalize(reflect.ValueOf(decoded), depth)
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.Interface && !k.IsNil() {
		k = k.Elem()
	}
	if k.Kind() == reflect.String {
		return k.String()
	}
	if k.CanInterface() {
		return fmt.Sprint(k.Interface())
	}
	return Placeholder
}
